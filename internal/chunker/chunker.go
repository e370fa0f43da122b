// Package chunker splits extracted source text into overlapping,
// token-bounded pieces with sentence-boundary snapping.
package chunker

import "unicode/utf8"

// CharsPerToken is the fixed approximation used to convert between
// character and token lengths.
const CharsPerToken = 4

// boundaryFraction is how far into a window a sentence boundary must fall
// for the window to be trimmed there instead of cutting mid-sentence.
const boundaryFraction = 0.7

// Piece is one chunk of the input text. Offsets are byte positions into
// the original string.
type Piece struct {
	Text        string
	TokenCount  int
	StartOffset int
	EndOffset   int
}

// Split walks text in windows of maxTokens*CharsPerToken characters,
// snapping each window back to the last sentence terminator or newline when
// one falls past 70% of the window, and advancing by the window length minus
// the overlap. It is a pure function; empty input yields no pieces.
func Split(text string, maxTokens, overlapTokens int) []Piece {
	if text == "" || maxTokens <= 0 {
		return nil
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}

	windowChars := maxTokens * CharsPerToken
	overlapChars := overlapTokens * CharsPerToken

	var pieces []Piece
	start := 0
	for start < len(text) {
		end := start + windowChars
		if end >= len(text) {
			end = len(text)
		} else {
			// Never cut inside a multi-byte rune.
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if b := lastBoundary(text, start, end); b > start {
				// Trim at the boundary only when it keeps most of the window;
				// otherwise a long sentence would collapse the yield.
				if float64(b-start) > boundaryFraction*float64(end-start) {
					end = b
				}
			}
		}

		piece := text[start:end]
		pieces = append(pieces, Piece{
			Text:        piece,
			TokenCount:  tokenEstimate(piece),
			StartOffset: start,
			EndOffset:   end,
		})
		if end >= len(text) {
			break
		}

		advance := (end - start) - overlapChars
		if advance <= 0 {
			// Degenerate window: overlap swallows the whole advance.
			break
		}
		start += advance
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
	}
	return pieces
}

// lastBoundary returns the position just after the last sentence terminator
// or newline in text[start:end], or start when there is none.
func lastBoundary(text string, start, end int) int {
	for i := end - 1; i >= start; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return start
}

func tokenEstimate(s string) int {
	n := len(s) / CharsPerToken
	if len(s)%CharsPerToken != 0 {
		n++
	}
	return n
}
