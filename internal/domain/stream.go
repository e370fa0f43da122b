package domain

// Stream event types emitted during section generation.
const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one frame of a generation stream: a token, the terminal
// done marker, or a terminal error. Exactly one terminal event ends every
// stream.
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// Prompt is the assembled input for one section generation request.
type Prompt struct {
	Objective string           `json:"objective"`
	Guidance  string           `json:"guidance,omitempty"`
	Evidence  []RetrievedChunk `json:"evidence,omitempty"`
	MaxTokens int              `json:"max_tokens"`
}
