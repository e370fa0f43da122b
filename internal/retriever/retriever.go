// Package retriever ranks stored chunks against a query by cosine
// similarity, with a positional fallback for projects that have no
// embeddings yet.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// Limit bounds for a retrieval query.
const (
	MinLimit = 1
	MaxLimit = 100
)

// Retry budgets: total attempts, not additional retries.
const (
	embedAttempts = 3
	storeAttempts = 3
)

// ChunkReader loads the stored chunks of one project.
type ChunkReader interface {
	ChunksForProject(ctx context.Context, projectID string) ([]domain.SourceChunk, error)
}

// QueryEmbedder embeds query text. *embedding.Batcher satisfies this.
type QueryEmbedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float64, error)
}

// Retriever scores a project's chunks against a query string.
type Retriever struct {
	chunks   ChunkReader
	embedder QueryEmbedder
	log      *zap.Logger
}

// New creates a Retriever.
func New(chunks ChunkReader, embedder QueryEmbedder, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{chunks: chunks, embedder: embedder, log: log}
}

// Retrieve returns at most query.Limit chunks ordered by non-increasing
// score. When no stored chunk has an embedding the result is the first
// Limit chunks in stored order with synthetic decaying scores and
// Degraded set; the embedding provider is never called on that path.
func (r *Retriever) Retrieve(ctx context.Context, query domain.RetrievalQuery) (domain.RetrievalResult, error) {
	if strings.TrimSpace(query.Query) == "" {
		return domain.RetrievalResult{}, fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}
	if query.Limit < MinLimit || query.Limit > MaxLimit {
		return domain.RetrievalResult{}, fmt.Errorf("%w: limit %d outside [%d,%d]",
			domain.ErrInvalidInput, query.Limit, MinLimit, MaxLimit)
	}

	chunks, err := r.loadChunks(ctx, query.ProjectID)
	if err != nil {
		return domain.RetrievalResult{}, &domain.RetrievalError{
			Sentinel: domain.ErrRetrievalFailed, Query: query.Query, Err: err,
		}
	}

	var embedded []domain.SourceChunk
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			embedded = append(embedded, c)
		}
	}

	// Cold project: nothing to score against, fall back to stored order so
	// drafting stays usable before ingestion finishes.
	if len(embedded) == 0 {
		r.log.Info("retrieval degraded to positional fallback",
			zap.String("project_id", query.ProjectID),
			zap.Int("chunks", len(chunks)),
		)
		return fallbackResult(chunks, query.Limit), nil
	}

	queryVec, err := r.embedQuery(ctx, query.Query)
	if err != nil {
		return domain.RetrievalResult{}, &domain.RetrievalError{
			Sentinel: domain.ErrAIServiceUnavailable, Query: query.Query, Err: err,
		}
	}

	scored := make([]domain.RetrievedChunk, len(embedded))
	for i, c := range embedded {
		scored[i] = domain.RetrievedChunk{
			SourceChunk: c,
			Score:       cosineSimilarity(queryVec, c.Embedding),
			Citation:    citationLabel(c),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > query.Limit {
		scored = scored[:query.Limit]
	}

	return domain.RetrievalResult{Chunks: scored}, nil
}

func (r *Retriever) loadChunks(ctx context.Context, projectID string) ([]domain.SourceChunk, error) {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		var chunks []domain.SourceChunk
		chunks, err = r.chunks.ChunksForProject(ctx, projectID)
		if err == nil {
			return chunks, nil
		}
		r.log.Warn("chunk load failed",
			zap.String("project_id", projectID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, err
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float64, error) {
	var err error
	for attempt := 1; attempt <= embedAttempts; attempt++ {
		var vectors [][]float64
		vectors, err = r.embedder.EmbedAll(ctx, []string{query})
		if err == nil {
			if len(vectors) != 1 {
				return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
			}
			return vectors[0], nil
		}
		r.log.Warn("query embedding failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, err
}

func fallbackResult(chunks []domain.SourceChunk, limit int) domain.RetrievalResult {
	if len(chunks) > limit {
		chunks = chunks[:limit]
	}
	out := make([]domain.RetrievedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = domain.RetrievedChunk{
			SourceChunk: c,
			Score:       math.Max(0.1, 1-0.1*float64(i)),
			Citation:    citationLabel(c),
		}
	}
	return domain.RetrievalResult{Chunks: out, Degraded: true}
}

func citationLabel(c domain.SourceChunk) string {
	return fmt.Sprintf("%s#%d", c.SourceID, c.Position)
}

// cosineSimilarity is the normalized dot product of a and b, clamped to
// [0,1]. Either vector having zero length yields 0.
func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
