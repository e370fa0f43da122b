package domain

import "time"

// SourceChunk is a bounded slice of a source document's extracted text, the
// unit of embedding and retrieval. Chunks are immutable once written;
// re-ingesting the parent source rewrites them by (source_id, position).
type SourceChunk struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	ProjectID   string    `json:"project_id"`
	Text        string    `json:"text"`
	Embedding   []float64 `json:"embedding,omitempty"`
	Position    int       `json:"position"`
	TokenCount  int       `json:"token_count"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	CreatedAt   time.Time `json:"created_at"`
}

// RetrievalQuery is a transient request to rank stored chunks against a
// query string. Limit must be in [1,100].
type RetrievalQuery struct {
	ProjectID string `json:"project_id" binding:"required"`
	SectionID string `json:"section_id"`
	Query     string `json:"query" binding:"required"`
	Limit     int    `json:"limit"`
}

// RetrievedChunk is a SourceChunk annotated with a relevance score and a
// citation label. Produced per request, never stored.
type RetrievedChunk struct {
	SourceChunk
	Score    float64 `json:"score"`
	Citation string  `json:"citation"`
}

// RetrievalResult is the ordered outcome of one retrieval. Degraded is set
// when no stored chunk carried an embedding and positional fallback scoring
// was used instead of vector similarity.
type RetrievalResult struct {
	Chunks   []RetrievedChunk `json:"chunks"`
	Degraded bool             `json:"degraded"`
}

// PaperInput is one source document submitted for ingestion.
type PaperInput struct {
	SourceID string `json:"source_id" binding:"required"`
	Title    string `json:"title"`
	Text     string `json:"text" binding:"required"`
}

// IngestResult reports one successfully ingested source.
type IngestResult struct {
	SourceID   string `json:"source_id"`
	Title      string `json:"title,omitempty"`
	ChunkCount int    `json:"chunk_count"`
}
