// Package service wires the drafting pipeline together: ingestion of
// source material into searchable evidence, and retrieval-augmented
// section generation with autosaving draft sessions.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/chunker"
	"github.com/inkwell-labs/inkwell/internal/domain"
)

// ChunkWriter persists source chunks.
type ChunkWriter interface {
	PutChunks(ctx context.Context, chunks []domain.SourceChunk) error
}

// Embedder embeds chunk texts in order. *embedding.Batcher satisfies this.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float64, error)
}

// IngestConfig tunes chunking during ingestion.
type IngestConfig struct {
	MaxTokens     int
	OverlapTokens int
}

// IngestService turns uploaded source text into embedded, stored chunks.
type IngestService struct {
	chunks   ChunkWriter
	embedder Embedder
	cfg      IngestConfig
	log      *zap.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(chunks ChunkWriter, embedder Embedder, cfg IngestConfig, log *zap.Logger) *IngestService {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IngestService{chunks: chunks, embedder: embedder, cfg: cfg, log: log}
}

// IngestSource chunks, embeds, and stores one source's text. The whole
// operation fails on any embedding or store error; re-running it recomputes
// and rewrites the same (source, position) rows, so retry is safe.
func (s *IngestService) IngestSource(ctx context.Context, projectID string, paper domain.PaperInput) (domain.IngestResult, error) {
	pieces := chunker.Split(paper.Text, s.cfg.MaxTokens, s.cfg.OverlapTokens)
	if len(pieces) == 0 || strings.TrimSpace(paper.Text) == "" {
		return domain.IngestResult{}, fmt.Errorf("%w: source %s has no extractable text",
			domain.ErrInvalidInput, paper.SourceID)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	vectors, err := s.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("embed source %s: %w", paper.SourceID, err)
	}

	now := time.Now()
	chunks := make([]domain.SourceChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.SourceChunk{
			ID:          uuid.New().String(),
			SourceID:    paper.SourceID,
			ProjectID:   projectID,
			Text:        p.Text,
			Embedding:   vectors[i],
			Position:    i,
			TokenCount:  p.TokenCount,
			StartOffset: p.StartOffset,
			EndOffset:   p.EndOffset,
			CreatedAt:   now,
		}
	}

	if err := s.chunks.PutChunks(ctx, chunks); err != nil {
		return domain.IngestResult{}, fmt.Errorf("store source %s: %w", paper.SourceID, err)
	}

	s.log.Info("source ingested",
		zap.String("project_id", projectID),
		zap.String("source_id", paper.SourceID),
		zap.Int("chunks", len(chunks)),
	)
	return domain.IngestResult{SourceID: paper.SourceID, Title: paper.Title, ChunkCount: len(chunks)}, nil
}

// IngestBatch ingests many papers, continuing past individual failures.
// The returned list holds results for the successes only; each failure is
// logged and dropped rather than aborting the batch.
func (s *IngestService) IngestBatch(ctx context.Context, projectID string, papers []domain.PaperInput) []domain.IngestResult {
	results := make([]domain.IngestResult, 0, len(papers))
	for _, paper := range papers {
		res, err := s.IngestSource(ctx, projectID, paper)
		if err != nil {
			s.log.Warn("paper ingestion failed",
				zap.String("project_id", projectID),
				zap.String("source_id", paper.SourceID),
				zap.Error(err),
			)
			continue
		}
		results = append(results, res)
	}
	return results
}
