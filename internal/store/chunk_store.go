package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// DefaultWriteBatchSize bounds how many chunks go into one transaction.
const DefaultWriteBatchSize = 500

// ChunkStore persists source chunks. Writes are grouped into bounded
// transactions: a failure in group k leaves groups 1..k-1 committed. That is
// safe because chunk rows are keyed by (source_id, position) and ingestion
// re-runs are upserts.
type ChunkStore struct {
	db        *DB
	batchSize int
}

// NewChunkStore creates a chunk store writing in groups of batchSize rows.
func NewChunkStore(db *DB, batchSize int) *ChunkStore {
	if batchSize <= 0 {
		batchSize = DefaultWriteBatchSize
	}
	return &ChunkStore{db: db, batchSize: batchSize}
}

// PutChunks writes chunks in bounded all-or-nothing groups.
func (s *ChunkStore) PutChunks(ctx context.Context, chunks []domain.SourceChunk) error {
	for from := 0; from < len(chunks); from += s.batchSize {
		to := from + s.batchSize
		if to > len(chunks) {
			to = len(chunks)
		}
		if err := s.putGroup(ctx, chunks[from:to]); err != nil {
			return fmt.Errorf("%w: chunk group [%d,%d): %v", domain.ErrStoreWriteFailed, from, to, err)
		}
	}
	return nil
}

func (s *ChunkStore) putGroup(ctx context.Context, chunks []domain.SourceChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, source_id, project_id, text, embedding,
			position, token_count, start_offset, end_offset, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_id, position) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			token_count = excluded.token_count,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			created_at = excluded.created_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		var embedding any
		if c.Embedding != nil {
			data, err := json.Marshal(c.Embedding)
			if err != nil {
				return err
			}
			embedding = string(data)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, c.ProjectID, c.Text,
			embedding, c.Position, c.TokenCount, c.StartOffset, c.EndOffset, createdAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ChunksForProject returns every chunk stored for a project, in insertion
// order per source.
func (s *ChunkStore) ChunksForProject(ctx context.Context, projectID string) ([]domain.SourceChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, project_id, text, embedding,
			position, token_count, start_offset, end_offset, created_at
		FROM chunks WHERE project_id = ?
		ORDER BY source_id, position
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.SourceChunk
	for rows.Next() {
		var c domain.SourceChunk
		var embedding sql.NullString

		if err := rows.Scan(&c.ID, &c.SourceID, &c.ProjectID, &c.Text, &embedding,
			&c.Position, &c.TokenCount, &c.StartOffset, &c.EndOffset, &c.CreatedAt); err != nil {
			return nil, err
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for chunk %s: %w", c.ID, err)
			}
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}
