package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// DraftStore persists one DraftSnapshot per (project, section) with
// compare-and-swap on the version column.
type DraftStore struct {
	db *DB
}

// NewDraftStore creates a new draft store.
func NewDraftStore(db *DB) *DraftStore {
	return &DraftStore{db: db}
}

// GetDraft returns the stored snapshot, or nil when none exists.
func (s *DraftStore) GetDraft(ctx context.Context, projectID, sectionID string) (*domain.DraftSnapshot, error) {
	snap := &domain.DraftSnapshot{}
	var citations, annotations sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, section_id, html, citations, annotations, version, updated_at
		FROM drafts WHERE project_id = ? AND section_id = ?
	`, projectID, sectionID).Scan(&snap.ProjectID, &snap.SectionID, &snap.HTML,
		&citations, &annotations, &snap.Version, &snap.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if citations.Valid && citations.String != "" {
		if err := json.Unmarshal([]byte(citations.String), &snap.Citations); err != nil {
			return nil, fmt.Errorf("decode citations: %w", err)
		}
	}
	if annotations.Valid && annotations.String != "" {
		if err := json.Unmarshal([]byte(annotations.String), &snap.Annotations); err != nil {
			return nil, fmt.Errorf("decode annotations: %w", err)
		}
	}

	return snap, nil
}

// PutDraft writes the snapshot if the stored version still equals
// expectedVersion, returning the new snapshot with its incremented version.
// A row that does not exist yet counts as version 1 (the empty draft every
// session initializes from). A mismatch returns ErrVersionConflict and the
// caller must re-read before retrying.
func (s *DraftStore) PutDraft(ctx context.Context, snap domain.DraftSnapshot, expectedVersion int) (domain.DraftSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}
	defer tx.Rollback()

	current := 1
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM drafts WHERE project_id = ? AND section_id = ?
	`, snap.ProjectID, snap.SectionID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}

	if current != expectedVersion {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: have %d, expected %d",
			domain.ErrVersionConflict, current, expectedVersion)
	}

	citations, err := json.Marshal(snap.Citations)
	if err != nil {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}
	annotations, err := json.Marshal(snap.Annotations)
	if err != nil {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}

	snap.Version = current + 1
	snap.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO drafts (project_id, section_id, html, citations, annotations, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, section_id) DO UPDATE SET
			html = excluded.html,
			citations = excluded.citations,
			annotations = excluded.annotations,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, snap.ProjectID, snap.SectionID, snap.HTML, string(citations), string(annotations),
		snap.Version, snap.UpdatedAt)
	if err != nil {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}

	return snap, nil
}
