package domain

import "time"

// Citation links a span of draft text to an ingested source.
type Citation struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Label    string `json:"label"`
}

// Annotation is an inline editor note attached to the draft.
type Annotation struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Offset int    `json:"offset"`
}

// DraftSnapshot is the persisted state of one section's draft. There is one
// live snapshot per (project, section); Version increases by exactly one on
// every successful write and is the sole conflict-detection mechanism.
type DraftSnapshot struct {
	ProjectID   string       `json:"project_id"`
	SectionID   string       `json:"section_id"`
	HTML        string       `json:"html"`
	Citations   []Citation   `json:"citations,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Version     int          `json:"version"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SaveDraftRequest is the manual-save payload. Version is the caller's
// last-known snapshot version.
type SaveDraftRequest struct {
	HTML        string       `json:"html"`
	Citations   []Citation   `json:"citations,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Version     int          `json:"version" binding:"required"`
}
