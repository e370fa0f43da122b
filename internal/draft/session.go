// Package draft owns the in-memory state of one section's draft and
// reconciles it against the persisted snapshot with debounced autosave and
// optimistic version checks.
package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// DefaultDebounce is the quiet period after the last edit before an
// autosave fires.
const DefaultDebounce = 2 * time.Second

// Reason distinguishes manual saves from autosaves.
type Reason string

const (
	ReasonManual   Reason = "manual"
	ReasonAutosave Reason = "autosave"
)

// Store is the persistence boundary for draft snapshots.
type Store interface {
	GetDraft(ctx context.Context, projectID, sectionID string) (*domain.DraftSnapshot, error)
	PutDraft(ctx context.Context, snap domain.DraftSnapshot, expectedVersion int) (domain.DraftSnapshot, error)
}

// content is the structural state compared against the saved baseline.
// Comparison is by value, field for field, so key ordering can never make
// identical states look different.
type content struct {
	html        string
	citations   []domain.Citation
	annotations []domain.Annotation
}

func (c content) equal(o content) bool {
	if c.html != o.html || len(c.citations) != len(o.citations) || len(c.annotations) != len(o.annotations) {
		return false
	}
	for i := range c.citations {
		if c.citations[i] != o.citations[i] {
			return false
		}
	}
	for i := range c.annotations {
		if c.annotations[i] != o.annotations[i] {
			return false
		}
	}
	return true
}

// Session is the live state of one (project, section) draft. A session has
// a single logical owner; its methods are still safe to call from the
// autosave timer goroutine.
type Session struct {
	projectID string
	sectionID string
	store     Store
	log       *zap.Logger
	debounce  time.Duration

	// persistMu serializes persists so two writes can never race on the
	// same version number.
	persistMu sync.Mutex

	mu        sync.Mutex
	buffered  content
	baseline  content
	version   int
	updatedAt time.Time
	dirty     bool
	saving    bool
	timer     *time.Timer
	closed    bool
}

// NewSession creates an unloaded session. Call Load before editing.
func NewSession(projectID, sectionID string, store Store, debounce time.Duration, log *zap.Logger) *Session {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		projectID: projectID,
		sectionID: sectionID,
		store:     store,
		log:       log,
		debounce:  debounce,
		version:   1,
	}
}

// Load reads the persisted snapshot, or initializes an empty baseline at
// version 1 when none exists, and adopts it as the saved baseline.
func (s *Session) Load(ctx context.Context) error {
	snap, err := s.store.GetDraft(ctx, s.projectID, s.sectionID)
	if err != nil {
		return fmt.Errorf("load draft %s/%s: %w", s.projectID, s.sectionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if snap != nil {
		s.baseline = content{html: snap.HTML, citations: snap.Citations, annotations: snap.Annotations}
		s.version = snap.Version
		s.updatedAt = snap.UpdatedAt
	} else {
		s.baseline = content{}
		s.version = 1
	}
	s.buffered = s.baseline
	s.dirty = false
	return nil
}

// Update replaces the buffered content. Content equal to the saved
// baseline clears dirtiness and any pending autosave; content that differs
// marks the session dirty and restarts the debounce timer, so only a pause
// in edits triggers a write.
func (s *Session) Update(html string, citations []domain.Citation, annotations []domain.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.buffered = content{html: html, citations: citations, annotations: annotations}
	if s.buffered.equal(s.baseline) {
		s.dirty = false
		s.stopTimerLocked()
		return
	}
	s.dirty = true
	s.restartTimerLocked()
}

// Append concatenates generated text onto the buffered HTML; it follows
// the same dirty/debounce path as Update.
func (s *Session) Append(text string) {
	s.mu.Lock()
	html := s.buffered.html + text
	citations := s.buffered.citations
	annotations := s.buffered.annotations
	s.mu.Unlock()
	s.Update(html, citations, annotations)
}

// Persist writes the buffered content to the store under the session's
// last-known version. Autosave persists are a no-op when the session is
// clean. On success the returned snapshot becomes the new baseline; on
// failure the session stays dirty and the buffer is untouched.
func (s *Session) Persist(ctx context.Context, reason Reason) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if reason == ReasonAutosave && !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.saving = true
	pending := s.buffered
	expected := s.version
	s.mu.Unlock()

	saved, err := s.store.PutDraft(ctx, domain.DraftSnapshot{
		ProjectID:   s.projectID,
		SectionID:   s.sectionID,
		HTML:        pending.html,
		Citations:   pending.citations,
		Annotations: pending.annotations,
	}, expected)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		// Baseline is only adopted on success, so the session correctly
		// remains flagged as having unsaved changes.
		return fmt.Errorf("%w: persist %s/%s (%s): %w",
			domain.ErrStoreWriteFailed, s.projectID, s.sectionID, reason, err)
	}

	s.baseline = pending
	s.version = saved.Version
	s.updatedAt = saved.UpdatedAt
	// Edits that landed while the write was in flight keep the session dirty.
	s.dirty = !s.buffered.equal(s.baseline)
	return nil
}

// Snapshot returns the current buffered state rendered as a snapshot at
// the last persisted version.
func (s *Session) Snapshot() domain.DraftSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.DraftSnapshot{
		ProjectID:   s.projectID,
		SectionID:   s.sectionID,
		HTML:        s.buffered.html,
		Citations:   s.buffered.citations,
		Annotations: s.buffered.annotations,
		Version:     s.version,
		UpdatedAt:   s.updatedAt,
	}
}

// Dirty reports whether the buffer differs from the saved baseline.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Version returns the last successfully persisted version.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Close cancels any pending autosave. It does not flush; callers that
// want the buffer saved persist manually first.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) restartTimerLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Persist(context.Background(), ReasonAutosave); err != nil {
			// Non-fatal: the next edit or manual save retries.
			s.log.Warn("autosave failed",
				zap.String("project_id", s.projectID),
				zap.String("section_id", s.sectionID),
				zap.Error(err),
			)
		}
	})
}
