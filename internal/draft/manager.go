package draft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager hands out at most one live session per (project, section), so a
// single logical owner mutates each draft's buffer.
type Manager struct {
	store    Store
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(store Store, debounce time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:    store,
		debounce: debounce,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for the target, loading it on first use.
func (m *Manager) Get(ctx context.Context, projectID, sectionID string) (*Session, error) {
	key := projectID + "/" + sectionID

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := NewSession(projectID, sectionID, m.store, m.debounce, m.log)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have loaded the same target concurrently.
	if existing, ok := m.sessions[key]; ok {
		return existing, nil
	}
	m.sessions[key] = s
	return s, nil
}

// Release closes the session for the target, cancelling its pending
// autosave timer. Used when the editor switches away from a section.
func (m *Manager) Release(projectID, sectionID string) {
	key := projectID + "/" + sectionID

	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
	}
}
