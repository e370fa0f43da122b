package draft

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// fakeStore is an in-memory draft store with the same CAS semantics as the
// SQLite one, plus failure injection and a persist counter.
type fakeStore struct {
	mu       sync.Mutex
	snap     *domain.DraftSnapshot
	puts     int
	failNext int
	slow     time.Duration
}

func (f *fakeStore) GetDraft(_ context.Context, _, _ string) (*domain.DraftSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return nil, nil
	}
	cp := *f.snap
	return &cp, nil
}

func (f *fakeStore) PutDraft(_ context.Context, snap domain.DraftSnapshot, expectedVersion int) (domain.DraftSnapshot, error) {
	if f.slow > 0 {
		time.Sleep(f.slow)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failNext > 0 {
		f.failNext--
		return domain.DraftSnapshot{}, errors.New("store offline")
	}
	current := 1
	if f.snap != nil {
		current = f.snap.Version
	}
	if current != expectedVersion {
		return domain.DraftSnapshot{}, domain.ErrVersionConflict
	}
	snap.Version = current + 1
	snap.UpdatedAt = time.Now()
	f.snap = &snap
	return snap, nil
}

func (f *fakeStore) persists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func loadedSession(t *testing.T, store Store, debounce time.Duration) *Session {
	t.Helper()
	s := NewSession("p1", "intro", store, debounce, nil)
	require.NoError(t, s.Load(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestLoad_MissingDraftInitializesVersionOne(t *testing.T) {
	s := loadedSession(t, &fakeStore{}, time.Hour)
	assert.Equal(t, 1, s.Version())
	assert.False(t, s.Dirty())
}

func TestLoad_AdoptsStoredSnapshotAsBaseline(t *testing.T) {
	store := &fakeStore{snap: &domain.DraftSnapshot{
		ProjectID: "p1", SectionID: "intro", HTML: "<p>saved</p>", Version: 7,
	}}
	s := loadedSession(t, store, time.Hour)

	assert.Equal(t, 7, s.Version())
	s.Update("<p>saved</p>", nil, nil)
	assert.False(t, s.Dirty(), "content equal to baseline is not dirty")
}

func TestUpdate_SameContentTwiceNeverPersists(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, 20*time.Millisecond)

	s.Update("", nil, nil)
	s.Update("", nil, nil)

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, store.persists(), "clean updates must cause zero network persists")
}

func TestUpdate_DebounceFiresAfterQuietPeriod(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, 20*time.Millisecond)

	s.Update("<p>draft</p>", nil, nil)
	require.True(t, s.Dirty())

	require.Eventually(t, func() bool { return store.persists() == 1 },
		time.Second, 5*time.Millisecond)
	assert.False(t, s.Dirty())
	assert.Equal(t, 2, s.Version())
}

func TestUpdate_DebounceRestartsOnEveryEdit(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, 50*time.Millisecond)

	// Keep editing faster than the debounce; no write may land meanwhile.
	for i := 0; i < 5; i++ {
		s.Update("<p>edit</p>"+string(rune('a'+i)), nil, nil)
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, store.persists())
	}
	require.Eventually(t, func() bool { return store.persists() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestUpdate_RevertToBaselineCancelsAutosave(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, 20*time.Millisecond)

	s.Update("<p>typo</p>", nil, nil)
	s.Update("", nil, nil) // undo back to the saved baseline

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, store.persists())
	assert.False(t, s.Dirty())
}

func TestPersist_AutosaveNoopWhenClean(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, time.Hour)

	require.NoError(t, s.Persist(context.Background(), ReasonAutosave))
	assert.Zero(t, store.persists())
}

func TestPersist_ManualSaveAlwaysWrites(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, time.Hour)

	require.NoError(t, s.Persist(context.Background(), ReasonManual))
	assert.Equal(t, 1, store.persists())
}

func TestPersist_VersionMonotonicAcrossMixedReasons(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, time.Hour)
	ctx := context.Background()

	initial := s.Version()
	reasons := []Reason{ReasonManual, ReasonManual, ReasonManual, ReasonManual}
	for i, reason := range reasons {
		s.Update("<p>rev</p>"+string(rune('0'+i)), nil, nil)
		require.NoError(t, s.Persist(ctx, reason))
	}
	assert.Equal(t, initial+len(reasons), s.Version())
	assert.Equal(t, initial+len(reasons), store.snap.Version)
}

func TestPersist_FailureKeepsDirtyAndBuffer(t *testing.T) {
	store := &fakeStore{failNext: 1}
	s := loadedSession(t, store, time.Hour)

	s.Update("<p>precious edits</p>", nil, nil)
	err := s.Persist(context.Background(), ReasonManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreWriteFailed)

	assert.True(t, s.Dirty(), "failed save leaves unsaved-changes flag set")
	assert.Equal(t, "<p>precious edits</p>", s.Snapshot().HTML)
	assert.Equal(t, 1, s.Version(), "baseline version not bumped on failure")

	// Retry succeeds and adopts the new baseline.
	require.NoError(t, s.Persist(context.Background(), ReasonManual))
	assert.False(t, s.Dirty())
	assert.Equal(t, 2, s.Version())
}

func TestPersist_EditDuringInflightSaveStaysDirty(t *testing.T) {
	store := &fakeStore{slow: 30 * time.Millisecond}
	s := loadedSession(t, store, time.Hour)

	s.Update("<p>v1</p>", nil, nil)
	done := make(chan error, 1)
	go func() { done <- s.Persist(context.Background(), ReasonManual) }()

	time.Sleep(10 * time.Millisecond)
	s.Update("<p>v2</p>", nil, nil)

	require.NoError(t, <-done)
	assert.True(t, s.Dirty(), "edit during in-flight save must survive as dirty")
	assert.Equal(t, "<p>v2</p>", s.Snapshot().HTML)
}

func TestPersist_SerializedWrites(t *testing.T) {
	store := &fakeStore{slow: 20 * time.Millisecond}
	s := loadedSession(t, store, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update("<p>race</p>"+string(rune('0'+i)), nil, nil)
			errs[i] = s.Persist(ctx, ReasonManual)
		}(i)
	}
	wg.Wait()

	// Serialized persists never race on a version number, so none may
	// fail with a conflict.
	for i, err := range errs {
		assert.NoError(t, err, "persist %d", i)
	}
	assert.Equal(t, 1+4, store.snap.Version)
}

func TestAppend_BuffersTokensInOrder(t *testing.T) {
	store := &fakeStore{}
	s := loadedSession(t, store, time.Hour)

	for _, tok := range []string{"Neural ", "networks ", "learn."} {
		s.Append(tok)
	}
	assert.Equal(t, "Neural networks learn.", s.Snapshot().HTML)
	assert.True(t, s.Dirty())
}

func TestManager_SingleSessionPerTarget(t *testing.T) {
	m := NewManager(&fakeStore{}, time.Hour, nil)
	ctx := context.Background()

	a, err := m.Get(ctx, "p1", "intro")
	require.NoError(t, err)
	b, err := m.Get(ctx, "p1", "intro")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := m.Get(ctx, "p1", "methods")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}

func TestManager_ReleaseDropsSession(t *testing.T) {
	m := NewManager(&fakeStore{}, time.Hour, nil)
	ctx := context.Background()

	a, err := m.Get(ctx, "p1", "intro")
	require.NoError(t, err)
	m.Release("p1", "intro")

	b, err := m.Get(ctx, "p1", "intro")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
