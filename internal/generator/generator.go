package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/domain"
)

// State of one generation stream.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Generator starts token streams and enforces at most one active stream
// per (project, section). Starting a new stream for a target cancels the
// one already running so two streams can never write into the same draft.
type Generator struct {
	provider CompletionStreamer
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]*Stream
}

// New creates a Generator.
func New(provider CompletionStreamer, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{
		provider: provider,
		log:      log,
		active:   make(map[string]*Stream),
	}
}

// Stream is one generation request. Events are delivered on Events() in
// arrival order with exactly one terminal event for non-cancelled streams.
// The onToken callback runs under the same lock Cancel takes, so once
// Cancel returns the callback can never fire again.
type Stream struct {
	events chan domain.StreamEvent
	cancel context.CancelFunc
	done   chan struct{}
	quit   chan struct{}
	state  atomic.Int32

	deliverMu sync.Mutex
	cancelled bool
	onToken   func(string)

	textMu sync.Mutex
	text   strings.Builder
}

// Start opens a stream for the given target, cancelling any stream already
// active for it. onToken, when non-nil, is invoked for every token before
// it is forwarded; a cancelled stream never invokes it again.
func (g *Generator) Start(ctx context.Context, projectID, sectionID string, prompt domain.Prompt, onToken func(string)) (*Stream, error) {
	key := projectID + "/" + sectionID

	g.mu.Lock()
	if prev, ok := g.active[key]; ok {
		g.log.Info("cancelling superseded stream",
			zap.String("project_id", projectID),
			zap.String("section_id", sectionID),
		)
		prev.Cancel()
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		events:  make(chan domain.StreamEvent, 64),
		cancel:  cancel,
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		onToken: onToken,
	}
	s.state.Store(int32(StateRequesting))
	g.active[key] = s
	g.mu.Unlock()

	transport, err := g.provider.StreamCompletion(streamCtx, prompt)
	if err != nil {
		cancel()
		s.state.Store(int32(StateFailed))
		close(s.events)
		close(s.done)
		g.release(key, s)
		return nil, fmt.Errorf("start stream for %s: %w", key, err)
	}

	go func() {
		s.relay(transport)
		g.release(key, s)
	}()
	return s, nil
}

func (g *Generator) release(key string, s *Stream) {
	g.mu.Lock()
	if g.active[key] == s {
		delete(g.active, key)
	}
	g.mu.Unlock()
}

// CancelTarget cancels the active stream for the target, if any. Used when
// the editor switches away from a section mid-generation.
func (g *Generator) CancelTarget(projectID, sectionID string) {
	key := projectID + "/" + sectionID

	g.mu.Lock()
	s := g.active[key]
	g.mu.Unlock()

	if s != nil {
		g.log.Info("cancelling stream for released section",
			zap.String("project_id", projectID),
			zap.String("section_id", sectionID),
		)
		s.Cancel()
	}
}

// Events returns the ordered event channel. It is closed after the
// terminal event, or without one when the stream was cancelled.
func (s *Stream) Events() <-chan domain.StreamEvent { return s.events }

// Done is closed once the stream has fully shut down, including transport
// cleanup.
func (s *Stream) Done() <-chan struct{} { return s.done }

// State reports the stream's current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// Text returns the concatenation of all tokens relayed so far; after a
// done event it is the full generated text.
func (s *Stream) Text() string {
	s.textMu.Lock()
	defer s.textMu.Unlock()
	return s.text.String()
}

// Cancel stops the stream. It blocks until any in-progress delivery has
// finished, so once it returns no further token can reach the onToken
// callback; remaining transport events are drained and discarded, and the
// transport is torn down even when the cancel races with a transport
// failure. Safe to call more than once.
func (s *Stream) Cancel() {
	s.deliverMu.Lock()
	already := s.cancelled
	s.cancelled = true
	s.deliverMu.Unlock()
	if already {
		return
	}
	s.setTerminal(StateCancelled)
	close(s.quit)
	s.cancel()
}

// relay forwards transport events to the listener, dropping everything
// after cancellation while still draining so the transport can close.
// Token bookkeeping and the onToken callback run under deliverMu; the
// channel send does not, so a stalled listener never blocks Cancel.
func (s *Stream) relay(transport <-chan domain.StreamEvent) {
	defer close(s.done)
	defer close(s.events)

	for ev := range transport {
		s.deliverMu.Lock()
		if s.cancelled {
			s.deliverMu.Unlock()
			continue
		}
		forward := false
		switch ev.Type {
		case domain.EventToken:
			s.state.CompareAndSwap(int32(StateRequesting), int32(StateStreaming))
			s.textMu.Lock()
			s.text.WriteString(ev.Content)
			s.textMu.Unlock()
			if s.onToken != nil {
				s.onToken(ev.Content)
			}
			forward = true
		case domain.EventDone:
			forward = s.setTerminal(StateCompleted)
		case domain.EventError:
			forward = s.setTerminal(StateFailed)
		}
		s.deliverMu.Unlock()

		if forward {
			select {
			case s.events <- ev:
			case <-s.quit:
			}
		}
	}

	// Transport closed without a terminal frame and without cancellation:
	// surface it as a failure so the listener always sees an ending.
	if s.setTerminal(StateFailed) {
		select {
		case s.events <- domain.StreamEvent{Type: domain.EventError, Message: "transport closed unexpectedly"}:
		case <-s.quit:
		}
	}
}

// setTerminal moves the stream into a terminal state once; it reports
// whether this call performed the transition.
func (s *Stream) setTerminal(to State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateCompleted || State(cur) == StateFailed || State(cur) == StateCancelled {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}
