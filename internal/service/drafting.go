package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/domain"
	"github.com/inkwell-labs/inkwell/internal/draft"
	"github.com/inkwell-labs/inkwell/internal/generator"
	"github.com/inkwell-labs/inkwell/internal/retriever"
)

// DraftingConfig tunes evidence retrieval and generation budgets.
type DraftingConfig struct {
	EvidenceLimit int
	MaxTokens     int
}

// StreamSectionRequest asks for a streamed draft of one section.
type StreamSectionRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	SectionID string `json:"section_id" binding:"required"`
	Objective string `json:"objective" binding:"required"`
	Guidance  string `json:"guidance,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// DraftingService runs the drafting request path: retrieve evidence,
// stream a generated draft into the section's session, autosave as tokens
// accumulate.
type DraftingService struct {
	retriever *retriever.Retriever
	generator *generator.Generator
	sessions  *draft.Manager
	cfg       DraftingConfig
	log       *zap.Logger
}

// NewDraftingService creates a new drafting service.
func NewDraftingService(
	ret *retriever.Retriever,
	gen *generator.Generator,
	sessions *draft.Manager,
	cfg DraftingConfig,
	log *zap.Logger,
) *DraftingService {
	if cfg.EvidenceLimit <= 0 {
		cfg.EvidenceLimit = 8
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DraftingService{retriever: ret, generator: gen, sessions: sessions, cfg: cfg, log: log}
}

// Query ranks stored evidence for a section without generating anything.
func (s *DraftingService) Query(ctx context.Context, q domain.RetrievalQuery) (domain.RetrievalResult, error) {
	if q.Limit == 0 {
		q.Limit = s.cfg.EvidenceLimit
	}
	return s.retriever.Retrieve(ctx, q)
}

// StreamSection retrieves evidence, starts a token stream for the section,
// and relays events to the caller while appending tokens to the section's
// draft session in arrival order. The returned channel terminates with
// exactly one done or error event.
func (s *DraftingService) StreamSection(ctx context.Context, req StreamSectionRequest) (<-chan domain.StreamEvent, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return nil, fmt.Errorf("%w: section objective is empty", domain.ErrInvalidInput)
	}

	session, err := s.sessions.Get(ctx, req.ProjectID, req.SectionID)
	if err != nil {
		return nil, fmt.Errorf("open draft session: %w", err)
	}

	evidence, err := s.retriever.Retrieve(ctx, domain.RetrievalQuery{
		ProjectID: req.ProjectID,
		SectionID: req.SectionID,
		Query:     req.Objective,
		Limit:     s.cfg.EvidenceLimit,
	})
	if err != nil {
		return nil, err
	}
	if evidence.Degraded {
		s.log.Info("drafting on degraded evidence",
			zap.String("project_id", req.ProjectID),
			zap.String("section_id", req.SectionID),
		)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > s.cfg.MaxTokens {
		maxTokens = s.cfg.MaxTokens
	}
	// Tokens land in the session through the stream's callback, which the
	// generator stops invoking the moment the stream is cancelled or
	// superseded, so a stale stream can never touch the draft.
	stream, err := s.generator.Start(ctx, req.ProjectID, req.SectionID, domain.Prompt{
		Objective: req.Objective,
		Guidance:  req.Guidance,
		Evidence:  evidence.Chunks,
		MaxTokens: maxTokens,
	}, session.Append)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent, 64)
	go func() {
		defer close(out)
		for ev := range stream.Events() {
			select {
			case out <- ev:
			case <-ctx.Done():
				// Caller is gone; tear the stream down and drain it so
				// neither relay goroutine is left blocked.
				stream.Cancel()
				for range stream.Events() {
				}
				return
			}
		}
		if stream.State() == generator.StateCompleted {
			s.log.Info("section draft generated",
				zap.String("project_id", req.ProjectID),
				zap.String("section_id", req.SectionID),
				zap.Int("chars", len(stream.Text())),
			)
		}
	}()
	return out, nil
}

// CancelSection cancels an in-flight generation and pending autosave for
// the target, used when the editor switches away from a section.
func (s *DraftingService) CancelSection(projectID, sectionID string) {
	s.generator.CancelTarget(projectID, sectionID)
	s.sessions.Release(projectID, sectionID)
}

// GetSection returns the current draft snapshot for a section, loading
// the session on first access.
func (s *DraftingService) GetSection(ctx context.Context, projectID, sectionID string) (domain.DraftSnapshot, error) {
	session, err := s.sessions.Get(ctx, projectID, sectionID)
	if err != nil {
		return domain.DraftSnapshot{}, err
	}
	return session.Snapshot(), nil
}

// SaveSection applies the caller's content to the session and persists it
// manually. The caller's version must match the session's last persisted
// version; a stale caller gets ErrVersionConflict and must re-read.
func (s *DraftingService) SaveSection(ctx context.Context, projectID, sectionID string, req domain.SaveDraftRequest) (domain.DraftSnapshot, error) {
	session, err := s.sessions.Get(ctx, projectID, sectionID)
	if err != nil {
		return domain.DraftSnapshot{}, err
	}
	if req.Version != session.Version() {
		return domain.DraftSnapshot{}, fmt.Errorf("%w: session at %d, caller at %d",
			domain.ErrVersionConflict, session.Version(), req.Version)
	}

	session.Update(req.HTML, req.Citations, req.Annotations)
	if err := session.Persist(ctx, draft.ReasonManual); err != nil {
		return domain.DraftSnapshot{}, err
	}
	return session.Snapshot(), nil
}
