// Package api exposes the drafting pipeline over HTTP: retrieval queries,
// SSE token streaming for section generation, source ingestion, and
// version-checked draft saves.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/domain"
	"github.com/inkwell-labs/inkwell/internal/service"
)

// Handler handles API requests
type Handler struct {
	ingest   *service.IngestService
	drafting *service.DraftingService
	log      *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(ingest *service.IngestService, drafting *service.DraftingService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{ingest: ingest, drafting: drafting, log: log}
}

// RegisterRoutes registers API routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/retrieval/query", h.RetrievalQuery)
	r.POST("/drafting/section/stream", h.StreamSection)

	projects := r.Group("/projects/:project_id")
	{
		projects.POST("/sources", h.IngestSource)
		projects.POST("/sources/batch", h.IngestBatch)
		projects.GET("/sections/:section_id/draft", h.GetDraft)
		projects.PUT("/sections/:section_id/draft", h.SaveDraft)
		projects.DELETE("/sections/:section_id/session", h.ReleaseSection)
	}
}

// RetrievalQuery ranks stored evidence against a query string.
func (h *Handler) RetrievalQuery(c *gin.Context) {
	var req domain.RetrievalQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.drafting.Query(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// StreamSection streams a generated section draft over SSE.
func (h *Handler) StreamSection(c *gin.Context) {
	var req service.StreamSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := h.drafting.StreamSection(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream
		if !ok {
			return false // End stream
		}
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, string(data))
		return true
	})
}

// IngestSource ingests one source document into the project's evidence.
func (h *Handler) IngestSource(c *gin.Context) {
	projectID := c.Param("project_id")

	var req domain.PaperInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.ingest.IngestSource(c.Request.Context(), projectID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// IngestBatch ingests many papers, reporting only the successes.
func (h *Handler) IngestBatch(c *gin.Context) {
	projectID := c.Param("project_id")

	var papers []domain.PaperInput
	if err := c.ShouldBindJSON(&papers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := h.ingest.IngestBatch(c.Request.Context(), projectID, papers)
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"requested": len(papers),
		"ingested":  len(results),
	})
}

// GetDraft returns the section's current draft snapshot.
func (h *Handler) GetDraft(c *gin.Context) {
	snap, err := h.drafting.GetSection(c.Request.Context(),
		c.Param("project_id"), c.Param("section_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// SaveDraft performs a manual, version-checked save of the section draft.
func (h *Handler) SaveDraft(c *gin.Context) {
	var req domain.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.drafting.SaveSection(c.Request.Context(),
		c.Param("project_id"), c.Param("section_id"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ReleaseSection drops the live session for a section, cancelling any
// in-flight generation and the pending autosave.
func (h *Handler) ReleaseSection(c *gin.Context) {
	h.drafting.CancelSection(c.Param("project_id"), c.Param("section_id"))
	c.Status(http.StatusNoContent)
}

// writeError maps pipeline errors onto HTTP statuses. The core never
// produces user-facing copy; the raw error text is the diagnostic payload.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAIServiceUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
