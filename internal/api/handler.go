// Package api provides the HTTP actions of the export service.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
	"github.com/jonesrussell/north-cloud/export-service/internal/service"
)

// Actions defines the service operations exposed over HTTP.
type Actions interface {
	HandleExportAction(ctx context.Context, exportType string, params domain.Params) (*service.Outcome, error)
	ExportBulk(ctx context.Context, requests []domain.Params) ([]service.BulkItem, error)
	GetJobStatus(ctx context.Context, jobID string) (map[string]any, error)
	ListExports() []string
	Metrics() metrics.Snapshot
	HealthCheck(ctx context.Context) service.Health
	InvalidateCache(ctx context.Context, pattern string) (int, error)
	RunWorker(ctx context.Context, req remoteworker.RunRequest) (*domain.Result, error)
}

// Handler serves the export actions.
type Handler struct {
	actions Actions
	log     infralogger.Logger
}

// NewHandler creates a handler.
func NewHandler(actions Actions, log infralogger.Logger) *Handler {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Handler{actions: actions, log: log}
}

type bulkRequest struct {
	Requests []domain.Params `binding:"required" json:"requests"`
}

// ExportData handles POST /api/v1/exports.
func (h *Handler) ExportData(c *gin.Context) {
	params, ok := h.bindParams(c)
	if !ok {
		return
	}
	exportType, _ := params.String(service.ParamExportType)
	h.export(c, exportType, params)
}

// ExportFixed returns a handler that pins the export type.
func (h *Handler) ExportFixed(exportType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, ok := h.bindParams(c)
		if !ok {
			return
		}
		h.export(c, exportType, params)
	}
}

func (h *Handler) export(c *gin.Context, exportType string, params domain.Params) {
	out, err := h.actions.HandleExportAction(c.Request.Context(), exportType, params)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if out.Queued != nil {
		c.JSON(http.StatusAccepted, out.Queued)
		return
	}
	c.JSON(http.StatusOK, out.Result)
}

// ExportBulk handles POST /api/v1/exports/bulk.
func (h *Handler) ExportBulk(c *gin.Context) {
	var req bulkRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error(), "code": codeInvalidRequest})
		return
	}

	items, err := h.actions.ExportBulk(c.Request.Context(), req.Requests)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": items})
}

// GetJobStatus handles GET /api/v1/jobs/:jobId.
func (h *Handler) GetJobStatus(c *gin.Context) {
	status, err := h.actions.GetJobStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListExports handles GET /api/v1/exports.
func (h *Handler) ListExports(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exports": h.actions.ListExports()})
}

// GetMetrics handles GET /api/v1/metrics.
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.actions.Metrics())
}

// HealthCheck handles GET /api/v1/health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.actions.HealthCheck(c.Request.Context()))
}

// InvalidateCache handles DELETE /api/v1/cache.
func (h *Handler) InvalidateCache(c *gin.Context) {
	removed, err := h.actions.InvalidateCache(c.Request.Context(), c.Query("pattern"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// RunWorker handles POST /api/v1/worker/run.
func (h *Handler) RunWorker(c *gin.Context) {
	var req remoteworker.RunRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error(), "code": codeInvalidRequest})
		return
	}

	res, err := h.actions.RunWorker(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// bindParams reads the JSON body as export parameters, layered over the
// query string. An empty body is allowed.
func (h *Handler) bindParams(c *gin.Context) (domain.Params, bool) {
	params := domain.Params{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	var body map[string]any
	if bindErr := c.ShouldBindJSON(&body); bindErr != nil && !errors.Is(bindErr, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErr.Error(), "code": codeInvalidRequest})
		return nil, false
	}
	for k, v := range body {
		params[k] = v
	}
	return params, true
}
