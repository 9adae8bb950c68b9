package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeInvalidRequest    = "INVALID_REQUEST"
	codeNotFound          = "NOT_FOUND"
	codeSourceUnavailable = "SOURCE_UNAVAILABLE"
	codeCircuitOpen       = "CIRCUIT_OPEN"
	codeRenderFailure     = "RENDER_FAILURE"
	codeTimeout           = "TIMEOUT"
	codeInternal          = "INTERNAL"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest},
	{domain.ErrNotFound, http.StatusNotFound, codeNotFound},
	{domain.ErrCircuitOpen, http.StatusServiceUnavailable, codeCircuitOpen},
	{domain.ErrTimeout, http.StatusGatewayTimeout, codeTimeout},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout},
	{domain.ErrRenderFailure, http.StatusBadGateway, codeRenderFailure},
	{domain.ErrSourceUnavailable, http.StatusServiceUnavailable, codeSourceUnavailable},
}

// StatusFor maps an error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)

	body := gin.H{"error": err.Error(), "code": code}
	if errors.Is(err, domain.ErrCircuitOpen) {
		body["retryable"] = true
	}

	if status >= http.StatusInternalServerError {
		infralogger.FromContextOr(c.Request.Context(), h.log).Error("Request failed",
			infralogger.String("path", c.FullPath()),
			infralogger.Int("status", status),
			infralogger.Error(err),
		)
	}

	c.JSON(status, body)
}
