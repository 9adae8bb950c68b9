// Package remoteworker delegates an export to another deployment's worker endpoint.
package remoteworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	infrahttp "github.com/jonesrussell/north-cloud/export-service/infrastructure/http"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

const runPath = "/api/v1/worker/run"

// ErrNotConfigured is returned when no worker URL is set.
var ErrNotConfigured = errors.New("remote worker url not configured")

// RunRequest is the payload accepted by the worker endpoint.
type RunRequest struct {
	ExportType string        `json:"exportType"`
	Params     domain.Params `json:"params"`
	JobID      string        `json:"jobId,omitempty"`
	LangCode   string        `json:"langCode,omitempty"`
}

// Config configures the client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls a remote worker endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a worker client.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Timeout}),
	}
}

// Enabled reports whether a worker URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Run executes the export on the remote worker and returns its result.
func (c *Client) Run(ctx context.Context, req RunRequest) (*domain.Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	var res domain.Result
	if err := infrahttp.PostJSON(ctx, c.http, c.baseURL+runPath, req, &res); err != nil {
		return nil, fmt.Errorf("remote worker %s: %w", req.ExportType, classify(err))
	}
	return &res, nil
}

func classify(err error) error {
	var statusErr *infrahttp.StatusError
	if !errors.As(err, &statusErr) {
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}

	switch statusErr.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case http.StatusBadGateway:
		return fmt.Errorf("%w: %w", domain.ErrRenderFailure, err)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
}
