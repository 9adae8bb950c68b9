// Package render talks to the storage gateway that turns row sets into files.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	infrahttp "github.com/jonesrussell/north-cloud/export-service/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

const (
	uploadPath = "/api/v1/files/excel"
	healthPath = "/health"
)

// ErrNotConfigured is returned when no storage gateway URL is set.
var ErrNotConfigured = errors.New("storage gateway url not configured")

// UploadRequest is the payload sent to the storage gateway.
type UploadRequest struct {
	FileName  string       `json:"fileName"`
	SheetName string       `json:"sheetName,omitempty"`
	Data      []domain.Row `json:"data"`
	Columns   []string     `json:"columns"`
}

// UploadResult is what the storage gateway reports back.
type UploadResult struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// Config configures the rendering client.
type Config struct {
	URL     string
	Timeout time.Duration
	Retry   retry.Config
}

// Client uploads row sets to the storage gateway.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config
	log     infralogger.Logger
}

// NewClient creates a storage gateway client.
func NewClient(cfg Config, log infralogger.Logger) *Client {
	if cfg.Retry.IsRetryable == nil {
		cfg.Retry.IsRetryable = isRetryable
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    infrahttp.NewClient(infrahttp.ClientConfig{Timeout: cfg.Timeout}),
		retry:   cfg.Retry,
		log:     log,
	}
}

func isRetryable(err error) bool {
	return infrahttp.IsTemporaryStatus(err) || retry.DefaultIsRetryable(err)
}

// Upload renders req and returns the location of the produced file.
// Every failure wraps domain.ErrRenderFailure.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrRenderFailure, ErrNotConfigured)
	}
	if req.Data == nil {
		req.Data = []domain.Row{}
	}

	var out UploadResult
	err := retry.Retry(ctx, c.retry, func() error {
		return infrahttp.PostJSON(ctx, c.http, c.baseURL+uploadPath, req, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", domain.ErrRenderFailure, req.FileName, err)
	}

	if out.URL == "" {
		return nil, fmt.Errorf("%w: upload %s: empty url in response", domain.ErrRenderFailure, req.FileName)
	}
	if out.FileName == "" {
		out.FileName = req.FileName
	}

	c.log.Info("File rendered",
		infralogger.String("file_name", out.FileName),
		infralogger.Int("rows", len(req.Data)),
		infralogger.Int("columns", len(req.Columns)),
	)

	return &out, nil
}

// Ping checks that the storage gateway is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	if err := infrahttp.Get(ctx, c.http, c.baseURL+healthPath, nil); err != nil {
		return fmt.Errorf("storage gateway health: %w", err)
	}
	return nil
}
