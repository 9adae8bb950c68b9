package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// BulkItem is the per-request outcome of ExportBulk.
type BulkItem struct {
	Index      int            `json:"index"`
	ExportType string         `json:"exportType"`
	Queued     *domain.Queued `json:"queued,omitempty"`
	Result     *domain.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	err        error
}

// Err returns the item's failure, if any.
func (b BulkItem) Err() error { return b.err }

// ExportBulk runs each request as HandleExportAction with bounded
// parallelism. One failure does not stop the others.
func (s *Service) ExportBulk(ctx context.Context, requests []domain.Params) ([]BulkItem, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("%w: requests is empty", domain.ErrInvalidRequest)
	}
	if len(requests) > s.cfg.MaxBulkRequests {
		return nil, fmt.Errorf("%w: at most %d requests per call", domain.ErrInvalidRequest, s.cfg.MaxBulkRequests)
	}

	items := make([]BulkItem, len(requests))

	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)

	for i, params := range requests {
		exportType, _ := params.String(ParamExportType)
		items[i] = BulkItem{Index: i, ExportType: exportType}

		g.Go(func() error {
			out, err := s.HandleExportAction(ctx, exportType, params)
			if err != nil {
				items[i].err = err
				items[i].Error = err.Error()
				return nil
			}
			items[i].Queued = out.Queued
			items[i].Result = out.Result
			return nil
		})
	}

	_ = g.Wait()

	failed := 0
	for _, it := range items {
		if it.err != nil {
			failed++
		}
	}
	s.log.Info("Bulk export finished",
		infralogger.Int("requests", len(requests)),
		infralogger.Int("failed", failed),
	)

	return items, nil
}
