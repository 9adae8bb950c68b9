package bootstrap

import (
	"context"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/config"
	"github.com/jonesrussell/north-cloud/export-service/internal/queue"
)

// StartWorkers starts the job worker pool draining the export queue.
func StartWorkers(ctx context.Context, cfg *config.Config, comp *Components, log infralogger.Logger) *queue.Queue {
	comp.Queue.Start(ctx, comp.Service.ProcessJob, cfg.Queue.Concurrency)

	log.Info("Export workers started",
		infralogger.Int("concurrency", cfg.Queue.Concurrency),
		infralogger.Duration("job_timeout", cfg.Queue.JobTimeout),
	)
	return comp.Queue
}
