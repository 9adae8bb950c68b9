package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
)

// ProcessJob runs a queued job under the job timeout, recording its status
// and progress. It is the queue handler.
func (s *Service) ProcessJob(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrInvalidRequest)
	}

	ctx, span := s.tracer.Start(ctx, "service.process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.type", job.Type),
		),
	)
	defer span.End()

	log := s.log.With(infralogger.String("job_id", job.ID), infralogger.String("export_type", job.Type))

	s.metrics.JobStarted()
	s.refreshQueueDepth(ctx)
	start := s.now()

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	if err := s.tracker.MarkProcessing(jobCtx, job.ID); err != nil {
		log.Warn("Failed to record job status", infralogger.String("status", "processing"), infralogger.Error(err))
	}

	req := &domain.Request{
		ExportType: job.Type,
		Params:     job.Params,
		LangCode:   job.LangCode,
		JobID:      job.ID,
	}

	res, err := s.exportJob(jobCtx, req, s.tracker.Progress(job.ID))
	if err == nil && jobCtx.Err() != nil {
		err = jobCtx.Err()
	}

	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			if !errors.Is(err, domain.ErrTimeout) {
				err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
			}
			log.Warn("Job timed out", infralogger.Duration("timeout", s.cfg.JobTimeout))
		}

		if markErr := s.tracker.MarkFailed(context.WithoutCancel(ctx), job.ID, err); markErr != nil {
			log.Warn("Failed to record job status", infralogger.String("status", "failed"), infralogger.Error(markErr))
		}
		s.metrics.JobFinished(metrics.StatusFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Job failed", infralogger.Error(err))
		return err
	}

	if markErr := s.tracker.MarkCompleted(ctx, job.ID, res); markErr != nil {
		log.Warn("Failed to record job status", infralogger.String("status", "completed"), infralogger.Error(markErr))
	}
	s.metrics.JobFinished(metrics.StatusSuccess)

	log.Info("Job completed",
		infralogger.Duration("elapsed", s.now().Sub(start)),
		infralogger.Int64("total_records", res.TotalRecords),
	)
	return nil
}

var errJobPanicked = errors.New("export panicked")

// exportJob turns a panic below the dispatcher into an error so the job
// record still ends in failed.
func (s *Service) exportJob(ctx context.Context, req *domain.Request, sink domain.ProgressSink) (res *domain.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("%w: %v", errJobPanicked, rec)
		}
	}()

	return s.dispatcher.Export(ctx, req, sink)
}

// GetJobStatus returns the job record merged with its id. Unknown jobs yield just the id.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (map[string]any, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", domain.ErrInvalidRequest)
	}

	out := map[string]any{ParamJobID: jobID}
	if s.tracker == nil {
		return out, nil
	}

	rec, err := s.tracker.GetStatus(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	for k, v := range rec {
		out[k] = v
	}
	out[ParamJobID] = jobID
	return out, nil
}

// RunWorker executes an export in-process on behalf of another deployment.
func (s *Service) RunWorker(ctx context.Context, in remoteworker.RunRequest) (*domain.Result, error) {
	if in.ExportType == "" {
		return nil, fmt.Errorf("%w: exportType is required", domain.ErrInvalidRequest)
	}

	params := in.Params.Clone()
	if in.LangCode != "" {
		params[ParamLangCode] = in.LangCode
	}

	req, err := BuildRequest(in.ExportType, params)
	if err != nil {
		return nil, err
	}
	req.JobID = in.JobID
	req.EnableJobTracking = false

	start := time.Now()
	res, err := s.dispatcher.RunLocal(ctx, req, domain.NopProgress)
	if err != nil {
		return nil, err
	}

	s.log.Info("Worker export completed",
		infralogger.String("export_type", req.ExportType),
		infralogger.String("job_id", req.JobID),
		infralogger.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
