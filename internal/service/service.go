// Package service implements the export actions: direct or queued exports,
// background job processing, job status, metrics and health.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
	"github.com/jonesrussell/north-cloud/export-service/internal/tracker"
)

// Request parameter names read by the action layer.
const (
	ParamExportType        = "exportType"
	ParamEnableJobTracking = "enableJobTracking"
	ParamJobID             = "jobId"
	ParamLangCode          = "langCode"
)

const (
	defaultJobTimeout      = 30 * time.Minute
	defaultBulkConcurrency = 4
	defaultMaxBulkRequests = 100
)

// dateParams are validated before any export runs.
var dateParams = [][2]string{
	{"dateFr", "dateTo"},
	{"updatedFr", "updatedTo"},
}

// Exporter runs a single export.
type Exporter interface {
	Export(ctx context.Context, req *domain.Request, sink domain.ProgressSink) (*domain.Result, error)
	RunLocal(ctx context.Context, req *domain.Request, sink domain.ProgressSink) (*domain.Result, error)
}

// Registry resolves and lists export types.
type Registry interface {
	Resolve(exportType string) (*domain.Definition, error)
	ListTypes() []string
}

// JobQueue accepts background jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	Len(ctx context.Context) (int64, error)
}

// JobTracker persists job status.
type JobTracker interface {
	MarkQueued(ctx context.Context, job *domain.Job) error
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, res *domain.Result) error
	MarkFailed(ctx context.Context, jobID string, cause error) error
	GetStatus(ctx context.Context, jobID string) (tracker.Record, error)
	Progress(jobID string) domain.ProgressSink
}

// CacheInvalidator drops cached results.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// Pinger is a health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds action layer options.
type Config struct {
	JobTimeout      time.Duration
	BulkConcurrency int
	MaxBulkRequests int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Dispatcher Exporter
	Registry   Registry
	Queue      JobQueue
	Tracker    JobTracker
	Cache      CacheInvalidator
	Metrics    *metrics.Metrics
	DB         Pinger
	Storage    Pinger
	Logger     infralogger.Logger
	Now        func() time.Time
}

// Service implements the export actions.
type Service struct {
	cfg        Config
	dispatcher Exporter
	registry   Registry
	queue      JobQueue
	tracker    JobTracker
	cache      CacheInvalidator
	metrics    *metrics.Metrics
	db         Pinger
	storage    Pinger
	log        infralogger.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

// Outcome is the result of an export action: either a queued job or a finished export.
type Outcome struct {
	Queued *domain.Queued
	Result *domain.Result
}

// New creates a service.
func New(cfg Config, deps Deps) *Service {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	if cfg.MaxBulkRequests <= 0 {
		cfg.MaxBulkRequests = defaultMaxBulkRequests
	}
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		cfg:        cfg,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		queue:      deps.Queue,
		tracker:    deps.Tracker,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		db:         deps.DB,
		storage:    deps.Storage,
		log:        deps.Logger,
		now:        deps.Now,
		tracer:     otel.Tracer("export-service"),
	}
}

// BuildRequest turns raw action parameters into an export request. The
// tracking flag, job id and language are lifted out of params; everything
// else stays as filter input.
func BuildRequest(exportType string, params domain.Params) (*domain.Request, error) {
	if exportType == "" {
		return nil, fmt.Errorf("%w: exportType is required", domain.ErrInvalidRequest)
	}

	p := params.Clone()
	delete(p, ParamExportType)

	tracking := normalizeBool(p[ParamEnableJobTracking])
	delete(p, ParamEnableJobTracking)

	jobID, _ := p.String(ParamJobID)
	delete(p, ParamJobID)

	lang, _ := p.String(ParamLangCode)
	if lang == "" {
		lang = domain.DefaultLangCode
	}
	p[ParamLangCode] = lang

	if err := validateDates(p); err != nil {
		return nil, err
	}

	return &domain.Request{
		ExportType:        exportType,
		Params:            p,
		LangCode:          lang,
		EnableJobTracking: tracking,
		JobID:             jobID,
	}, nil
}

// HandleExportAction runs an export directly, or enqueues it when job
// tracking is requested.
func (s *Service) HandleExportAction(ctx context.Context, exportType string, params domain.Params) (*Outcome, error) {
	req, err := BuildRequest(exportType, params)
	if err != nil {
		return nil, err
	}

	s.log.Info("Export requested",
		infralogger.String("export_type", req.ExportType),
		infralogger.Bool("enable_job_tracking", req.EnableJobTracking),
	)

	if !req.EnableJobTracking {
		res, exportErr := s.dispatcher.Export(ctx, req, nil)
		if exportErr != nil {
			return nil, exportErr
		}
		return &Outcome{Result: res}, nil
	}

	queued, err := s.enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{Queued: queued}, nil
}

func (s *Service) enqueue(ctx context.Context, req *domain.Request) (*domain.Queued, error) {
	if _, err := s.registry.Resolve(req.ExportType); err != nil {
		return nil, err
	}
	if s.queue == nil || s.tracker == nil {
		return nil, fmt.Errorf("%w: job queue is not configured", domain.ErrSourceUnavailable)
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	job := &domain.Job{
		ID:         jobID,
		Type:       req.ExportType,
		Params:     req.Params,
		LangCode:   req.LangCode,
		EnqueuedAt: s.now(),
	}

	if err := s.tracker.MarkQueued(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: record queued job: %w", domain.ErrSourceUnavailable, err)
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		if markErr := s.tracker.MarkFailed(context.WithoutCancel(ctx), jobID, err); markErr != nil {
			s.log.Warn("Failed to record job status", infralogger.String("job_id", jobID), infralogger.Error(markErr))
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}

	s.refreshQueueDepth(ctx)
	s.log.Info("Job queued", infralogger.String("job_id", jobID), infralogger.String("export_type", job.Type))

	return &domain.Queued{JobID: jobID, Status: domain.JobStatusQueued}, nil
}

// ListExports returns the registered export types in registration order.
func (s *Service) ListExports() []string {
	return s.registry.ListTypes()
}

// Metrics returns the rolling export counters.
func (s *Service) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// InvalidateCache drops cached results matching pattern and returns how many were removed.
func (s *Service) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.Invalidate(ctx, pattern)
	if err != nil {
		return n, fmt.Errorf("invalidate cache: %w", err)
	}
	return n, nil
}

func (s *Service) refreshQueueDepth(ctx context.Context) {
	if s.queue == nil || s.metrics == nil {
		return
	}
	n, err := s.queue.Len(ctx)
	if err != nil {
		s.log.Debug("Failed to read queue depth", infralogger.Error(err))
		return
	}
	s.metrics.SetQueueDepth(n)
}

func normalizeBool(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "on", "yes":
			return true
		}
		return false
	case float64:
		return b == 1
	case int:
		return b == 1
	default:
		return false
	}
}

func validateDates(p domain.Params) error {
	for _, pair := range dateParams {
		from, fromErr := parseOptionalTime(p, pair[0])
		to, toErr := parseOptionalTime(p, pair[1])
		if err := errors.Join(fromErr, toErr); err != nil {
			return err
		}
		if !from.IsZero() && !to.IsZero() && from.After(to) {
			return fmt.Errorf("%w: %s is after %s", domain.ErrInvalidRequest, pair[0], pair[1])
		}
	}
	return nil
}

func parseOptionalTime(p domain.Params, key string) (time.Time, error) {
	v, ok := p[key]
	if !ok || v == nil || v == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}
