// Package dispatcher runs one export request end to end: cache lookup, job
// tracking, strategy selection and result caching.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
)

// Resolver finds export definitions.
type Resolver interface {
	Resolve(exportType string) (*domain.Definition, error)
}

// Cache stores export results.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Tracker records job status for tracked requests.
type Tracker interface {
	MarkProcessing(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, res *domain.Result) error
	MarkFailed(ctx context.Context, jobID string, cause error) error
}

// RemoteWorker runs an export on another deployment.
type RemoteWorker interface {
	Enabled() bool
	Run(ctx context.Context, req remoteworker.RunRequest) (*domain.Result, error)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Registry Resolver
	Cache    Cache
	Tracker  Tracker
	// Default runs definitions that carry no Strategy of their own.
	Default domain.Strategy
	Remote  RemoteWorker
	// RemoteBreaker guards calls to Remote.
	RemoteBreaker *circuitbreaker.Breaker
	Metrics       *metrics.Metrics
	Logger        infralogger.Logger
}

// Dispatcher is the composition root of a single export.
type Dispatcher struct {
	registry Resolver
	cache    Cache
	tracker  Tracker
	fallback domain.Strategy
	remote   RemoteWorker
	breaker  *circuitbreaker.Breaker
	metrics  *metrics.Metrics
	log      infralogger.Logger
	tracer   trace.Tracer
}

// New creates a dispatcher.
func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	if deps.RemoteBreaker == nil {
		deps.RemoteBreaker = circuitbreaker.New(circuitbreaker.Config{Name: "remoteworker"})
	}

	return &Dispatcher{
		registry: deps.Registry,
		cache:    deps.Cache,
		tracker:  deps.Tracker,
		fallback: deps.Default,
		remote:   deps.Remote,
		breaker:  deps.RemoteBreaker,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		tracer:   otel.Tracer("export-dispatcher"),
	}
}

// Export runs req. Progress events go to sink; a nil sink discards them.
func (d *Dispatcher) Export(ctx context.Context, req *domain.Request, sink domain.ProgressSink) (*domain.Result, error) {
	if req == nil || req.ExportType == "" {
		return nil, fmt.Errorf("%w: exportType is required", domain.ErrInvalidRequest)
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.export",
		trace.WithAttributes(
			attribute.String("export.type", req.ExportType),
			attribute.String("export.job_id", req.JobID),
		),
	)
	defer span.End()

	def, err := d.registry.Resolve(req.ExportType)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key, err := Fingerprint(def.Type, req.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	log := infralogger.FromContextOr(ctx, d.log).With(
		infralogger.String("export_type", def.Type),
		infralogger.String("job_id", req.JobID),
	)

	var cached domain.Result
	if d.cache != nil && d.cache.GetJSON(ctx, key, &cached) {
		d.metrics.ObserveCache(def.Type, true)
		span.SetAttributes(attribute.Bool("export.cache_hit", true))
		log.Debug("Export served from cache")
		return &cached, nil
	}
	d.metrics.ObserveCache(def.Type, false)

	if req.Tracked() {
		d.track(ctx, log, "processing", func(ctx context.Context) error {
			return d.tracker.MarkProcessing(ctx, req.JobID)
		})
	}

	start := time.Now()
	res, err := d.execute(ctx, log, def, req, sink)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		d.metrics.ObserveExport(def.Type, elapsed, err, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if req.Tracked() {
			d.track(context.WithoutCancel(ctx), log, "failed", func(ctx context.Context) error {
				return d.tracker.MarkFailed(ctx, req.JobID, err)
			})
		}

		log.Error("Export failed", infralogger.Duration("elapsed", elapsed), infralogger.Error(err))
		return nil, err
	}

	d.metrics.ObserveExport(def.Type, elapsed, nil, res.TotalRecords)
	span.SetAttributes(attribute.Int64("export.total_records", res.TotalRecords))

	if d.cache != nil {
		if cacheErr := d.cache.SetJSON(ctx, key, res, def.TTL()); cacheErr != nil {
			log.Warn("Failed to cache export result", infralogger.Error(cacheErr))
		}
	}

	if req.Tracked() {
		d.track(ctx, log, "completed", func(ctx context.Context) error {
			return d.tracker.MarkCompleted(ctx, req.JobID, res)
		})
	}

	log.Info("Export completed",
		infralogger.Duration("elapsed", elapsed),
		infralogger.Int64("total_records", res.TotalRecords),
		infralogger.String("file_name", res.FileName),
	)

	return res, nil
}

// RunLocal runs req in-process, ignoring the remote worker setting. It backs
// the worker endpoint so one deployment can serve as another's remote worker.
func (d *Dispatcher) RunLocal(ctx context.Context, req *domain.Request, sink domain.ProgressSink) (*domain.Result, error) {
	if req == nil || req.ExportType == "" {
		return nil, fmt.Errorf("%w: exportType is required", domain.ErrInvalidRequest)
	}

	def, err := d.registry.Resolve(req.ExportType)
	if err != nil {
		return nil, err
	}
	return d.strategyFor(def).Run(ctx, def, req, sink)
}

func (d *Dispatcher) execute(
	ctx context.Context,
	log infralogger.Logger,
	def *domain.Definition,
	req *domain.Request,
	sink domain.ProgressSink,
) (*domain.Result, error) {
	if def.UseRemoteWorker {
		if d.remote != nil && d.remote.Enabled() {
			return d.runRemote(ctx, def, req, sink)
		}
		log.Debug("No remote worker configured, running in-process")
	}

	return d.strategyFor(def).Run(ctx, def, req, sink)
}

// runRemote reports only the start and end of a remote run; the worker
// does not stream progress back.
func (d *Dispatcher) runRemote(
	ctx context.Context,
	def *domain.Definition,
	req *domain.Request,
	sink domain.ProgressSink,
) (*domain.Result, error) {
	if sink == nil {
		sink = domain.NopProgress
	}
	sink.Report(ctx, domain.Progress{Percentage: 0})

	res, err := circuitbreaker.Call(ctx, d.breaker, func(ctx context.Context) (*domain.Result, error) {
		return d.remote.Run(ctx, remoteworker.RunRequest{
			ExportType: def.Type,
			Params:     req.Params,
			JobID:      req.JobID,
			LangCode:   req.Lang(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("remote worker %s: %w", def.Type, err)
	}

	sink.Report(ctx, domain.Progress{
		Percentage: 100,
		Processed:  res.TotalRecords,
		Total:      res.TotalRecords,
	})
	return res, nil
}

func (d *Dispatcher) strategyFor(def *domain.Definition) domain.Strategy {
	if def.Strategy != nil {
		return def.Strategy
	}
	return d.fallback
}

func (d *Dispatcher) track(ctx context.Context, log infralogger.Logger, status string, write func(context.Context) error) {
	if d.tracker == nil {
		return
	}
	if err := write(ctx); err != nil {
		log.Warn("Failed to record job status",
			infralogger.String("status", status),
			infralogger.Error(err),
		)
	}
}
