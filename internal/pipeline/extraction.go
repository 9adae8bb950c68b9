// Package pipeline implements the default paginate, transform and render
// export strategy and the batch helpers it fans work out with.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/circuitbreaker"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/render"
)

const (
	defaultBatchSize = 1000
	fileExtension    = ".xlsx"
	percentScale     = 100
	// EmptyMessage is set on zero-record results.
	EmptyMessage = "No data in selected range"
)

var errRowsLost = errors.New("rows lost in transform")

// Sources resolves data adapters by name.
type Sources interface {
	Source(name string) (domain.DataSource, error)
}

// Renderer produces the export file.
type Renderer interface {
	Upload(ctx context.Context, req render.UploadRequest) (*render.UploadResult, error)
}

// Config tunes the extraction.
type Config struct {
	BatchSize int
	// RenderEmpty sends zero-record exports to the renderer instead of short-circuiting.
	RenderEmpty bool
}

// Deps are the collaborators of an Extraction.
type Deps struct {
	Sources       Sources
	Renderer      Renderer
	Runner        *BatchRunner
	SourceBreaker *circuitbreaker.Breaker
	RenderBreaker *circuitbreaker.Breaker
	// SourceLimiter paces Count and Find calls across all exports. Nil means unlimited.
	SourceLimiter *rate.Limiter
	Logger        infralogger.Logger
	// Now overrides the clock used for file names.
	Now func() time.Time
}

// Extraction is the default export strategy.
type Extraction struct {
	cfg           Config
	sources       Sources
	renderer      Renderer
	runner        *BatchRunner
	sourceBreaker *circuitbreaker.Breaker
	renderBreaker *circuitbreaker.Breaker
	limiter       *rate.Limiter
	log           infralogger.Logger
	now           func() time.Time
}

var _ domain.Strategy = (*Extraction)(nil)

// NewExtraction creates the default strategy.
func NewExtraction(cfg Config, deps Deps) *Extraction {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if deps.Logger == nil {
		deps.Logger = infralogger.NewNop()
	}
	if deps.Runner == nil {
		deps.Runner = NewBatchRunner(defaultMaxWorkers, deps.Logger)
	}
	if deps.SourceBreaker == nil {
		deps.SourceBreaker = circuitbreaker.New(circuitbreaker.Config{Name: "datasource"})
	}
	if deps.RenderBreaker == nil {
		deps.RenderBreaker = circuitbreaker.New(circuitbreaker.Config{Name: "render"})
	}
	if deps.SourceLimiter == nil {
		deps.SourceLimiter = rate.NewLimiter(rate.Inf, 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Extraction{
		cfg:           cfg,
		sources:       deps.Sources,
		renderer:      deps.Renderer,
		runner:        deps.Runner,
		sourceBreaker: deps.SourceBreaker,
		renderBreaker: deps.RenderBreaker,
		limiter:       deps.SourceLimiter,
		log:           deps.Logger,
		now:           deps.Now,
	}
}

// BuildFilter merges the definition defaults with its filter builder output.
func BuildFilter(def *domain.Definition, params domain.Params) domain.Filter {
	if def.FilterBuilder == nil {
		return domain.Merge(def.DefaultFilters)
	}
	return domain.Merge(def.DefaultFilters, def.FilterBuilder.BuildFilter(params))
}

// FileName returns the artifact name for an export started at t.
func FileName(exportType string, t time.Time) string {
	return fmt.Sprintf("%s_%d%s", exportType, t.UnixMilli(), fileExtension)
}

// Run pages through the definition's data source, transforms every row and
// hands the result set to the renderer.
func (e *Extraction) Run(
	ctx context.Context,
	def *domain.Definition,
	req *domain.Request,
	sink domain.ProgressSink,
) (*domain.Result, error) {
	if sink == nil {
		sink = domain.NopProgress
	}

	source, err := e.sources.Source(def.DataSource)
	if err != nil {
		return nil, fmt.Errorf("resolve data source %q: %w", def.DataSource, err)
	}

	filter := BuildFilter(def, req.Params)
	log := e.log.With(
		infralogger.String("export_type", def.Type),
		infralogger.String("data_source", def.DataSource),
	)
	log.Debug("Extraction filter", infralogger.Any("filter", filter))

	if paceErr := e.pace(ctx); paceErr != nil {
		return nil, fmt.Errorf("count %s: %w", def.Type, paceErr)
	}
	total, err := circuitbreaker.Call(ctx, e.sourceBreaker, func(ctx context.Context) (int64, error) {
		return source.Count(ctx, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", def.Type, err)
	}

	sink.Report(ctx, domain.Progress{Percentage: 0, Processed: 0, Total: total})

	if total == 0 && !e.cfg.RenderEmpty {
		log.Info("No records matched, skipping render")
		return &domain.Result{TotalRecords: 0, Message: EmptyMessage}, nil
	}

	rows, err := e.extract(ctx, def, req.Lang(), source, filter, total, sink)
	if err != nil {
		return nil, err
	}

	upload := render.UploadRequest{
		FileName:  FileName(def.Type, e.now()),
		SheetName: def.SheetName,
		Data:      rows,
		Columns:   def.ColumnLabels(req.Lang()),
	}

	rendered, err := circuitbreaker.Call(ctx, e.renderBreaker, func(ctx context.Context) (*render.UploadResult, error) {
		return e.renderer.Upload(ctx, upload)
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", def.Type, err)
	}

	log.Info("Extraction complete",
		infralogger.Int64("total_records", total),
		infralogger.Int("rows", len(rows)),
		infralogger.String("file_name", rendered.FileName),
	)

	return &domain.Result{
		FileName:     rendered.FileName,
		URL:          rendered.URL,
		TotalRecords: total,
	}, nil
}

func (e *Extraction) extract(
	ctx context.Context,
	def *domain.Definition,
	lang string,
	source domain.DataSource,
	filter domain.Filter,
	total int64,
	sink domain.ProgressSink,
) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, total)
	var processed int64

	for offset := int64(0); offset < total; offset += int64(e.cfg.BatchSize) {
		query := domain.Query{Filter: filter, Limit: e.cfg.BatchSize, Offset: int(offset)}

		if paceErr := e.pace(ctx); paceErr != nil {
			return nil, fmt.Errorf("find %s offset %d: %w", def.Type, offset, paceErr)
		}
		page, err := circuitbreaker.Call(ctx, e.sourceBreaker, func(ctx context.Context) ([]domain.Row, error) {
			return source.Find(ctx, query)
		})
		if err != nil {
			return nil, fmt.Errorf("find %s offset %d: %w", def.Type, offset, err)
		}

		transformed, err := e.transform(ctx, def, lang, page)
		if err != nil {
			return nil, fmt.Errorf("transform %s offset %d: %w", def.Type, offset, err)
		}
		rows = append(rows, transformed...)
		processed += int64(len(page))

		sink.Report(ctx, domain.Progress{
			Percentage: math.Round(float64(processed) / float64(total) * percentScale),
			Processed:  processed,
			Total:      total,
		})
	}

	return rows, nil
}

// pace waits for a data source token. Waiting is kept outside the breaker so
// a throttled export never counts as a source failure.
func (e *Extraction) pace(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return nil
}

func (e *Extraction) transform(
	ctx context.Context,
	def *domain.Definition,
	lang string,
	page []domain.Row,
) ([]domain.Row, error) {
	if def.Transform == nil || len(page) == 0 {
		return page, nil
	}

	out, err := ProcessAllInParallel(ctx, e.runner, page, func(_ context.Context, chunk []domain.Row) ([]domain.Row, error) {
		rows := make([]domain.Row, len(chunk))
		for i, row := range chunk {
			rows[i] = def.Transform(row, lang)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) != len(page) {
		return nil, fmt.Errorf("%w: transformed %d of %d rows", errRowsLost, len(out), len(page))
	}
	return out, nil
}
