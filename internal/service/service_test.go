package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/cache"
	"github.com/jonesrussell/north-cloud/export-service/internal/dispatcher"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/queue"
	"github.com/jonesrussell/north-cloud/export-service/internal/registry"
	"github.com/jonesrussell/north-cloud/export-service/internal/remoteworker"
	"github.com/jonesrussell/north-cloud/export-service/internal/service"
	"github.com/jonesrussell/north-cloud/export-service/internal/tracker"
)

const reportType = "report"

// stepStrategy reports a few progress events and returns a fixed result.
type stepStrategy struct {
	mu      sync.Mutex
	runs    int
	last    *domain.Request
	err     error
	block   bool
	explode bool
}

func (s *stepStrategy) Run(ctx context.Context, _ *domain.Definition, req *domain.Request, sink domain.ProgressSink) (*domain.Result, error) {
	s.mu.Lock()
	s.runs++
	s.last = req
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.explode {
		panic("strategy exploded")
	}

	if sink != nil {
		sink.Report(ctx, domain.Progress{Percentage: 0, Processed: 0, Total: 4})
		sink.Report(ctx, domain.Progress{Percentage: 50, Processed: 2, Total: 4})
		sink.Report(ctx, domain.Progress{Percentage: 100, Processed: 4, Total: 4})
	}
	return &domain.Result{FileName: "report.xlsx", URL: "https://files/report.xlsx", TotalRecords: 4}, nil
}

func (s *stepStrategy) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type env struct {
	svc      *service.Service
	strategy *stepStrategy
	tracker  *tracker.Tracker
	queue    *queue.Queue
	mr       *miniredis.Miniredis
}

func newEnv(t *testing.T, cfg service.Config) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := infralogger.NewNop()
	strategy := &stepStrategy{}

	reg := registry.New(log)
	require.NoError(t, reg.Register(&domain.Definition{Type: reportType, Enabled: true, Strategy: strategy}))
	require.NoError(t, reg.Register(&domain.Definition{Type: "disabled", Enabled: false, Strategy: strategy}))

	trk := tracker.New(client, log)
	q := queue.New(client, queue.Config{PopTimeout: 50 * time.Millisecond}, log)
	store := cache.New(client, log, cache.Options{})

	d := dispatcher.New(dispatcher.Deps{
		Registry: reg,
		Cache:    store,
		Tracker:  trk,
		Logger:   log,
	})

	svc := service.New(cfg, service.Deps{
		Dispatcher: d,
		Registry:   reg,
		Queue:      q,
		Tracker:    trk,
		Cache:      store,
		DB:         pinger{},
		Storage:    pinger{err: errors.New("gateway down")},
		Logger:     log,
	})

	return &env{svc: svc, strategy: strategy, tracker: trk, queue: q, mr: mr}
}

func TestHandleExportAction_Direct(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	out, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{"state": "completed"})
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Nil(t, out.Queued)
	assert.Equal(t, "https://files/report.xlsx", out.Result.URL)
	assert.Equal(t, 1, e.strategy.Runs())

	n, err := e.queue.Len(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleExportAction_QueuesTrackedRequests(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	out, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{
		"enableJobTracking": "yes",
		"dateFr":            "2024-01-01",
		"dateTo":            "2024-01-31",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Queued)
	assert.Nil(t, out.Result)
	assert.NotEmpty(t, out.Queued.JobID)
	assert.Equal(t, domain.JobStatusQueued, out.Queued.Status)
	assert.Zero(t, e.strategy.Runs())

	n, err := e.queue.Len(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	status, err := e.svc.GetJobStatus(t.Context(), out.Queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, "queued", status["status"])
	assert.Equal(t, out.Queued.JobID, status["jobId"])
}

func TestHandleExportAction_KeepsSuppliedJobID(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	out, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{
		"enableJobTracking": true,
		"jobId":             "job-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", out.Queued.JobID)
}

func TestHandleExportAction_UnknownTypeCreatesNoJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	for _, exportType := range []string{"does-not-exist", "disabled"} {
		_, err := e.svc.HandleExportAction(t.Context(), exportType, domain.Params{
			"enableJobTracking": true,
			"jobId":             "ghost",
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	}

	assert.False(t, e.mr.Exists(tracker.Key("ghost")))
	n, err := e.queue.Len(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleExportAction_Validation(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	tests := []struct {
		name       string
		exportType string
		params     domain.Params
	}{
		{name: "missing type", exportType: "", params: domain.Params{}},
		{name: "bad date", exportType: reportType, params: domain.Params{"dateFr": "yesterday"}},
		{name: "inverted range", exportType: reportType, params: domain.Params{"dateFr": "2024-02-01", "dateTo": "2024-01-01"}},
		{name: "bad updated", exportType: reportType, params: domain.Params{"updatedTo": "31/01/2024"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.HandleExportAction(t.Context(), tt.exportType, tt.params)
			require.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
	assert.Zero(t, e.strategy.Runs())
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    any
		tracking bool
	}{
		{name: "bool true", value: true, tracking: true},
		{name: "string true", value: "TRUE", tracking: true},
		{name: "one", value: "1", tracking: true},
		{name: "on", value: "on", tracking: true},
		{name: "yes", value: "yes", tracking: true},
		{name: "json number", value: float64(1), tracking: true},
		{name: "false", value: "false", tracking: false},
		{name: "garbage", value: "maybe", tracking: false},
		{name: "absent", value: nil, tracking: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := service.BuildRequest(reportType, domain.Params{
				"exportType":        "ignored",
				"enableJobTracking": tt.value,
				"jobId":             "j1",
				"state":             "completed",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.tracking, req.EnableJobTracking)
			assert.Equal(t, reportType, req.ExportType)
			assert.Equal(t, "j1", req.JobID)
			assert.Equal(t, "vi", req.LangCode)
			assert.Equal(t, domain.Params{"state": "completed", "langCode": "vi"}, req.Params)
		})
	}
}

func TestProcessJob_Completes(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	out, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{"enableJobTracking": true})
	require.NoError(t, err)

	job := &domain.Job{ID: out.Queued.JobID, Type: reportType, Params: domain.Params{"langCode": "vi"}, LangCode: "vi"}
	require.NoError(t, e.svc.ProcessJob(t.Context(), job))

	status, err := e.svc.GetJobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status["status"])
	assert.InDelta(t, 100.0, status["percentage"], 0.001)
	assert.Equal(t, int64(4), status["totalRecords"])
	assert.Equal(t, "https://files/report.xlsx", status["url"])
	assert.Equal(t, "report.xlsx", status["fileName"])
}

func TestProcessJob_CachedResultStillCompletes(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	_, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{})
	require.NoError(t, err)

	job := &domain.Job{ID: "cached-job", Type: reportType, Params: domain.Params{"langCode": "vi"}, LangCode: "vi"}
	require.NoError(t, e.svc.ProcessJob(t.Context(), job))
	assert.Equal(t, 1, e.strategy.Runs())

	status, err := e.svc.GetJobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status["status"])
}

func TestProcessJob_Fails(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})
	e.strategy.err = domain.ErrSourceUnavailable

	job := &domain.Job{ID: "failing", Type: reportType, Params: domain.Params{}}
	err := e.svc.ProcessJob(t.Context(), job)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)

	status, err := e.svc.GetJobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status["status"])
	assert.Contains(t, status["error"], "data source unavailable")
	assert.NotEmpty(t, status["failedAt"])
}

func TestProcessJob_PanicMarksFailed(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})
	e.strategy.explode = true

	job := &domain.Job{ID: "panicking", Type: reportType, Params: domain.Params{}}
	var err error
	require.NotPanics(t, func() { err = e.svc.ProcessJob(t.Context(), job) })
	require.Error(t, err)

	status, err := e.svc.GetJobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status["status"])
	assert.Contains(t, status["error"], "strategy exploded")
}

func TestProcessJob_Timeout(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{JobTimeout: 50 * time.Millisecond})
	e.strategy.block = true

	job := &domain.Job{ID: "slow", Type: reportType, Params: domain.Params{}}
	err := e.svc.ProcessJob(t.Context(), job)
	require.ErrorIs(t, err, domain.ErrTimeout)

	status, err := e.svc.GetJobStatus(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status["status"])
	assert.Contains(t, status["error"], "timed out")
}

func TestQueuedExportEndToEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	out, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{
		"enableJobTracking": true,
		"state":             "completed",
		"dateFr":            "2024-01-01",
		"dateTo":            "2024-01-31",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.queue.Start(ctx, e.svc.ProcessJob, 2)
	defer e.queue.Stop()

	require.Eventually(t, func() bool {
		status, statusErr := e.svc.GetJobStatus(t.Context(), out.Queued.JobID)
		return statusErr == nil && status["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	status, err := e.svc.GetJobStatus(t.Context(), out.Queued.JobID)
	require.NoError(t, err)
	assert.Equal(t, "https://files/report.xlsx", status["url"])
	assert.Equal(t, int64(4), status["totalRecords"])
}

func TestGetJobStatus_Unknown(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	status, err := e.svc.GetJobStatus(t.Context(), "nope")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"jobId": "nope"}, status)

	_, err = e.svc.GetJobStatus(t.Context(), "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExportBulk(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{BulkConcurrency: 2})

	items, err := e.svc.ExportBulk(t.Context(), []domain.Params{
		{"exportType": reportType},
		{"exportType": "does-not-exist"},
		{"exportType": reportType, "enableJobTracking": true},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.NotNil(t, items[0].Result)
	require.ErrorIs(t, items[1].Err(), domain.ErrNotFound)
	assert.NotEmpty(t, items[1].Error)
	assert.NotNil(t, items[2].Queued)

	_, err = e.svc.ExportBulk(t.Context(), nil)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRunWorker(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	res, err := e.svc.RunWorker(t.Context(), remoteworker.RunRequest{
		ExportType: reportType,
		Params:     domain.Params{"state": "completed"},
		JobID:      "remote-1",
		LangCode:   "en",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.TotalRecords)
	assert.Equal(t, "en", e.strategy.last.LangCode)
	assert.Equal(t, "remote-1", e.strategy.last.JobID)
	assert.False(t, e.mr.Exists(tracker.Key("remote-1")))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	h := e.svc.HealthCheck(t.Context())
	assert.Equal(t, 1, h.Code)
	assert.Equal(t, service.HealthHealthy, h.Checks["db"].Status)
	assert.NotNil(t, h.Checks["db"].Latency)
	assert.Equal(t, service.HealthUnhealthy, h.Checks["storage"].Status)
	assert.Equal(t, "gateway down", h.Checks["storage"].Error)

	bare := service.New(service.Config{}, service.Deps{})
	assert.Equal(t, service.HealthUninitialized, bare.HealthCheck(t.Context()).Checks["db"].Status)
}

func TestInvalidateCache(t *testing.T) {
	t.Parallel()

	e := newEnv(t, service.Config{})

	_, err := e.svc.HandleExportAction(t.Context(), reportType, domain.Params{})
	require.NoError(t, err)

	n, err := e.svc.InvalidateCache(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.svc.HandleExportAction(t.Context(), reportType, domain.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, e.strategy.Runs())
}
