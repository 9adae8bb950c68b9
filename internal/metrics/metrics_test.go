package metrics_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/export-service/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRolling_Counters(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	r := metrics.NewRolling(clk.Now)

	r.Record(100*time.Millisecond, true, 10)
	r.Record(300*time.Millisecond, false, 0)

	s := r.Snapshot()
	assert.Equal(t, int64(2), s.TotalExports)
	assert.Equal(t, int64(1), s.SuccessfulExports)
	assert.Equal(t, int64(1), s.FailedExports)
	assert.Equal(t, int64(200), s.AverageProcessingTimeMs)
	assert.Equal(t, int64(300), s.LastDurationMs)
	assert.Equal(t, int64(10), s.TotalRecords)
	assert.Equal(t, clk.Now().UnixMilli(), s.LastUpdatedAt)
	assert.Zero(t, s.ThroughputRps, "window has not elapsed yet")
}

func TestRolling_Throughput(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	r := metrics.NewRolling(clk.Now)

	r.Record(time.Millisecond, true, 1)
	r.Record(time.Millisecond, true, 1)
	r.Record(time.Millisecond, true, 1)
	clk.Advance(2 * time.Second)
	r.Record(time.Millisecond, true, 1)

	assert.InDelta(t, 2.0, r.Snapshot().ThroughputRps, 0.001)
}

func TestMetrics_Prometheus(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveExport("payment-bills", time.Second, nil, 25)
	m.ObserveExport("payment-bills", time.Second, errors.New("boom"), 0)
	m.ObserveCache("payment-bills", true)
	m.ObserveCache("payment-bills", false)
	m.JobStarted()
	m.JobFinished("completed")
	m.SetBreakerState("render", 1, true)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("payment-bills", metrics.StatusSuccess)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("payment-bills", metrics.StatusFailure)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ExportsTotal.WithLabelValues("payment-bills", metrics.StatusCached)), 0)
	assert.InDelta(t, 25.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("payment-bills")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.JobsInFlight), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.BreakerTripTotal.WithLabelValues("render")), 0)
	assert.Equal(t, int64(2), m.Snapshot().TotalExports)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveExport("x", time.Second, nil, 1)
		m.ObserveCache("x", true)
		m.JobStarted()
		m.JobFinished("failed")
		m.SetQueueDepth(3)
		m.SetBreakerState("x", 0, false)
	})
	assert.Equal(t, metrics.Snapshot{}, m.Snapshot())
}
