// Package metrics records export counters for the metrics action and for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace prefixes every export service metric.
	Namespace = "export"
)

// Export statuses used as label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusCached  = "cached"
)

// Metrics holds the rolling counters and the Prometheus collectors.
// A nil *Metrics discards every observation.
type Metrics struct {
	rolling *Rolling

	ExportsTotal     *prometheus.CounterVec
	ExportDuration   *prometheus.HistogramVec
	RecordsTotal     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	JobsProcessed    *prometheus.CounterVec
	JobsInFlight     prometheus.Gauge
	QueueDepth       prometheus.Gauge
	BreakerState     *prometheus.GaugeVec
	BreakerTripTotal *prometheus.CounterVec
}

// New creates and registers the collectors. A nil registerer uses the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{rolling: NewRolling(nil)}

	m.initExportMetrics(factory)
	m.initJobMetrics(factory)
	m.initBreakerMetrics(factory)

	return m
}

func (m *Metrics) initExportMetrics(factory promauto.Factory) {
	m.ExportsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "exports_total",
			Help:      "Total number of exports by type and status",
		},
		[]string{"export_type", "status"},
	)

	m.ExportDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "export_duration_seconds",
			Help:      "Duration of non-cached exports in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16), // 50ms to ~27min
		},
		[]string{"export_type"},
	)

	m.RecordsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Total number of records exported",
		},
		[]string{"export_type"},
	)

	m.CacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by outcome",
		},
		[]string{"result"},
	)
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Queued export jobs processed by status",
		},
		[]string{"status"},
	)

	m.JobsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Queued export jobs currently running",
		},
	)

	m.QueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in the export queue",
		},
	)
}

func (m *Metrics) initBreakerMetrics(factory promauto.Factory) {
	m.BreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	m.BreakerTripTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "circuit_breaker",
			Name:      "trips_total",
			Help:      "Times a circuit breaker opened",
		},
		[]string{"name"},
	)
}

// ObserveExport records a finished, non-cached export.
func (m *Metrics) ObserveExport(exportType string, d time.Duration, err error, records int64) {
	if m == nil {
		return
	}

	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}

	m.rolling.Record(d, err == nil, records)
	m.ExportsTotal.WithLabelValues(exportType, status).Inc()
	m.ExportDuration.WithLabelValues(exportType).Observe(d.Seconds())
	if records > 0 {
		m.RecordsTotal.WithLabelValues(exportType).Add(float64(records))
	}
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(exportType string, hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
		m.ExportsTotal.WithLabelValues(exportType, StatusCached).Inc()
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// JobStarted marks a queued job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

// JobFinished records the outcome of a queued job.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsProcessed.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the queue length.
func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetBreakerState publishes a breaker transition. state follows circuitbreaker.State.
func (m *Metrics) SetBreakerState(name string, state int, opened bool) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
	if opened {
		m.BreakerTripTotal.WithLabelValues(name).Inc()
	}
}

// Snapshot returns the rolling counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return m.rolling.Snapshot()
}
