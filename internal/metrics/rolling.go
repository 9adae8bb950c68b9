package metrics

import (
	"math"
	"sync"
	"time"
)

const throughputWindow = time.Second

// Snapshot is the JSON view of the rolling export counters.
type Snapshot struct {
	TotalExports            int64   `json:"totalExports"`
	SuccessfulExports       int64   `json:"successfulExports"`
	FailedExports           int64   `json:"failedExports"`
	AverageProcessingTimeMs int64   `json:"averageProcessingTimeMs"`
	ThroughputRps           float64 `json:"throughputRps"`
	LastDurationMs          int64   `json:"lastDurationMs"`
	LastUpdatedAt           int64   `json:"lastUpdatedAt"`
	TotalRecords            int64   `json:"totalRecords"`
}

// Rolling keeps in-process export counters and a throughput estimate
// recomputed whenever at least a second has passed since the last window.
type Rolling struct {
	mu          sync.Mutex
	snap        Snapshot
	totalTime   time.Duration
	windowStart time.Time
	windowCount int64
	now         func() time.Time
}

// NewRolling creates zeroed counters.
func NewRolling(now func() time.Time) *Rolling {
	if now == nil {
		now = time.Now
	}
	return &Rolling{now: now, windowStart: now()}
}

// Record adds one finished export.
func (r *Rolling) Record(d time.Duration, success bool, records int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	r.snap.TotalExports++
	if success {
		r.snap.SuccessfulExports++
	} else {
		r.snap.FailedExports++
	}
	r.snap.TotalRecords += records

	r.totalTime += d
	r.snap.AverageProcessingTimeMs = (r.totalTime / time.Duration(r.snap.TotalExports)).Milliseconds()
	r.snap.LastDurationMs = d.Milliseconds()
	r.snap.LastUpdatedAt = now.UnixMilli()

	r.windowCount++
	elapsed := now.Sub(r.windowStart)
	if elapsed >= throughputWindow {
		rps := float64(r.windowCount) / elapsed.Seconds()
		r.snap.ThroughputRps = math.Round(rps*100) / 100
		r.windowCount = 0
		r.windowStart = now
	}
}

// Snapshot returns a copy of the counters.
func (r *Rolling) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
