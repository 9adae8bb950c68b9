// Package tracker persists job status records as Redis hashes.
package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

const (
	keyPrefix = "export:job:"
	// RecordTTL is refreshed on every write.
	RecordTTL = 7 * 24 * time.Hour
)

// Record is a job status record with numeric fields decoded.
type Record map[string]any

// Tracker reads and writes job status records.
type Tracker struct {
	client redis.UniversalClient
	log    infralogger.Logger
	now    func() time.Time
}

// New creates a tracker over client.
func New(client redis.UniversalClient, log infralogger.Logger) *Tracker {
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Tracker{client: client, log: log, now: time.Now}
}

// Key returns the Redis key of a job record.
func Key(jobID string) string {
	return keyPrefix + jobID
}

// SetStatus merges fields into the job record and refreshes its expiry.
func (t *Tracker) SetStatus(ctx context.Context, jobID string, fields map[string]any) error {
	if jobID == "" || len(fields) == 0 {
		return nil
	}

	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = stringify(v)
	}

	key := Key(jobID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, RecordTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set job status %s: %w", jobID, err)
	}
	return nil
}

// GetStatus returns the job record, or an empty record when none exists.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (Record, error) {
	raw, err := t.client.HGetAll(ctx, Key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job status %s: %w", jobID, err)
	}

	rec := make(Record, len(raw))
	for k, v := range raw {
		rec[k] = decode(k, v)
	}
	return rec, nil
}

// MarkQueued records a freshly enqueued job.
func (t *Tracker) MarkQueued(ctx context.Context, job *domain.Job) error {
	return t.SetStatus(ctx, job.ID, map[string]any{
		domain.FieldStatus:     domain.JobStatusQueued,
		domain.FieldType:       job.Type,
		domain.FieldPercentage: 0,
		domain.FieldEnqueuedAt: job.EnqueuedAt,
	})
}

// MarkProcessing resets progress and flags the job as running.
func (t *Tracker) MarkProcessing(ctx context.Context, jobID string) error {
	return t.SetStatus(ctx, jobID, map[string]any{
		domain.FieldStatus:           domain.JobStatusProcessing,
		domain.FieldPercentage:       0,
		domain.FieldProcessedRecords: 0,
		domain.FieldTotalRecords:     0,
	})
}

// MarkProgress records a progress event.
func (t *Tracker) MarkProgress(ctx context.Context, jobID string, p domain.Progress) error {
	return t.SetStatus(ctx, jobID, map[string]any{
		domain.FieldStatus:           domain.JobStatusProcessing,
		domain.FieldPercentage:       p.Percentage,
		domain.FieldProcessedRecords: p.Processed,
		domain.FieldTotalRecords:     p.Total,
	})
}

// MarkCompleted records a successful result.
func (t *Tracker) MarkCompleted(ctx context.Context, jobID string, res *domain.Result) error {
	return t.SetStatus(ctx, jobID, map[string]any{
		domain.FieldStatus:       domain.JobStatusCompleted,
		domain.FieldPercentage:   100,
		domain.FieldFileName:     res.FileName,
		domain.FieldURL:          res.URL,
		domain.FieldTotalRecords: res.TotalRecords,
		domain.FieldCompletedAt:  t.now(),
	})
}

// MarkFailed records a failure.
func (t *Tracker) MarkFailed(ctx context.Context, jobID string, cause error) error {
	return t.SetStatus(ctx, jobID, map[string]any{
		domain.FieldStatus:   domain.JobStatusFailed,
		domain.FieldError:    cause.Error(),
		domain.FieldFailedAt: t.now(),
	})
}

// Progress returns a sink that persists progress for jobID. Write failures are logged.
func (t *Tracker) Progress(jobID string) domain.ProgressSink {
	return domain.ProgressFunc(func(ctx context.Context, p domain.Progress) {
		if err := t.MarkProgress(ctx, jobID, p); err != nil {
			t.log.Warn("Failed to record job progress",
				infralogger.String("job_id", jobID),
				infralogger.Error(err),
			)
		}
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case domain.JobStatus:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func decode(field, value string) any {
	switch field {
	case domain.FieldPercentage:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	case domain.FieldProcessedRecords, domain.FieldTotalRecords:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return value
}
