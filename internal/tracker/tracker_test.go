package tracker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
	"github.com/jonesrussell/north-cloud/export-service/internal/tracker"
)

func setup(t *testing.T) (*tracker.Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return tracker.New(client, infralogger.NewNop()), mr
}

func TestTracker_SetStatusMergesAndExpires(t *testing.T) {
	t.Parallel()

	tr, mr := setup(t)
	ctx := t.Context()

	require.NoError(t, tr.SetStatus(ctx, "job-1", map[string]any{domain.FieldStatus: "queued", domain.FieldType: "payment-bills"}))
	require.NoError(t, tr.SetStatus(ctx, "job-1", map[string]any{domain.FieldStatus: "processing"}))

	assert.Equal(t, "processing", mr.HGet(tracker.Key("job-1"), domain.FieldStatus))
	assert.Equal(t, "payment-bills", mr.HGet(tracker.Key("job-1"), domain.FieldType))
	assert.Equal(t, tracker.RecordTTL, mr.TTL(tracker.Key("job-1")))
}

func TestTracker_GetStatusDecodesNumbers(t *testing.T) {
	t.Parallel()

	tr, _ := setup(t)
	ctx := t.Context()

	require.NoError(t, tr.MarkProgress(ctx, "job-2", domain.Progress{Percentage: 42.5, Processed: 850, Total: 2000}))

	rec, err := tr.GetStatus(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "processing", rec[domain.FieldStatus])
	assert.InDelta(t, 42.5, rec[domain.FieldPercentage], 0.0001)
	assert.Equal(t, int64(850), rec[domain.FieldProcessedRecords])
	assert.Equal(t, int64(2000), rec[domain.FieldTotalRecords])
}

func TestTracker_GetStatusMissing(t *testing.T) {
	t.Parallel()

	tr, _ := setup(t)

	rec, err := tr.GetStatus(t.Context(), "nope")
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestTracker_Lifecycle(t *testing.T) {
	t.Parallel()

	tr, _ := setup(t)
	ctx := t.Context()

	job := &domain.Job{ID: "job-3", Type: "payment-bills", EnqueuedAt: time.Now()}
	require.NoError(t, tr.MarkQueued(ctx, job))
	require.NoError(t, tr.MarkProcessing(ctx, job.ID))
	require.NoError(t, tr.MarkCompleted(ctx, job.ID, &domain.Result{
		FileName: "payment-bills_1.xlsx", URL: "https://files/payment-bills_1.xlsx", TotalRecords: 12,
	}))

	rec, err := tr.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec[domain.FieldStatus])
	assert.InDelta(t, 100.0, rec[domain.FieldPercentage], 0.0001)
	assert.Equal(t, int64(12), rec[domain.FieldTotalRecords])
	assert.Equal(t, "https://files/payment-bills_1.xlsx", rec[domain.FieldURL])
	assert.NotEmpty(t, rec[domain.FieldCompletedAt])
	assert.NotEmpty(t, rec[domain.FieldEnqueuedAt])
}

func TestTracker_MarkFailed(t *testing.T) {
	t.Parallel()

	tr, _ := setup(t)
	ctx := t.Context()

	require.NoError(t, tr.MarkFailed(ctx, "job-4", errors.New("render failure: 500")))

	rec, err := tr.GetStatus(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, "failed", rec[domain.FieldStatus])
	assert.Equal(t, "render failure: 500", rec[domain.FieldError])
	assert.NotEmpty(t, rec[domain.FieldFailedAt])
}

func TestTracker_ProgressSinkSwallowsErrors(t *testing.T) {
	t.Parallel()

	tr, mr := setup(t)
	mr.Close()

	assert.NotPanics(t, func() {
		tr.Progress("job-5").Report(t.Context(), domain.Progress{Percentage: 10})
	})
}
