package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/export-service/internal/pipeline"
)

func double(_ context.Context, n int) (int, error) { return n * 2, nil }

func TestProcessInBatches_PreservesOrderAndReportsProgress(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6, 7}
	var progress [][2]int

	out, err := pipeline.ProcessInBatches(t.Context(), items, 3, double, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14}, out)
	assert.Equal(t, [][2]int{{3, 7}, {6, 7}, {7, 7}}, progress)
}

func TestProcessInBatches_StopsOnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	errBad := errors.New("bad item")

	_, err := pipeline.ProcessInBatches(t.Context(), []int{1, 2, 3, 4, 5, 6}, 2, func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		if n == 3 {
			return 0, errBad
		}
		return n, nil
	}, nil)

	require.ErrorIs(t, err, errBad)
	assert.LessOrEqual(t, calls.Load(), int32(4), "later batches must not run")
}

func TestProcessInParallel_JoinsChunksInOrder(t *testing.T) {
	t.Parallel()

	r := pipeline.NewBatchRunner(3, nil)
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	var chunks atomic.Int32
	out := pipeline.ProcessInParallel(t.Context(), r, items, func(_ context.Context, chunk []int) ([]int, error) {
		chunks.Add(1)
		res := make([]int, len(chunk))
		for i, n := range chunk {
			res[i] = n * 10
		}
		return res, nil
	})

	assert.Equal(t, int32(3), chunks.Load())
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}, out)
}

func TestProcessInParallel_FailedChunkIsEmpty(t *testing.T) {
	t.Parallel()

	r := pipeline.NewBatchRunner(3, nil)
	items := []int{1, 2, 3, 4, 5, 6}

	out := pipeline.ProcessInParallel(t.Context(), r, items, func(_ context.Context, chunk []int) ([]int, error) {
		switch chunk[0] {
		case 3:
			return nil, errors.New("chunk failed")
		case 5:
			panic("chunk panicked")
		}
		return chunk, nil
	})

	assert.Equal(t, []int{1, 2}, out)
}

func TestProcessInParallel_Empty(t *testing.T) {
	t.Parallel()

	out := pipeline.ProcessInParallel(t.Context(), pipeline.NewBatchRunner(0, nil), []int(nil), func(_ context.Context, chunk []int) ([]int, error) {
		return chunk, nil
	})
	assert.Empty(t, out)
}

func TestProcessAllInParallel_JoinsChunksInOrder(t *testing.T) {
	t.Parallel()

	r := pipeline.NewBatchRunner(3, nil)
	out, err := pipeline.ProcessAllInParallel(t.Context(), r, []int{1, 2, 3, 4, 5, 6, 7}, func(_ context.Context, chunk []int) ([]int, error) {
		res := make([]int, len(chunk))
		for i, n := range chunk {
			res[i] = n * 10
		}
		return res, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70}, out)
}

func TestProcessAllInParallel_FailsOnChunkErrorOrPanic(t *testing.T) {
	t.Parallel()

	r := pipeline.NewBatchRunner(3, nil)
	errBad := errors.New("chunk failed")

	_, err := pipeline.ProcessAllInParallel(t.Context(), r, []int{1, 2, 3, 4, 5, 6}, func(_ context.Context, chunk []int) ([]int, error) {
		if chunk[0] == 3 {
			return nil, errBad
		}
		return chunk, nil
	})
	require.ErrorIs(t, err, errBad)

	_, err = pipeline.ProcessAllInParallel(t.Context(), r, []int{1, 2, 3, 4, 5, 6}, func(_ context.Context, chunk []int) ([]int, error) {
		if chunk[0] == 5 {
			panic("chunk panicked")
		}
		return chunk, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
