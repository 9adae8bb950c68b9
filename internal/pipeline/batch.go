package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
)

const defaultMaxWorkers = 4

// BatchRunner fans work out over goroutines.
type BatchRunner struct {
	maxWorkers int
	log        infralogger.Logger
}

// NewBatchRunner creates a runner that splits parallel work into maxWorkers chunks.
func NewBatchRunner(maxWorkers int, log infralogger.Logger) *BatchRunner {
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &BatchRunner{maxWorkers: maxWorkers, log: log}
}

// MaxWorkers returns the chunk count used by ProcessInParallel.
func (r *BatchRunner) MaxWorkers() int {
	return r.maxWorkers
}

// ProcessInBatches runs fn over items one batch at a time. Items inside a batch
// run concurrently. Results keep input order and the first error aborts.
// onBatch, when set, is called with the processed and total counts after each batch.
func ProcessInBatches[T, R any](
	ctx context.Context,
	items []T,
	batchSize int,
	fn func(ctx context.Context, item T) (R, error),
	onBatch func(processed, total int),
) ([]R, error) {
	if batchSize <= 0 {
		batchSize = len(items)
	}

	results := make([]R, len(items))
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				out, err := fn(gctx, items[i])
				if err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
				results[i] = out
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		if onBatch != nil {
			onBatch(end, len(items))
		}
	}

	return results, nil
}

// ProcessInParallel splits items into near-equal chunks, runs fn on each chunk
// in its own goroutine and joins the results in chunk order. A chunk whose fn
// fails or panics contributes no results.
func ProcessInParallel[T, R any](
	ctx context.Context,
	r *BatchRunner,
	items []T,
	fn func(ctx context.Context, chunk []T) ([]R, error),
) []R {
	if len(items) == 0 {
		return []R{}
	}

	chunks := splitChunks(items, r.maxWorkers)
	parts := make([][]R, len(chunks))
	var g errgroup.Group
	for i, chunk := range chunks {
		g.Go(func() error {
			parts[i] = runChunk(ctx, r.log, i, chunk, fn)
			return nil
		})
	}
	_ = g.Wait()

	return joinParts(parts)
}

// ProcessAllInParallel is ProcessInParallel for work that must not lose items:
// the first chunk that fails or panics cancels the rest and is returned as the error.
func ProcessAllInParallel[T, R any](
	ctx context.Context,
	r *BatchRunner,
	items []T,
	fn func(ctx context.Context, chunk []T) ([]R, error),
) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	chunks := splitChunks(items, r.maxWorkers)
	parts := make([][]R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("chunk %d panicked: %v", i, rec)
				}
			}()

			out, fnErr := fn(gctx, chunk)
			if fnErr != nil {
				return fmt.Errorf("chunk %d: %w", i, fnErr)
			}
			parts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return joinParts(parts), nil
}

func splitChunks[T any](items []T, n int) [][]T {
	perChunk := (len(items) + n - 1) / n
	chunks := make([][]T, 0, n)
	for start := 0; start < len(items); start += perChunk {
		chunks = append(chunks, items[start:min(start+perChunk, len(items))])
	}
	return chunks
}

func joinParts[R any](parts [][]R) []R {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]R, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func runChunk[T, R any](
	ctx context.Context,
	log infralogger.Logger,
	index int,
	chunk []T,
	fn func(context.Context, []T) ([]R, error),
) (out []R) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Parallel chunk panicked",
				infralogger.Int("chunk", index),
				infralogger.Int("size", len(chunk)),
				infralogger.Any("panic", rec),
			)
			out = []R{}
		}
	}()

	res, err := fn(ctx, chunk)
	if err != nil {
		log.Warn("Parallel chunk failed",
			infralogger.Int("chunk", index),
			infralogger.Int("size", len(chunk)),
			infralogger.Error(err),
		)
		return []R{}
	}
	return res
}
