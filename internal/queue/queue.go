// Package queue implements the durable background export queue on a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

// Key is the Redis list holding queued jobs.
const Key = "export:queue:large"

const (
	defaultPopTimeout   = time.Second
	defaultErrorBackoff = time.Second
	defaultConcurrency  = 1
)

// Handler processes one job. Its error is logged and the loop continues.
type Handler func(ctx context.Context, job *domain.Job) error

// Config holds queue options.
type Config struct {
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
}

// Queue is a Redis-backed job queue with a pool of worker loops.
type Queue struct {
	client       redis.UniversalClient
	log          infralogger.Logger
	popTimeout   time.Duration
	errorBackoff time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New creates a queue.
func New(client redis.UniversalClient, cfg Config, log infralogger.Logger) *Queue {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Queue{
		client:       client,
		log:          log,
		popTimeout:   cfg.PopTimeout,
		errorBackoff: cfg.ErrorBackoff,
	}
}

// Enqueue appends job to the queue.
func (q *Queue) Enqueue(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	if pushErr := q.client.RPush(ctx, Key, payload).Err(); pushErr != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, pushErr)
	}
	return nil
}

// Len reports the queue depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, Key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Start launches concurrency worker loops. It is a no-op if already started.
// Cancelling ctx stops the loops from taking new jobs, but jobs already popped
// run to completion under a context that keeps ctx's values and not its cancellation.
func (q *Queue) Start(ctx context.Context, handler Handler, concurrency int) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.stopChan = make(chan struct{})
	q.mu.Unlock()

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	for i := range concurrency {
		q.wg.Add(1)
		go q.run(ctx, i, handler)
	}

	q.log.Info("Export queue workers started",
		infralogger.Int("concurrency", concurrency),
		infralogger.Duration("pop_timeout", q.popTimeout),
	)
}

// Stop signals every loop and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopChan)
	q.wg.Wait()
	q.log.Info("Export queue workers stopped")
}

// IsRunning reports whether the worker loops are running.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

func (q *Queue) run(ctx context.Context, worker int, handler Handler) {
	defer q.wg.Done()

	log := q.log.With(infralogger.Int("worker", worker))
	workCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-q.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, ok := q.pop(ctx, workCtx, log)
		if !ok {
			continue
		}

		q.handle(workCtx, log, handler, job)
	}
}

// pop blocks on workCtx so a reply is never discarded mid-flight; popTimeout
// bounds how long shutdown waits for it.
func (q *Queue) pop(ctx, workCtx context.Context, log infralogger.Logger) (*domain.Job, bool) {
	res, err := q.client.BLPop(workCtx, q.popTimeout, Key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, false
		}
		log.Error("Queue pop failed", infralogger.Error(err))
		q.sleep(ctx, q.errorBackoff)
		return nil, false
	}

	// BLPOP replies with [key, value].
	const replyLen = 2
	if len(res) != replyLen {
		return nil, false
	}

	var job domain.Job
	if decodeErr := json.Unmarshal([]byte(res[1]), &job); decodeErr != nil {
		log.Warn("Skipping undecodable queue payload",
			infralogger.String("payload", res[1]),
			infralogger.Error(decodeErr),
		)
		return nil, false
	}
	return &job, true
}

func (q *Queue) handle(ctx context.Context, log infralogger.Logger, handler Handler, job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Export job panicked",
				infralogger.String("job_id", job.ID),
				infralogger.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, job); err != nil {
		log.Error("Export job failed",
			infralogger.String("job_id", job.ID),
			infralogger.String("export_type", job.Type),
			infralogger.Error(err),
		)
	}
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-q.stopChan:
	case <-ctx.Done():
	}
}
