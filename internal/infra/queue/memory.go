package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("queue closed")

// MemoryQueue is an in-process worker pool. A failed job is retried with
// linear backoff until maxRetries, then handed to the dead-letter func.
type MemoryQueue struct {
	reg        *Registry
	log        *zap.Logger
	jobs       chan Job
	workers    int
	maxRetries int
	backoff    time.Duration
	deadLetter DeadLetterFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryQueue(reg *Registry, log *zap.Logger, workers, maxRetries, buffer int) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{
		reg:        reg,
		log:        log,
		jobs:       make(chan Job, buffer),
		workers:    workers,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
	}
}

// OnDeadLetter sets where dropped jobs go. Call before Run.
func (q *MemoryQueue) OnDeadLetter(fn DeadLetterFunc) {
	q.deadLetter = fn
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobs ...Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	for _, j := range jobs {
		select {
		case q.jobs <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run starts the workers and blocks until ctx is done; queued jobs are drained before returning.
// Enqueue fails with ErrQueueClosed afterwards, so cancel ctx only once producers have stopped.
func (q *MemoryQueue) Run(ctx context.Context) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	<-ctx.Done()

	q.mu.Lock()
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.process(job)
	}
}

func (q *MemoryQueue) process(job Job) {
	for {
		job.Attempt++
		// ジョブはリクエストの ctx から切り離して実行
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := q.reg.Dispatch(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if job.Attempt > q.maxRetries {
			q.log.Error("job dropped after retries",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Int("attempt", job.Attempt),
				zap.Error(err),
			)
			if q.deadLetter != nil {
				dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
				q.deadLetter(dctx, job, err)
				dcancel()
			}
			return
		}
		q.log.Warn("job failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		time.Sleep(time.Duration(job.Attempt) * q.backoff)
	}
}
