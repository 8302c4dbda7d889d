// Package worker drives the execution side of the queue: a fixed-size pool
// of goroutines claiming tasks and running them through the lifecycle
// runner. Concurrency is bounded by the pool size to protect the downstream
// generation service; each attempt runs under a fixed wall-clock ceiling
// and is never retried.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"outcome-engine/internal/engine"
	"outcome-engine/internal/infra"
	"outcome-engine/internal/queue"
)

type Pool struct {
	queue      *queue.RedisQueue
	runner     *engine.Runner
	workers    int
	jobTimeout time.Duration
	claimWait  time.Duration
	logger     infra.Logger
}

func NewPool(q *queue.RedisQueue, runner *engine.Runner, workers int, jobTimeout time.Duration, logger infra.Logger) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &Pool{
		queue:      q,
		runner:     runner,
		workers:    workers,
		jobTimeout: jobTimeout,
		claimWait:  5 * time.Second,
		logger:     logger,
	}
}

// Run claims and executes tasks until ctx is cancelled. Returns after all
// in-flight attempts finish.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info().Int("workers", p.workers).Dur("job_timeout", p.jobTimeout).Msg("worker: pool started")

	tasks := make(chan queue.Task)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for task := range tasks {
				p.handle(ctx, n, task)
			}
		}(i + 1)
	}

	promoteTicker := time.NewTicker(time.Second)
	defer promoteTicker.Stop()

claim:
	for {
		select {
		case <-ctx.Done():
			break claim
		case <-promoteTicker.C:
			if _, err := p.queue.PromoteDue(ctx, 100); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn().Err(err).Msg("worker: promote delayed tasks failed")
			}
		default:
		}

		task, err := p.queue.ClaimBlocking(ctx, p.claimWait)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			p.logger.Error().Err(err).Msg("worker: claim failed")
			continue
		}

		select {
		case tasks <- task:
		case <-ctx.Done():
			// Return the unstarted claim so another worker process picks it
			// up; nothing ran, so this is not a retry.
			_ = p.queue.Ack(context.Background(), task)
			_ = p.queue.Enqueue(context.Background(), task.Payload, 0)
			break claim
		}
	}

	close(tasks)
	wg.Wait()
	p.logger.Info().Msg("worker: pool stopped")
}

// handle runs one attempt under the fixed timeout and always acks: with
// zero retries, the terminal state written by the runner (or the accepted
// stranded-running gap on a hard timeout) is the final word on the job.
func (p *Pool) handle(ctx context.Context, n int, task queue.Task) {
	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	if err := p.runner.Run(runCtx, task.Payload); err != nil {
		p.logger.Error().Err(err).
			Int("worker", n).
			Str("job_id", task.Payload.JobID).
			Msg("worker: attempt finished with error")
	}

	ackCtx, ackCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ackCancel()
	if err := p.queue.Ack(ackCtx, task); err != nil {
		p.logger.Error().Err(err).Str("job_id", task.Payload.JobID).Msg("worker: ack failed")
	}
}
