// Package app assembles the pipeline: the worker pool that drains the
// job queue, the freshness trigger that feeds it, the sweeper that
// unsticks it, and the ops HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Concurrency        int
	Pacing             time.Duration
	IdleBackoffMin     time.Duration
	IdleBackoffMax     time.Duration
	JobDeadline        time.Duration
	TranscribeDeadline time.Duration
	// ShutdownGrace is how long an in-flight handler may keep running
	// after the pool context is canceled.
	ShutdownGrace time.Duration
}

// Pool runs N executors against the queue until its context ends.
type Pool struct {
	queue    domain.Queue
	handlers map[domain.JobKind]Handler
	cfg      PoolConfig
}

// NewPool wires the pool.
func NewPool(queue domain.Queue, handlers map[domain.JobKind]Handler, cfg PoolConfig) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.IdleBackoffMin <= 0 {
		cfg.IdleBackoffMin = 100 * time.Millisecond
	}
	if cfg.IdleBackoffMax < cfg.IdleBackoffMin {
		cfg.IdleBackoffMax = 2 * time.Second
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = 10 * time.Minute
	}
	if cfg.TranscribeDeadline <= 0 {
		cfg.TranscribeDeadline = 30 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Pool{queue: queue, handlers: handlers, cfg: cfg}
}

// Run blocks until ctx is canceled and every executor has drained its
// in-flight job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.executor(ctx, worker)
		}(i)
	}
	wg.Wait()
}

// executor is one claim-execute-settle loop. Idle polls back off
// exponentially with jitter; any successful claim resets the backoff.
func (p *Pool) executor(ctx context.Context, worker int) {
	backoff := p.cfg.IdleBackoffMin
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff *= 2
			if backoff > p.cfg.IdleBackoffMax {
				backoff = p.cfg.IdleBackoffMax
			}
			continue
		}
		if err != nil {
			slog.Error("dequeue failed", slog.Int("worker", worker), slog.Any("error", err))
			if !sleepCtx(ctx, jitter(p.cfg.IdleBackoffMax)) {
				return
			}
			continue
		}
		backoff = p.cfg.IdleBackoffMin

		p.runJob(ctx, worker, job)

		if p.cfg.Pacing > 0 && !sleepCtx(ctx, p.cfg.Pacing) {
			return
		}
	}
}

// runJob executes one job under its deadline and settles its terminal
// state.
func (p *Pool) runJob(ctx context.Context, worker int, job domain.Job) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		p.settle(ctx, job, fmt.Errorf("op=app.pool: %w: no handler for kind %s", domain.ErrInvalidArgument, job.Kind))
		return
	}
	deadline := p.cfg.JobDeadline
	if job.Kind == domain.JobTranscribeAudio {
		deadline = p.cfg.TranscribeDeadline
	}
	// The job context survives a pool shutdown: a claimed job gets the
	// grace window to finish instead of burning an attempt on the
	// cancellation. The deadline still bounds it either way.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()
	stopGrace := context.AfterFunc(ctx, func() {
		graceTimer := time.NewTimer(p.cfg.ShutdownGrace)
		defer graceTimer.Stop()
		select {
		case <-graceTimer.C:
			cancel()
		case <-jobCtx.Done():
		}
	})
	defer stopGrace()

	start := time.Now()
	err := p.invoke(jobCtx, handler, job)
	observability.HandlerDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	slogAttrs := []any{
		slog.Int("worker", worker),
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Duration("took", time.Since(start)),
	}
	if err != nil {
		slog.Warn("job handler errored", append(slogAttrs, slog.Any("error", err))...)
	} else {
		slog.Info("job completed", slogAttrs...)
	}
	p.settle(ctx, job, err)
}

// invoke calls the handler with panic containment; a panicking handler
// fails its job instead of killing the executor.
func (p *Pool) invoke(ctx context.Context, handler Handler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job handler panicked",
				slog.String("job_id", job.ID),
				slog.String("kind", string(job.Kind)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("op=app.pool job=%s: %w: handler panic: %v", job.ID, domain.ErrInternal, r)
		}
	}()
	return handler(ctx, job)
}

// settle maps the handler outcome onto the queue state machine. It runs
// detached from the executor context so a shutdown mid-job still records
// the outcome.
func (p *Pool) settle(ctx context.Context, job domain.Job, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	// Outcome counters live in the queue adapter, which also sees
	// sweep-driven transitions; settle only routes.
	var settleErr error
	switch {
	case err == nil:
		settleErr = p.queue.Complete(ctx, job.ID)
	default:
		if delay, ok := IsThrottled(err); ok {
			settleErr = p.queue.Release(ctx, job.ID, delay)
			break
		}
		if domain.IsRetryable(err) {
			settleErr = p.queue.Fail(ctx, job.ID, err.Error())
		} else {
			settleErr = p.queue.FailPermanent(ctx, job.ID, err.Error())
		}
	}
	if settleErr != nil {
		slog.Error("job settle failed",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
			slog.Any("error", settleErr),
		)
	}
}

// jitter spreads d by +-25% so idle executors do not poll in lockstep.
func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}

// sleepCtx sleeps for d or until ctx ends; false means ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
