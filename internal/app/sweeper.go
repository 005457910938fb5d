package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

// Reclaimer is the queue maintenance capability the sweeper needs.
type Reclaimer interface {
	ReclaimStuck(ctx context.Context, visibility time.Duration) (int, error)
	Stats(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Sweeper reclaims jobs stuck in processing past the visibility timeout
// and keeps the queue depth gauges current.
type Sweeper struct {
	queue      Reclaimer
	interval   time.Duration
	visibility time.Duration
}

// NewSweeper wires the sweeper.
func NewSweeper(queue Reclaimer, interval, visibility time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &Sweeper{queue: queue, interval: interval, visibility: visibility}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	reclaimed, err := s.queue.ReclaimStuck(ctx, s.visibility)
	if err != nil {
		slog.Error("sweep failed", slog.Any("error", err))
		return
	}
	if reclaimed > 0 {
		// the reclaim SQL already counts the sweep metric
		slog.Warn("reclaimed stuck jobs", slog.Int("count", reclaimed))
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		slog.Error("queue stats failed", slog.Any("error", err))
		return
	}
	for _, st := range []domain.JobStatus{domain.JobPending, domain.JobProcessing,
		domain.JobCompleted, domain.JobFailed, domain.JobRetry} {
		observability.QueueDepth.WithLabelValues(string(st)).Set(float64(stats[st]))
	}
}
