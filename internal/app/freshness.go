package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/adapter/source"
	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// FreshnessConfig tunes the trigger's staleness thresholds.
type FreshnessConfig struct {
	Tick           time.Duration
	SourceFetchTTL time.Duration
	AnalysisTTL    time.Duration
	PredictionsTTL time.Duration
}

// Freshness periodically inspects the data and enqueues whatever work is
// overdue: stale source fetches, today's analysis, missing predictions
// and matured prediction comparisons. Every enqueue dedups in the queue,
// so the trigger is safe to run aggressively and on several processes.
type Freshness struct {
	sources     domain.SourceRepository
	analyses    domain.AnalysisRepository
	predictions domain.PredictionRepository
	queue       domain.Queue
	cfg         FreshnessConfig
}

// NewFreshness wires the trigger.
func NewFreshness(sources domain.SourceRepository, analyses domain.AnalysisRepository,
	predictions domain.PredictionRepository, queue domain.Queue, cfg FreshnessConfig) *Freshness {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Minute
	}
	return &Freshness{sources: sources, analyses: analyses, predictions: predictions, queue: queue, cfg: cfg}
}

// Run blocks until ctx is canceled. The first sweep runs immediately.
func (f *Freshness) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Tick)
	defer ticker.Stop()
	f.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweep(ctx)
		}
	}
}

func (f *Freshness) sweep(ctx context.Context) {
	now := time.Now().UTC()
	f.triggerFetches(ctx, now)
	f.triggerAnalysis(ctx, now)
	f.triggerPredictions(ctx, now)
	f.triggerComparisons(ctx, now)
}

// triggerFetches enqueues feed_fetch for every source past its TTL.
// Staler sources get more urgent priorities.
func (f *Freshness) triggerFetches(ctx context.Context, now time.Time) {
	active, err := f.sources.ListActive(ctx)
	if err != nil {
		slog.Error("freshness: list sources failed", slog.Any("error", err))
		return
	}
	for _, src := range active {
		ttl := sourceTTL(src, f.cfg.SourceFetchTTL)
		var age time.Duration
		if src.LastFetchedAt == nil {
			age = 2 * ttl // never fetched, jump the line
		} else {
			age = now.Sub(*src.LastFetchedAt)
		}
		if age < ttl {
			continue
		}
		priority := fetchPriority(age, ttl)
		if _, err := f.queue.Enqueue(ctx, domain.JobFeedFetch,
			map[string]any{"source_ref": src.ID}, domain.WithPriority(priority)); err != nil {
			slog.Error("freshness: enqueue fetch failed",
				slog.String("source_id", src.ID), slog.Any("error", err))
		}
	}
}

// triggerAnalysis keeps today's daily analysis current.
func (f *Freshness) triggerAnalysis(ctx context.Context, now time.Time) {
	today := now.Format("2006-01-02")
	a, err := f.analyses.GetByDate(ctx, today)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// fall through to enqueue
	case err != nil:
		slog.Error("freshness: get analysis failed", slog.Any("error", err))
		return
	case now.Sub(a.CreatedAt) < f.cfg.AnalysisTTL:
		return
	}
	if _, err := f.queue.Enqueue(ctx, domain.JobDailyAnalysis,
		map[string]any{"date": today}); err != nil {
		slog.Error("freshness: enqueue analysis failed", slog.Any("error", err))
	}
}

// triggerPredictions regenerates predictions for the latest analysis
// when they are missing or past their TTL.
func (f *Freshness) triggerPredictions(ctx context.Context, now time.Time) {
	latest, err := f.analyses.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("freshness: latest analysis failed", slog.Any("error", err))
		return
	}
	existing, err := f.predictions.ListByAnalysis(ctx, latest.ID)
	if err != nil {
		slog.Error("freshness: list predictions failed", slog.Any("error", err))
		return
	}
	if len(existing) > 0 {
		fresh := false
		for _, p := range existing {
			if now.Sub(p.CreatedAt) < f.cfg.PredictionsTTL {
				fresh = true
				break
			}
		}
		if fresh {
			return
		}
	}
	if _, err := f.queue.Enqueue(ctx, domain.JobGeneratePredictions,
		map[string]any{"analysis_ref": latest.ID}); err != nil {
		slog.Error("freshness: enqueue predictions failed", slog.Any("error", err))
	}
}

// triggerComparisons enqueues a compare for every matured prediction
// without one.
func (f *Freshness) triggerComparisons(ctx context.Context, now time.Time) {
	due, err := f.predictions.ListDue(ctx, now, 100)
	if err != nil {
		slog.Error("freshness: list due predictions failed", slog.Any("error", err))
		return
	}
	for _, p := range due {
		if _, err := f.queue.Enqueue(ctx, domain.JobPredictionCompare,
			map[string]any{"prediction_ref": p.ID}); err != nil {
			slog.Error("freshness: enqueue compare failed",
				slog.String("prediction_id", p.ID), slog.Any("error", err))
		}
	}
}

// sourceTTL derives the per-source freshness TTL from update_frequency,
// falling back to the system default.
func sourceTTL(src domain.Source, def time.Duration) time.Duration {
	var common source.CommonConfig
	if err := source.DecodeConfig(src.Config, &common); err != nil {
		return def
	}
	return common.FetchTTL(def)
}

// fetchPriority maps staleness onto job priority: twice the TTL is
// urgent, just past the TTL is routine.
func fetchPriority(age, ttl time.Duration) int {
	switch {
	case age >= 3*ttl:
		return 2
	case age >= 2*ttl:
		return 3
	default:
		return domain.DefaultJobPriority
	}
}
