// Package ai composes language-model implementations. The pipeline
// depends on the capability, not the vendor: Failover tries the real
// client and falls back to the lexical analyzer, so a model outage never
// fails a job.
package ai

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

// Failover wraps a primary client with a fallback that must not fail.
// Primary may be nil (no API key configured); every call then goes
// straight to the fallback.
type Failover struct {
	Primary  domain.AIClient
	Fallback domain.AIClient
}

// NewFailover composes the two implementations.
func NewFailover(primary, fallback domain.AIClient) *Failover {
	return &Failover{Primary: primary, Fallback: fallback}
}

// AnalyzeItem tries the primary, then the fallback.
func (f *Failover) AnalyzeItem(ctx context.Context, text string) (domain.ItemAnalysis, error) {
	if f.Primary != nil {
		out, err := f.Primary.AnalyzeItem(ctx, text)
		if err == nil {
			return out, nil
		}
		slog.Warn("ai analyze failed, using fallback", slog.Any("error", err))
	}
	observability.AIFallbackTotal.WithLabelValues("analyze_item").Inc()
	return f.Fallback.AnalyzeItem(ctx, text)
}

// SynthesizeDay tries the primary, then the fallback.
func (f *Failover) SynthesizeDay(ctx context.Context, date string, items []domain.ItemDigest) (domain.DaySynthesis, error) {
	if f.Primary != nil {
		out, err := f.Primary.SynthesizeDay(ctx, date, items)
		if err == nil {
			return out, nil
		}
		slog.Warn("ai synthesize failed, using fallback", slog.String("date", date), slog.Any("error", err))
	}
	observability.AIFallbackTotal.WithLabelValues("synthesize_day").Inc()
	return f.Fallback.SynthesizeDay(ctx, date, items)
}

// Predict tries the primary, then the fallback.
func (f *Failover) Predict(ctx context.Context, a domain.DailyAnalysis, horizon domain.Horizon) (domain.PredictionDraft, error) {
	if f.Primary != nil {
		out, err := f.Primary.Predict(ctx, a, horizon)
		if err == nil {
			return out, nil
		}
		slog.Warn("ai predict failed, using fallback", slog.Any("error", err))
	}
	observability.AIFallbackTotal.WithLabelValues("predict").Inc()
	return f.Fallback.Predict(ctx, a, horizon)
}
