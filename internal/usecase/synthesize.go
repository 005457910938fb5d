package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// SynthesizeService builds the daily analysis for one civil date from
// the processed items published that day.
type SynthesizeService struct {
	items        domain.RawItemRepository
	processed    domain.ProcessedItemRepository
	analyses     domain.AnalysisRepository
	ai           domain.AIClient
	queue        domain.Queue
	cache        domain.Cache
	minItems     int
	maxItems     int
	predictDelay time.Duration
}

// NewSynthesizeService wires the service.
func NewSynthesizeService(items domain.RawItemRepository, processed domain.ProcessedItemRepository,
	analyses domain.AnalysisRepository, ai domain.AIClient, queue domain.Queue, cache domain.Cache,
	minItems, maxItems int, predictDelay time.Duration) *SynthesizeService {
	return &SynthesizeService{
		items: items, processed: processed, analyses: analyses,
		ai: ai, queue: queue, cache: cache,
		minItems: minItems, maxItems: maxItems, predictDelay: predictDelay,
	}
}

// Execute runs one daily_analysis job for date (YYYY-MM-DD, UTC). Every
// run regenerates the date unconditionally: the upsert replaces any
// previous analysis row, so a force request needs no separate path.
// Too few processed items is a retryable condition: more items may land
// before the job exhausts its attempts.
func (s *SynthesizeService) Execute(ctx context.Context, date string) error {
	from, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("op=synthesize.Execute: %w: bad date %q", domain.ErrInvalidArgument, date)
	}
	to := from.Add(24 * time.Hour)

	raw, err := s.items.ListPublishedBetween(ctx, from, to, s.maxItems)
	if err != nil {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w", date, err)
	}
	ids := make([]string, 0, len(raw))
	for _, it := range raw {
		if it.Status == domain.ItemCompleted {
			ids = append(ids, it.ID)
		}
	}
	processed, err := s.processed.ListByRawItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w", date, err)
	}
	if len(processed) < s.minItems {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w: %d processed items, need %d",
			date, domain.ErrInsufficientData, len(processed), s.minItems)
	}

	digests := make([]domain.ItemDigest, 0, len(processed))
	for _, p := range processed {
		weight := 1.0
		if w, ok := p.Metadata["weight"].(float64); ok && w > 0 {
			weight = w
		}
		if agg, ok := p.Metadata["is_aggregated"].(bool); ok && agg {
			// consensus items speak for several origins
			if aw, ok := p.Metadata["aggregate_weight"].(float64); ok && aw > weight {
				weight = aw
			}
		}
		digests = append(digests, domain.ItemDigest{
			Summary:   p.Summary,
			Topics:    p.Topics,
			Sentiment: p.Sentiment,
			Weight:    weight,
		})
	}

	synthesis, err := s.ai.SynthesizeDay(ctx, date, digests)
	if err != nil {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w", date, err)
	}

	id, err := s.analyses.Upsert(ctx, domain.DailyAnalysis{
		Date:            date,
		MarketSentiment: synthesis.MarketSentiment,
		KeyThemes:       synthesis.KeyThemes,
		Summary:         synthesis.Summary,
		AIBlob:          synthesis.AIBlob,
		Confidence:      synthesis.Confidence,
		SourcesAnalyzed: len(processed),
	})
	if err != nil {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w", date, err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateTag(ctx, "analysis"); err != nil && !errors.Is(err, domain.ErrNotFound) {
			slog.Debug("analysis cache invalidation failed", slog.Any("error", err))
		}
	}

	if _, err := s.queue.Enqueue(ctx, domain.JobGeneratePredictions,
		map[string]any{"analysis_ref": id}, domain.WithDelay(s.predictDelay)); err != nil {
		return fmt.Errorf("op=synthesize.Execute date=%s: %w", date, err)
	}
	slog.Info("daily analysis synthesized",
		slog.String("date", date),
		slog.String("analysis_id", id),
		slog.String("sentiment", string(synthesis.MarketSentiment)),
		slog.Int("items", len(processed)),
	)
	return nil
}
