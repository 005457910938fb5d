package source

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// applyKeywordFilters drops items that miss every include keyword or hit
// any exclude keyword. Matching is case-insensitive over title,
// description and body.
func applyKeywordFilters(items []domain.RawItem, include, exclude []string) []domain.RawItem {
	if len(include) == 0 && len(exclude) == 0 {
		return items
	}
	out := items[:0]
	for _, it := range items {
		text := strings.ToLower(it.Title + " " + it.Description + " " + it.Body)
		if len(include) > 0 && !containsAny(text, include) {
			continue
		}
		if len(exclude) > 0 && containsAny(text, exclude) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// sinceWatermark keeps items published after the source watermark. With
// no watermark the newest fallbackN items pass through.
func sinceWatermark(items []domain.RawItem, watermark *time.Time, fallbackN int) []domain.RawItem {
	if watermark == nil {
		sort.Slice(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })
		if len(items) > fallbackN {
			items = items[:fallbackN]
		}
		return items
	}
	out := items[:0]
	for _, it := range items {
		if it.PublishedAt.After(*watermark) {
			out = append(out, it)
		}
	}
	return out
}

// capItems truncates to the newest n items.
func capItems(items []domain.RawItem, n int) []domain.RawItem {
	if n <= 0 || len(items) <= n {
		return items
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PublishedAt.After(items[j].PublishedAt) })
	return items[:n]
}

// cachedFetch absorbs repeated triggers: the fetch result is cached per
// source for a short TTL and tagged so config updates can invalidate it.
// Cache failures only log; the fetch proceeds.
func cachedFetch(ctx context.Context, cache domain.Cache, src domain.Source, ttl time.Duration,
	fetch func() ([]domain.RawItem, error)) ([]domain.RawItem, error) {
	key := "fetch:" + src.ID
	if cache != nil {
		var cached []domain.RawItem
		if err := cache.GetJSON(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			slog.Debug("fetch cache read failed", slog.String("source_id", src.ID), slog.Any("error", err))
		}
	}
	items, err := fetch()
	if err != nil {
		return nil, err
	}
	if cache != nil {
		if err := cache.SetJSON(ctx, key, items, ttl, "source:"+src.ID); err != nil {
			slog.Debug("fetch cache write failed", slog.String("source_id", src.ID), slog.Any("error", err))
		}
	}
	return items, nil
}
