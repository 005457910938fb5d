// Package usecase contains the pipeline's application services. Each
// service owns one job kind's semantics and talks to the world through
// the domain ports.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/feedpulse/internal/adapter/source"
	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
)

// FetchService pulls the latest items for one source and persists them,
// scheduling follow-up processing per item.
type FetchService struct {
	registry *source.Registry
	sources  domain.SourceRepository
	items    domain.RawItemRepository
	queue    domain.Queue
}

// NewFetchService wires the service.
func NewFetchService(registry *source.Registry, sources domain.SourceRepository,
	items domain.RawItemRepository, queue domain.Queue) *FetchService {
	return &FetchService{registry: registry, sources: sources, items: items, queue: queue}
}

// Execute runs one feed_fetch job. Duplicate items count as success: the
// fetch is a reconciliation, not a delta protocol.
func (s *FetchService) Execute(ctx context.Context, sourceID string) error {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("op=fetch.Execute: %w", err)
	}
	if !src.Active {
		slog.Info("skipping inactive source", slog.String("source_id", sourceID))
		return nil
	}
	adapter, err := s.registry.Get(src.Kind)
	if err != nil {
		return fmt.Errorf("op=fetch.Execute: %w", err)
	}
	fetched, err := adapter.FetchLatest(ctx, src)
	if err != nil {
		return fmt.Errorf("op=fetch.Execute source=%s: %w", sourceID, err)
	}

	priority := sourcePriority(src)
	var persisted, duplicates, invalid int
	for _, it := range fetched {
		if !adapter.Validate(it) {
			invalid++
			observability.ItemsSkippedTotal.WithLabelValues("invalid").Inc()
			continue
		}
		id, err := s.items.Insert(ctx, it)
		if errors.Is(err, domain.ErrConflict) {
			duplicates++
			observability.ItemsSkippedTotal.WithLabelValues("duplicate").Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("op=fetch.Execute source=%s: %w", sourceID, err)
		}
		persisted++
		observability.ItemsFetchedTotal.WithLabelValues(string(src.Kind)).Inc()
		if err := s.scheduleFollowup(ctx, src, it, id, priority); err != nil {
			return fmt.Errorf("op=fetch.Execute source=%s: %w", sourceID, err)
		}
	}

	if err := s.sources.TouchFetched(ctx, sourceID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=fetch.Execute source=%s: %w", sourceID, err)
	}
	slog.Info("source fetched",
		slog.String("source_id", sourceID),
		slog.String("kind", string(src.Kind)),
		slog.Int("persisted", persisted),
		slog.Int("duplicates", duplicates),
		slog.Int("invalid", invalid),
	)
	return nil
}

// scheduleFollowup enqueues the next pipeline step for one new item:
// transcription for bodyless audio, content processing for the rest.
func (s *FetchService) scheduleFollowup(ctx context.Context, src domain.Source, it domain.RawItem, id string, priority int) error {
	needsTranscript := false
	if src.Kind == domain.SourceAudio && it.Body == "" {
		if pending, _ := it.Metadata["transcript_pending"].(bool); pending {
			needsTranscript = true
		}
	}
	if needsTranscript {
		_, err := s.queue.Enqueue(ctx, domain.JobTranscribeAudio,
			map[string]any{"raw_ref": id}, domain.WithPriority(priority))
		return err
	}
	_, err := s.queue.Enqueue(ctx, domain.JobContentProcess,
		map[string]any{"raw_ref": id}, domain.WithPriority(priority))
	return err
}

// sourcePriority reads the configured job priority, clamped to [1,10].
func sourcePriority(src domain.Source) int {
	p, ok := src.Config["priority"].(float64)
	if !ok || p < 1 || p > 10 {
		return domain.DefaultJobPriority
	}
	return int(p)
}
