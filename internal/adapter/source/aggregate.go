package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/feedpulse/internal/adapter/ai/fallback"
	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// similarityThreshold is the normalized title similarity above which two
// items within the dedup window count as the same story.
const similarityThreshold = 0.85

// dedupWindow bounds how far apart duplicates may be published.
const dedupWindow = time.Hour

// Aggregate composes several sub-sources into one logical source. Sub
// fetches run in parallel; results are deduplicated by weight and can be
// cross-referenced into consensus items.
type Aggregate struct {
	registry *Registry
}

// NewAggregate constructs the adapter. The registry must already hold
// the concrete kind adapters the sub-sources refer to.
func NewAggregate(registry *Registry) *Aggregate {
	return &Aggregate{registry: registry}
}

// Kind implements Adapter.
func (a *Aggregate) Kind() domain.SourceKind { return domain.SourceAggregate }

// RateLimit implements Adapter; sub-sources throttle themselves, so the
// aggregate itself is unthrottled.
func (a *Aggregate) RateLimit(domain.Source) (int, time.Duration, bool) {
	return 0, 0, false
}

// Validate implements Adapter.
func (a *Aggregate) Validate(it domain.RawItem) bool { return validateItem(it) }

// FetchLatest implements Adapter. A sub-source failure degrades the
// result instead of failing the whole fetch; the fetch errors only when
// every enabled sub-source fails.
func (a *Aggregate) FetchLatest(ctx context.Context, src domain.Source) ([]domain.RawItem, error) {
	var cfg AggregateConfig
	if err := DecodeConfig(src.Config, &cfg); err != nil {
		return nil, err
	}
	enabled := make([]AggregateSub, 0, len(cfg.Sources))
	for _, sub := range cfg.Sources {
		if sub.Enabled {
			enabled = append(enabled, sub)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("op=aggregate.fetch: %w: no enabled sub-sources", domain.ErrInvalidArgument)
	}

	var (
		mu       sync.Mutex
		items    []domain.RawItem
		failures []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, sub := range enabled {
		i, sub := i, sub
		g.Go(func() error {
			got, err := a.fetchSub(gctx, src, i, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return nil
			}
			items = append(items, got...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) == len(enabled) {
		return nil, fmt.Errorf("op=aggregate.fetch: %w: all %d sub-sources failed, first: %v",
			domain.ErrUpstreamTimeout, len(enabled), failures[0])
	}

	if cfg.Deduplication {
		items = dedupWeighted(items)
	}
	if cfg.CrossReference {
		items = append(items, crossReference(src.ID, items)...)
	}
	items = applyKeywordFilters(items, cfg.FilterKeywords, cfg.ExcludeKeywords)
	return capItems(items, cfg.ItemCap(100)), nil
}

// fetchSub runs one sub-source through its kind adapter under a
// synthetic source carrying the sub URL and config. Weight and origin
// are recorded in metadata for downstream weighting.
func (a *Aggregate) fetchSub(ctx context.Context, parent domain.Source, idx int, sub AggregateSub) ([]domain.RawItem, error) {
	adapter, err := a.registry.Get(domain.SourceKind(sub.Kind))
	if err != nil {
		return nil, err
	}
	synthetic := domain.Source{
		ID:            fmt.Sprintf("%s#%d", parent.ID, idx),
		Name:          fmt.Sprintf("%s/%s", parent.Name, sub.Kind),
		Kind:          domain.SourceKind(sub.Kind),
		URL:           sub.URL,
		Config:        sub.Config,
		Active:        true,
		LastFetchedAt: parent.LastFetchedAt,
	}
	got, err := adapter.FetchLatest(ctx, synthetic)
	if err != nil {
		return nil, fmt.Errorf("op=aggregate.fetch sub=%s: %w", sub.URL, err)
	}
	weight := sub.Weight
	if weight == 0 {
		weight = 0.5
	}
	for i := range got {
		// items persist against the aggregate source itself
		got[i].SourceID = parent.ID
		if got[i].Metadata == nil {
			got[i].Metadata = map[string]any{}
		}
		got[i].Metadata["weight"] = weight
		got[i].Metadata["origin_kind"] = sub.Kind
		got[i].Metadata["origin_url"] = sub.URL
	}
	return got, nil
}

// dedupWeighted collapses near-duplicate stories published within the
// dedup window. The higher-weight copy survives; on equal weight the
// longer body wins.
func dedupWeighted(items []domain.RawItem) []domain.RawItem {
	sort.Slice(items, func(i, j int) bool { return items[i].PublishedAt.Before(items[j].PublishedAt) })
	kept := make([]domain.RawItem, 0, len(items))
	for _, it := range items {
		dup := -1
		for k := len(kept) - 1; k >= 0; k-- {
			if it.PublishedAt.Sub(kept[k].PublishedAt) > dedupWindow {
				break
			}
			if textx.Similarity(it.Title, kept[k].Title) >= similarityThreshold {
				dup = k
				break
			}
		}
		if dup < 0 {
			kept = append(kept, it)
			continue
		}
		if preferOver(it, kept[dup]) {
			dupCount := mergeDupCount(it, kept[dup])
			kept[dup] = it
			kept[dup].Metadata["duplicate_count"] = dupCount
		} else {
			kept[dup].Metadata["duplicate_count"] = mergeDupCount(kept[dup], it)
		}
	}
	return kept
}

// preferOver reports whether a should replace b as the surviving copy.
func preferOver(a, b domain.RawItem) bool {
	wa, wb := itemWeight(a), itemWeight(b)
	if wa != wb {
		return wa > wb
	}
	return len(a.Body) > len(b.Body)
}

func itemWeight(it domain.RawItem) float64 {
	w, _ := it.Metadata["weight"].(float64)
	return w
}

func mergeDupCount(winner, loser domain.RawItem) int {
	n := 1
	if c, ok := winner.Metadata["duplicate_count"].(int); ok {
		n = c
	}
	extra := 1
	if c, ok := loser.Metadata["duplicate_count"].(int); ok {
		extra = c
	}
	return n + extra
}

// crossReference clusters items by shared key terms and emits one
// synthetic consensus item per cluster reported by at least two distinct
// origins. The synthetic item's body concatenates the members under
// their origin tags and references them in metadata with the summed
// weight.
func crossReference(sourceID string, items []domain.RawItem) []domain.RawItem {
	type cluster struct {
		members []int
		origins map[string]struct{}
	}
	clusters := map[string]*cluster{}
	for i, it := range items {
		terms := clusterTerms(it.Title)
		if len(terms) < 2 {
			continue
		}
		sort.Strings(terms)
		if len(terms) > 3 {
			terms = terms[:3]
		}
		key := strings.Join(terms, "|")
		c, ok := clusters[key]
		if !ok {
			c = &cluster{origins: map[string]struct{}{}}
			clusters[key] = c
		}
		c.members = append(c.members, i)
		origin, _ := it.Metadata["origin_url"].(string)
		c.origins[origin] = struct{}{}
	}

	keys := make([]string, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []domain.RawItem
	for _, key := range keys {
		c := clusters[key]
		if len(c.origins) < 2 {
			continue
		}
		lead := items[c.members[0]]
		totalWeight := 0.0
		memberIDs := make([]string, 0, len(c.members))
		memberOrigins := make([]string, 0, len(c.members))
		memberWeights := make([]float64, 0, len(c.members))
		sections := make([]string, 0, len(c.members))
		latest := lead.PublishedAt
		for _, idx := range c.members {
			m := items[idx]
			w := itemWeight(m)
			totalWeight += w
			memberIDs = append(memberIDs, m.ExternalID)
			memberOrigins = append(memberOrigins, originTag(m))
			memberWeights = append(memberWeights, w)
			sections = append(sections, memberSection(m))
			if m.PublishedAt.After(latest) {
				latest = m.PublishedAt
			}
		}
		out = append(out, domain.RawItem{
			SourceID:    sourceID,
			ExternalID:  "agg:" + key,
			Title:       lead.Title,
			Description: textx.HeadSummary(lead.Description, 300),
			Body:        strings.Join(sections, "\n\n"),
			PublishedAt: latest,
			Metadata: map[string]any{
				"is_aggregated":    true,
				"member_ids":       memberIDs,
				"member_origins":   memberOrigins,
				"member_weights":   memberWeights,
				"origin_count":     len(c.origins),
				"aggregate_weight": totalWeight,
			},
			Status: domain.ItemPending,
		})
	}
	return out
}

// clusterTerms are the title words longer than three characters plus any
// extracted entity names, so ticker-only headlines still cluster.
func clusterTerms(title string) []string {
	terms := textx.KeyTerms(title, 3)
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[t] = true
	}
	for _, tk := range fallback.ExtractEntities(title).Tickers {
		if lt := strings.ToLower(tk); !seen[lt] {
			seen[lt] = true
			terms = append(terms, lt)
		}
	}
	return terms
}

func originTag(it domain.RawItem) string {
	if kind, _ := it.Metadata["origin_kind"].(string); kind != "" {
		return kind
	}
	return "source"
}

// memberSection renders one member as a tagged block for the synthetic
// body. The processor splits these back apart for per-member analysis.
func memberSection(it domain.RawItem) string {
	sec := "[" + originTag(it) + "] " + it.Title
	text := it.Body
	if text == "" {
		text = it.Description
	}
	if text != "" {
		sec += "\n" + text
	}
	return sec
}
