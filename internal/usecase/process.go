package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// ProcessService turns one raw item into its processed 1:1 counterpart:
// normalize, analyze, persist.
type ProcessService struct {
	items         domain.RawItemRepository
	processed     domain.ProcessedItemRepository
	ai            domain.AIClient
	maxModelChars int
}

// NewProcessService wires the service. ai is expected to be the failover
// client so processing never hard-depends on the vendor model.
func NewProcessService(items domain.RawItemRepository, processed domain.ProcessedItemRepository,
	ai domain.AIClient, maxModelChars int) *ProcessService {
	return &ProcessService{items: items, processed: processed, ai: ai, maxModelChars: maxModelChars}
}

// Execute runs one content_process job.
func (s *ProcessService) Execute(ctx context.Context, rawItemID string) error {
	it, err := s.items.Get(ctx, rawItemID)
	if err != nil {
		return fmt.Errorf("op=process.Execute: %w", err)
	}
	if it.Status == domain.ItemCompleted {
		slog.Debug("item already processed", slog.String("raw_item_id", rawItemID))
		return nil
	}
	if err := s.items.SetStatus(ctx, rawItemID, domain.ItemProcessing); err != nil {
		return fmt.Errorf("op=process.Execute: %w", err)
	}

	normalized := normalizeForModel(it, s.maxModelChars)
	if normalized == "" {
		// nothing to analyze; terminal for this item
		if err := s.items.SetStatus(ctx, rawItemID, domain.ItemFailed); err != nil {
			return fmt.Errorf("op=process.Execute: %w", err)
		}
		return fmt.Errorf("op=process.Execute item=%s: %w: empty normalized text", rawItemID, domain.ErrInvalidArgument)
	}

	var (
		analysis  domain.ItemAnalysis
		consensus map[string]any
	)
	if isAggregated(it) {
		analysis, consensus, err = s.analyzeConsensus(ctx, it, normalized)
	} else {
		analysis, err = s.ai.AnalyzeItem(ctx, normalized)
	}
	if err != nil {
		return fmt.Errorf("op=process.Execute item=%s: %w", rawItemID, err)
	}

	meta := processedMetadata(it)
	if consensus != nil {
		meta["consensus"] = consensus
	}
	p := domain.ProcessedItem{
		RawItemID:      rawItemID,
		NormalizedText: normalized,
		Topics:         analysis.Topics,
		Sentiment:      clampSentiment(analysis.Sentiment),
		Entities:       analysis.Entities,
		Summary:        analysis.Summary,
		Metadata:       meta,
	}
	if _, err := s.processed.Upsert(ctx, p); err != nil {
		return fmt.Errorf("op=process.Execute item=%s: %w", rawItemID, err)
	}
	if err := s.items.SetStatus(ctx, rawItemID, domain.ItemCompleted); err != nil {
		return fmt.Errorf("op=process.Execute: %w", err)
	}
	slog.Info("item processed",
		slog.String("raw_item_id", rawItemID),
		slog.Float64("sentiment", p.Sentiment),
		slog.Int("topics", len(p.Topics)),
	)
	return nil
}

// isAggregated reports whether the item is a cross-referenced consensus
// item emitted by the aggregate adapter.
func isAggregated(it domain.RawItem) bool {
	v, _ := it.Metadata["is_aggregated"].(bool)
	return v
}

// analyzeConsensus analyzes each tagged member section of a consensus
// item on its own, then combines them: sentiment is the weighted mean,
// topics are the themes shared across sections, and the consensus block
// records the agreement score with any divergent views. Items without at
// least two recoverable sections take the plain path.
func (s *ProcessService) analyzeConsensus(ctx context.Context, it domain.RawItem, normalized string) (domain.ItemAnalysis, map[string]any, error) {
	sections := taggedSections(it.Body)
	if len(sections) < 2 {
		a, err := s.ai.AnalyzeItem(ctx, normalized)
		return a, nil, err
	}
	weights := memberWeights(it.Metadata, len(sections))

	var (
		weightedSum, weightTotal float64
		scores                   = make([]float64, len(sections))
		labels                   = make([]string, len(sections))
		topicSections            = map[string]int{}
		entities                 domain.Entities
		summaries                []string
	)
	for i, sec := range sections {
		a, err := s.ai.AnalyzeItem(ctx, textx.Normalize(sec.text, s.maxModelChars))
		if err != nil {
			return domain.ItemAnalysis{}, nil, err
		}
		scores[i] = clampSentiment(a.Sentiment)
		labels[i] = sentimentBucket(scores[i])
		w := weights[i]
		if w <= 0 {
			w = 1
		}
		weightedSum += scores[i] * w
		weightTotal += w
		seen := map[string]bool{}
		for _, tp := range a.Topics {
			if !seen[tp] {
				seen[tp] = true
				topicSections[tp]++
			}
		}
		entities = mergeEntities(entities, a.Entities)
		if a.Summary != "" {
			summaries = append(summaries, a.Summary)
		}
	}

	majority, agreed := majorityLabel(labels)
	agreement := float64(agreed) / float64(len(sections))
	var divergent []string
	for i, label := range labels {
		if label != majority {
			divergent = append(divergent, fmt.Sprintf("%s: %s (%.2f)", sections[i].origin, label, scores[i]))
		}
	}

	var common []string
	for tp, n := range topicSections {
		if n >= 2 {
			common = append(common, tp)
		}
	}
	sort.Strings(common)

	topics := common
	if len(topics) == 0 {
		for tp := range topicSections {
			topics = append(topics, tp)
		}
		sort.Strings(topics)
	}
	if len(topics) > 5 {
		topics = topics[:5]
	}

	analysis := domain.ItemAnalysis{
		Topics:    topics,
		Sentiment: weightedSum / weightTotal,
		Entities:  entities,
		Summary:   textx.HeadSummary(strings.Join(summaries, " "), 300),
	}
	block := map[string]any{
		"agreement":       agreement,
		"divergent_views": divergent,
		"common_themes":   common,
		"sections":        len(sections),
	}
	return analysis, block, nil
}

type taggedSection struct {
	origin string
	text   string
}

// taggedSections splits a consensus body back into its [origin]-tagged
// member sections. Untagged blocks belong to the preceding section.
func taggedSections(body string) []taggedSection {
	var out []taggedSection
	for _, block := range strings.Split(body, "\n\n") {
		if strings.HasPrefix(block, "[") {
			origin := "source"
			if end := strings.Index(block, "]"); end > 1 {
				origin = block[1:end]
			}
			out = append(out, taggedSection{origin: origin, text: block})
		} else if len(out) > 0 {
			out[len(out)-1].text += "\n\n" + block
		}
	}
	return out
}

// memberWeights reads the per-member weights the aggregate adapter
// stored, tolerating the JSON round trip to []any. Missing entries
// default to 1.
func memberWeights(meta map[string]any, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	switch v := meta["member_weights"].(type) {
	case []float64:
		for i := 0; i < n && i < len(v); i++ {
			out[i] = v[i]
		}
	case []any:
		for i := 0; i < n && i < len(v); i++ {
			if f, ok := v[i].(float64); ok {
				out[i] = f
			}
		}
	}
	return out
}

// sentimentBucket maps a score onto the three-way label with the same
// +-0.15 thresholds the synthesizer uses.
func sentimentBucket(v float64) string {
	switch {
	case v > 0.15:
		return "bullish"
	case v < -0.15:
		return "bearish"
	default:
		return "neutral"
	}
}

func majorityLabel(labels []string) (string, int) {
	counts := map[string]int{}
	for _, l := range labels {
		counts[l]++
	}
	majority, best := "neutral", 0
	for _, l := range []string{"bullish", "bearish", "neutral"} {
		if counts[l] > best {
			majority, best = l, counts[l]
		}
	}
	return majority, best
}

func mergeEntities(a, b domain.Entities) domain.Entities {
	a.Companies = appendMissing(a.Companies, b.Companies)
	a.People = appendMissing(a.People, b.People)
	a.Locations = appendMissing(a.Locations, b.Locations)
	a.Tickers = appendMissing(a.Tickers, b.Tickers)
	return a
}

func appendMissing(dst, src []string) []string {
	for _, v := range src {
		found := false
		for _, have := range dst {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// normalizeForModel flattens the item's text fields into one normalized
// block bounded by the model character budget.
func normalizeForModel(it domain.RawItem, maxChars int) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{it.Title, it.Description, it.Body} {
		if s = textx.SanitizeText(s); s != "" {
			parts = append(parts, s)
		}
	}
	return textx.Normalize(strings.Join(parts, "\n\n"), maxChars)
}

// processedMetadata carries the aggregate provenance fields forward so
// the synthesizer can weight consensus items.
func processedMetadata(it domain.RawItem) map[string]any {
	meta := map[string]any{}
	for _, key := range []string{"weight", "is_aggregated", "origin_count", "aggregate_weight", "duplicate_count", "url"} {
		if v, ok := it.Metadata[key]; ok {
			meta[key] = v
		}
	}
	return meta
}

func clampSentiment(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
