// Package fallback implements the language-model port with fixed lexicons
// and regular expressions. It is a first-class implementation, not a test
// stub: when the model vendor is unreachable the whole pipeline keeps
// producing useful output through this path.
package fallback

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// Client is stateless and safe for concurrent use.
type Client struct{}

// New constructs the fallback analyzer.
func New() *Client { return &Client{} }

// topicVocabulary is the fixed finance-oriented vocabulary scanned for
// topic extraction.
var topicVocabulary = []string{
	"inflation", "interest rates", "federal reserve", "earnings", "recession",
	"unemployment", "gdp", "tariffs", "trade", "oil", "gold", "energy",
	"technology", "semiconductors", "artificial intelligence", "crypto",
	"bitcoin", "housing", "bonds", "treasury", "dividends", "mergers",
	"acquisition", "ipo", "regulation", "banking", "credit", "consumer",
	"retail", "manufacturing", "supply chain", "geopolitics", "elections",
	"stimulus", "debt", "deficit", "currency", "exports", "sanctions",
}

var positiveLexicon = map[string]bool{
	"gain": true, "gains": true, "rally": true, "surge": true, "soar": true,
	"record": true, "growth": true, "beat": true, "beats": true, "strong": true,
	"upgrade": true, "bullish": true, "optimism": true, "recovery": true,
	"rebound": true, "profit": true, "profits": true, "expansion": true,
	"rise": true, "rises": true, "rose": true, "boost": true, "outperform": true,
}

var negativeLexicon = map[string]bool{
	"loss": true, "losses": true, "drop": true, "plunge": true, "crash": true,
	"decline": true, "miss": true, "misses": true, "weak": true, "downgrade": true,
	"bearish": true, "fear": true, "fears": true, "recession": true, "layoffs": true,
	"default": true, "bankruptcy": true, "selloff": true, "slump": true,
	"fall": true, "falls": true, "fell": true, "warning": true, "underperform": true,
}

var (
	tickerRe   = regexp.MustCompile(`\b\$?[A-Z]{1,5}\b`)
	currencyRe = regexp.MustCompile(`[$€£¥]\s?\d[\d,]*(?:\.\d+)?\s?(?:billion|million|trillion|bn|mn|tn|[BMK])?`)
	percentRe  = regexp.MustCompile(`-?\d+(?:\.\d+)?\s?%`)
)

// tickerStoplist filters common uppercase words that look like tickers.
var tickerStoplist = map[string]bool{
	"A": true, "I": true, "CEO": true, "CFO": true, "IPO": true, "GDP": true,
	"USA": true, "THE": true, "AND": true, "FOR": true, "NEW": true,
	"USD": true, "EUR": true, "ETF": true, "AI": true, "US": true, "UK": true,
	"EU": true, "FED": true, "SEC": true, "NOT": true, "ALL": true,
}

// AnalyzeItem extracts topics, sentiment, entities and a summary without
// any network dependency.
func (c *Client) AnalyzeItem(_ context.Context, text string) (domain.ItemAnalysis, error) {
	lower := strings.ToLower(text)
	var topics []string
	for _, t := range topicVocabulary {
		if strings.Contains(lower, t) {
			topics = append(topics, t)
		}
		if len(topics) == 5 {
			break
		}
	}
	return domain.ItemAnalysis{
		Topics:    topics,
		Sentiment: Sentiment(text),
		Entities:  ExtractEntities(text),
		Summary:   textx.HeadSummary(text, 300),
	}, nil
}

// Sentiment scores text in [-1,1]: the normalized difference of positive
// and negative lexicon matches.
func Sentiment(text string) float64 {
	var pos, neg int
	for _, f := range strings.Fields(strings.ToLower(text)) {
		w := strings.Trim(f, ".,;:!?'\"()[]")
		if positiveLexicon[w] {
			pos++
		}
		if negativeLexicon[w] {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

// ExtractEntities pulls ticker-shaped tokens, currency amounts and
// percentages out of the text.
func ExtractEntities(text string) domain.Entities {
	ent := domain.Entities{Companies: []string{}, People: []string{}, Locations: []string{}, Tickers: []string{}}
	seen := map[string]bool{}
	for _, m := range tickerRe.FindAllString(text, -1) {
		t := strings.TrimPrefix(m, "$")
		if tickerStoplist[t] || len(t) < 2 && !strings.HasPrefix(m, "$") {
			continue
		}
		if !seen[t] {
			seen[t] = true
			ent.Tickers = append(ent.Tickers, t)
		}
	}
	for _, m := range currencyRe.FindAllString(text, -1) {
		ent.Companies = appendUnique(ent.Companies, "amount:"+strings.TrimSpace(m))
	}
	for _, m := range percentRe.FindAllString(text, -1) {
		ent.Companies = appendUnique(ent.Companies, "change:"+strings.TrimSpace(m))
	}
	return ent
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// sentimentLabel maps a mean score onto the three-way label with ±0.15
// thresholds.
func sentimentLabel(mean float64) domain.MarketSentiment {
	switch {
	case mean > 0.15:
		return domain.SentimentBullish
	case mean < -0.15:
		return domain.SentimentBearish
	default:
		return domain.SentimentNeutral
	}
}

// SynthesizeDay aggregates digests lexically: weighted mean sentiment and
// most frequent topics.
func (c *Client) SynthesizeDay(_ context.Context, date string, items []domain.ItemDigest) (domain.DaySynthesis, error) {
	if len(items) == 0 {
		return domain.DaySynthesis{}, fmt.Errorf("op=fallback.synthesize: %w: no items", domain.ErrInsufficientData)
	}
	var weightedSum, weightTotal float64
	freq := map[string]int{}
	for _, it := range items {
		w := it.Weight
		if w <= 0 {
			w = 1
		}
		weightedSum += it.Sentiment * w
		weightTotal += w
		for _, t := range it.Topics {
			freq[t]++
		}
	}
	mean := weightedSum / weightTotal

	themes := topN(freq, 5)
	label := sentimentLabel(mean)
	// Confidence grows with corpus size and agreement strength.
	conf := 0.3 + 0.4*absf(mean)
	if len(items) >= 20 {
		conf += 0.1
	}
	if conf > 0.8 {
		conf = 0.8
	}
	return domain.DaySynthesis{
		MarketSentiment: label,
		Confidence:      conf,
		KeyThemes:       themes,
		Summary: fmt.Sprintf("Lexical synthesis for %s across %d items: %s sentiment (mean %.2f). Leading themes: %s.",
			date, len(items), label, mean, strings.Join(themes, ", ")),
		AIBlob: map[string]any{
			"method":         "lexical",
			"mean_sentiment": mean,
			"drivers":        themes,
		},
	}, nil
}

// horizonPhrase renders horizons for templated prediction text.
var horizonPhrase = map[domain.Horizon]string{
	domain.Horizon1W: "over the next week",
	domain.Horizon1M: "over the next month",
	domain.Horizon3M: "over the next quarter",
	domain.Horizon6M: "over the next six months",
	domain.Horizon1Y: "over the next year",
}

// Predict templates a prediction from the analysis sentiment and themes.
func (c *Client) Predict(_ context.Context, a domain.DailyAnalysis, horizon domain.Horizon) (domain.PredictionDraft, error) {
	var direction string
	switch a.MarketSentiment {
	case domain.SentimentBullish:
		direction = "broad market strength"
	case domain.SentimentBearish:
		direction = "broad market weakness"
	default:
		direction = "range-bound markets"
	}
	themes := a.KeyThemes
	if len(themes) > 3 {
		themes = themes[:3]
	}
	text := fmt.Sprintf("Expect %s %s", direction, horizonPhrase[horizon])
	if len(themes) > 0 {
		text += ", driven by " + strings.Join(themes, ", ")
	}
	text += "."
	// Templated drafts discount the analysis confidence; longer horizons
	// discount further.
	conf := a.Confidence * 0.8
	if horizon == domain.Horizon6M || horizon == domain.Horizon1Y {
		conf *= 0.75
	}
	return domain.PredictionDraft{
		Kind:       domain.PredictMarketDirection,
		Text:       text,
		Confidence: conf,
		Basis:      themes,
	}, nil
}

func topN(freq map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	all := make([]kv, 0, len(freq))
	for k, v := range freq {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].v != all[j].v {
			return all[i].v > all[j].v
		}
		return all[i].k < all[j].k
	})
	var out []string
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].k)
	}
	return out
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
