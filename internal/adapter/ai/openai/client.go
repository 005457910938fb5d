// Package openai implements the language-model port against an
// OpenAI-compatible chat-completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/fairyhunter13/feedpulse/internal/domain"
	"github.com/fairyhunter13/feedpulse/internal/observability"
	"github.com/fairyhunter13/feedpulse/pkg/textx"
)

// maxPromptTokens bounds the user message so oversized bodies never blow
// the model's context window.
const maxPromptTokens = 8000

// Client calls a chat-completions endpoint in JSON mode.
type Client struct {
	api   *goopenai.Client
	model string
}

// New constructs a Client for the given key, base URL and model name.
func New(apiKey, baseURL, model string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: goopenai.NewClientWithConfig(cfg), model: model}
}

// chatJSON sends one system+user prompt pair and returns the raw JSON
// content, retrying transient failures with exponential backoff.
func (c *Client) chatJSON(ctx context.Context, operation, system, user string) (string, error) {
	user = textx.FitTokenBudget(user, maxPromptTokens)
	var content string
	op := func() error {
		resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
			Model: c.model,
			ResponseFormat: &goopenai.ChatCompletionResponseFormat{
				Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: system},
				{Role: goopenai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			mapped := classify(err)
			if !domain.IsRetryable(mapped) {
				return backoff.Permanent(mapped)
			}
			return mapped
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty choices", domain.ErrInternal))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(2*time.Second),
		backoff.WithMaxInterval(20*time.Second),
		backoff.WithMaxElapsedTime(90*time.Second),
	), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		observability.AIRequestsTotal.WithLabelValues(operation, "error").Inc()
		return "", fmt.Errorf("op=ai.%s: %w", operation, err)
	}
	observability.AIRequestsTotal.WithLabelValues(operation, "ok").Inc()
	return content, nil
}

// classify maps vendor errors onto the domain taxonomy.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", domain.ErrUpstreamRateLimit, err)
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return fmt.Errorf("%w: %v", domain.ErrAuthRejected, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return err
}

const analyzeSystem = `You analyze one finance/news item. Respond with a single JSON object:
{"topics":[strings],"sentiment":number in [-1,1],"entities":{"companies":[],"people":[],"locations":[],"tickers":[]},"summary":string up to 2 sentences}`

// AnalyzeItem extracts topics, sentiment, entities and a summary.
func (c *Client) AnalyzeItem(ctx context.Context, text string) (domain.ItemAnalysis, error) {
	raw, err := c.chatJSON(ctx, "analyze_item", analyzeSystem, text)
	if err != nil {
		return domain.ItemAnalysis{}, err
	}
	var out domain.ItemAnalysis
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return domain.ItemAnalysis{}, fmt.Errorf("op=ai.analyze_item: %w: %v", domain.ErrParse, err)
	}
	out.Sentiment = clamp(out.Sentiment, -1, 1)
	return out, nil
}

const synthesizeSystem = `You synthesize one day of market/news item digests into a single JSON object:
{"market_sentiment":"bullish"|"bearish"|"neutral","confidence":number in [0,1],"key_themes":[strings],"summary":string,"ai_blob":{"drivers":[],"risks":[],"opportunities":[]}}`

// SynthesizeDay produces the daily synthesis from item digests.
func (c *Client) SynthesizeDay(ctx context.Context, date string, items []domain.ItemDigest) (domain.DaySynthesis, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\nItems (%d):\n", date, len(items))
	for i, it := range items {
		fmt.Fprintf(&b, "%d. [sentiment %.2f] %s (topics: %s)\n", i+1, it.Sentiment, it.Summary, strings.Join(it.Topics, ", "))
	}
	raw, err := c.chatJSON(ctx, "synthesize_day", synthesizeSystem, b.String())
	if err != nil {
		return domain.DaySynthesis{}, err
	}
	var out domain.DaySynthesis
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return domain.DaySynthesis{}, fmt.Errorf("op=ai.synthesize_day: %w: %v", domain.ErrParse, err)
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	switch out.MarketSentiment {
	case domain.SentimentBullish, domain.SentimentBearish, domain.SentimentNeutral:
	default:
		out.MarketSentiment = domain.SentimentNeutral
	}
	return out, nil
}

const predictSystem = `Given a daily market analysis, draft one prediction for the requested horizon. Respond with a single JSON object:
{"kind":"market_direction"|"sector_performance"|"economic_indicator"|"geopolitical_event","text":string,"confidence":number in [0,1],"basis":[strings]}`

// Predict drafts one prediction for the horizon.
func (c *Client) Predict(ctx context.Context, a domain.DailyAnalysis, horizon domain.Horizon) (domain.PredictionDraft, error) {
	user := fmt.Sprintf("Horizon: %s\nSentiment: %s (confidence %.2f)\nThemes: %s\nSummary: %s",
		horizon, a.MarketSentiment, a.Confidence, strings.Join(a.KeyThemes, ", "), a.Summary)
	raw, err := c.chatJSON(ctx, "predict", predictSystem, user)
	if err != nil {
		return domain.PredictionDraft{}, err
	}
	var out domain.PredictionDraft
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return domain.PredictionDraft{}, fmt.Errorf("op=ai.predict: %w: %v", domain.ErrParse, err)
	}
	out.Confidence = clamp(out.Confidence, 0, 1)
	if out.Kind == "" {
		out.Kind = domain.PredictMarketDirection
	}
	return out, nil
}

// cleanJSON strips markdown fences some models wrap around JSON output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
