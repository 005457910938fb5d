package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func TestAnalyzeItem(t *testing.T) {
	c := New()
	text := "Tech stocks rally as inflation cools; $NVDA gains 5% on strong earnings. Semiconductors lead the surge."
	got, err := c.AnalyzeItem(context.Background(), text)
	require.NoError(t, err)

	assert.Contains(t, got.Topics, "inflation")
	assert.Contains(t, got.Topics, "earnings")
	assert.Greater(t, got.Sentiment, 0.0)
	assert.Contains(t, got.Entities.Tickers, "NVDA")
	assert.NotEmpty(t, got.Summary)
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, 0.0, Sentiment("the committee met on tuesday"))
	assert.Equal(t, 1.0, Sentiment("rally surge gains"))
	assert.Equal(t, -1.0, Sentiment("crash plunge losses"))
	assert.Equal(t, 0.0, Sentiment("gains offset losses"))
}

func TestExtractEntities(t *testing.T) {
	ent := ExtractEntities("Apple ($AAPL) revenue hit $89.5 billion, up 8.1% while GDP stalled")
	assert.Contains(t, ent.Tickers, "AAPL")
	assert.NotContains(t, ent.Tickers, "GDP")
	assert.Contains(t, ent.Companies, "amount:$89.5 billion")
	assert.Contains(t, ent.Companies, "change:8.1%")
}

func TestSynthesizeDay(t *testing.T) {
	c := New()

	t.Run("empty input is insufficient data", func(t *testing.T) {
		_, err := c.SynthesizeDay(context.Background(), "2026-08-24", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInsufficientData))
	})

	t.Run("weighted mean drives the label", func(t *testing.T) {
		items := []domain.ItemDigest{
			{Sentiment: 0.8, Weight: 3, Topics: []string{"earnings", "technology"}},
			{Sentiment: -0.5, Weight: 1, Topics: []string{"earnings"}},
		}
		got, err := c.SynthesizeDay(context.Background(), "2026-08-24", items)
		require.NoError(t, err)
		// (0.8*3 - 0.5*1) / 4 = 0.475 -> bullish
		assert.Equal(t, domain.SentimentBullish, got.MarketSentiment)
		assert.Equal(t, "earnings", got.KeyThemes[0])
		assert.InDelta(t, 0.3+0.4*0.475, got.Confidence, 0.001)
	})

	t.Run("near-zero mean is neutral", func(t *testing.T) {
		items := []domain.ItemDigest{
			{Sentiment: 0.1, Weight: 1},
			{Sentiment: -0.1, Weight: 1},
		}
		got, err := c.SynthesizeDay(context.Background(), "2026-08-24", items)
		require.NoError(t, err)
		assert.Equal(t, domain.SentimentNeutral, got.MarketSentiment)
	})

	t.Run("confidence caps at 0.8", func(t *testing.T) {
		items := make([]domain.ItemDigest, 25)
		for i := range items {
			items[i] = domain.ItemDigest{Sentiment: 1, Weight: 1}
		}
		got, err := c.SynthesizeDay(context.Background(), "2026-08-24", items)
		require.NoError(t, err)
		assert.Equal(t, 0.8, got.Confidence)
	})
}

func TestPredict(t *testing.T) {
	c := New()
	a := domain.DailyAnalysis{
		MarketSentiment: domain.SentimentBearish,
		KeyThemes:       []string{"inflation", "rates", "oil", "housing"},
		Confidence:      0.6,
	}

	got, err := c.Predict(context.Background(), a, domain.Horizon1W)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictMarketDirection, got.Kind)
	assert.Contains(t, got.Text, "weakness")
	assert.Contains(t, got.Text, "next week")
	assert.InDelta(t, 0.48, got.Confidence, 0.001)
	// basis trims to the top three themes
	assert.Equal(t, []string{"inflation", "rates", "oil"}, got.Basis)

	long, err := c.Predict(context.Background(), a, domain.Horizon1Y)
	require.NoError(t, err)
	assert.InDelta(t, 0.36, long.Confidence, 0.001)
}
