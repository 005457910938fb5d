package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

func evalFixture(pred domain.Prediction, analyses ...domain.DailyAnalysis) (*EvaluateService, *fakeComparisonRepo) {
	comparisons := &fakeComparisonRepo{}
	svc := NewEvaluateService(
		newFakePredictionRepo(pred),
		newFakeAnalysisRepo(analyses...),
		comparisons,
	)
	return svc, comparisons
}

func TestEvaluateServiceDirectionCorrect(t *testing.T) {
	svc, comparisons := evalFixture(
		domain.Prediction{
			ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictMarketDirection,
			Data: map[string]any{"expected_sentiment": "bullish"},
		},
		domain.DailyAnalysis{ID: "an-1", Date: "2026-08-01", MarketSentiment: domain.SentimentBullish},
		domain.DailyAnalysis{ID: "an-2", Date: "2026-08-24", MarketSentiment: domain.SentimentBullish},
	)
	require.NoError(t, svc.Execute(context.Background(), "p-1", ""))

	require.Len(t, comparisons.inserted, 1)
	c := comparisons.inserted[0]
	assert.Equal(t, 1.0, c.Accuracy)
	assert.Equal(t, "correct", c.Outcome)
	assert.Equal(t, "an-2", c.AnalysisID)
}

func TestEvaluateServiceDirectionOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		expected     string
		actual       domain.MarketSentiment
		wantAccuracy float64
		wantOutcome  string
	}{
		{name: "opposite direction", expected: "bullish", actual: domain.SentimentBearish, wantAccuracy: 0.0, wantOutcome: "incorrect"},
		{name: "neutral outcome gets half credit", expected: "bullish", actual: domain.SentimentNeutral, wantAccuracy: 0.5, wantOutcome: "partial"},
		{name: "missing expectation", expected: "", actual: domain.SentimentBullish, wantAccuracy: 0.5, wantOutcome: "insufficient_data"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := map[string]any{}
			if tc.expected != "" {
				data["expected_sentiment"] = tc.expected
			}
			svc, comparisons := evalFixture(
				domain.Prediction{ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictMarketDirection, Data: data},
				domain.DailyAnalysis{ID: "an-1", Date: "2026-08-01"},
				domain.DailyAnalysis{ID: "an-2", Date: "2026-08-24", MarketSentiment: tc.actual},
			)
			require.NoError(t, svc.Execute(context.Background(), "p-1", ""))
			require.Len(t, comparisons.inserted, 1)
			assert.Equal(t, tc.wantAccuracy, comparisons.inserted[0].Accuracy)
			assert.Equal(t, tc.wantOutcome, comparisons.inserted[0].Outcome)
		})
	}
}

func TestEvaluateServiceThemeOverlap(t *testing.T) {
	svc, comparisons := evalFixture(
		domain.Prediction{
			ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictSectorPerformance,
			Data: map[string]any{"basis": []any{"rates", "oil", "housing", "crypto"}},
		},
		domain.DailyAnalysis{ID: "an-1", Date: "2026-08-01"},
		domain.DailyAnalysis{ID: "an-2", Date: "2026-08-24", KeyThemes: []string{"Rates", "Oil", "earnings"}},
	)
	require.NoError(t, svc.Execute(context.Background(), "p-1", ""))

	require.Len(t, comparisons.inserted, 1)
	c := comparisons.inserted[0]
	assert.Equal(t, 0.5, c.Accuracy, "two of four basis themes persist")
	assert.Equal(t, "partial", c.Outcome)
}

func TestEvaluateServiceScoresReferencedAnalysis(t *testing.T) {
	// the payload names an-2 even though an-3 is newer
	svc, comparisons := evalFixture(
		domain.Prediction{
			ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictMarketDirection,
			Data: map[string]any{"expected_sentiment": "bullish"},
		},
		domain.DailyAnalysis{ID: "an-1", Date: "2026-08-01", MarketSentiment: domain.SentimentBullish},
		domain.DailyAnalysis{ID: "an-2", Date: "2026-08-20", MarketSentiment: domain.SentimentBearish},
		domain.DailyAnalysis{ID: "an-3", Date: "2026-08-24", MarketSentiment: domain.SentimentBullish},
	)
	require.NoError(t, svc.Execute(context.Background(), "p-1", "an-2"))

	require.Len(t, comparisons.inserted, 1)
	c := comparisons.inserted[0]
	assert.Equal(t, "an-2", c.AnalysisID)
	assert.Equal(t, 0.0, c.Accuracy)
	assert.Equal(t, "incorrect", c.Outcome)
}

func TestEvaluateServiceMissingReferencedAnalysis(t *testing.T) {
	svc, comparisons := evalFixture(
		domain.Prediction{ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictMarketDirection},
	)
	err := svc.Execute(context.Background(), "p-1", "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, comparisons.inserted)
}

func TestEvaluateServiceNoLaterAnalysis(t *testing.T) {
	// the prediction's own analysis is the latest one there is
	svc, comparisons := evalFixture(
		domain.Prediction{ID: "p-1", AnalysisID: "an-1", Kind: domain.PredictMarketDirection,
			Data: map[string]any{"expected_sentiment": "bullish"}},
		domain.DailyAnalysis{ID: "an-1", Date: "2026-08-24", MarketSentiment: domain.SentimentBullish},
	)
	require.NoError(t, svc.Execute(context.Background(), "p-1", ""))

	require.Len(t, comparisons.inserted, 1)
	assert.Equal(t, 0.5, comparisons.inserted[0].Accuracy)
	assert.Equal(t, "insufficient_data", comparisons.inserted[0].Outcome)
}
