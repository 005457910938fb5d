package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// EvaluateService scores a matured prediction against the latest daily
// analysis and records an immutable comparison.
type EvaluateService struct {
	predictions domain.PredictionRepository
	analyses    domain.AnalysisRepository
	comparisons domain.ComparisonRepository
}

// NewEvaluateService wires the service.
func NewEvaluateService(predictions domain.PredictionRepository, analyses domain.AnalysisRepository,
	comparisons domain.ComparisonRepository) *EvaluateService {
	return &EvaluateService{predictions: predictions, analyses: analyses, comparisons: comparisons}
}

// Execute runs one prediction_compare job. analysisID selects the
// analysis to score against; when empty the latest analysis is used.
// When no later analysis exists to compare against, the comparison
// records accuracy 0.5 with an insufficient_data outcome instead of
// failing.
func (s *EvaluateService) Execute(ctx context.Context, predictionID, analysisID string) error {
	p, err := s.predictions.Get(ctx, predictionID)
	if err != nil {
		return fmt.Errorf("op=evaluate.Execute: %w", err)
	}
	var target domain.DailyAnalysis
	if analysisID != "" {
		// an explicitly referenced analysis must exist
		target, err = s.analyses.Get(ctx, analysisID)
		if err != nil {
			return fmt.Errorf("op=evaluate.Execute prediction=%s: %w", predictionID, err)
		}
	} else {
		target, err = s.analyses.Latest(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("op=evaluate.Execute prediction=%s: %w", predictionID, err)
		}
	}

	accuracy, outcome := 0.5, "insufficient_data"
	if target.ID != "" && target.ID != p.AnalysisID {
		accuracy, outcome = scorePrediction(p, target)
	}

	if _, err := s.comparisons.Insert(ctx, domain.PredictionComparison{
		PredictionID: predictionID,
		AnalysisID:   target.ID,
		Accuracy:     accuracy,
		Outcome:      outcome,
	}); err != nil {
		return fmt.Errorf("op=evaluate.Execute prediction=%s: %w", predictionID, err)
	}
	slog.Info("prediction evaluated",
		slog.String("prediction_id", predictionID),
		slog.Float64("accuracy", accuracy),
		slog.String("outcome", outcome),
	)
	return nil
}

// scorePrediction applies the kind-specific accuracy rule.
func scorePrediction(p domain.Prediction, latest domain.DailyAnalysis) (float64, string) {
	switch p.Kind {
	case domain.PredictMarketDirection:
		return scoreDirection(p, latest)
	default:
		return scoreThemeOverlap(p, latest)
	}
}

// scoreDirection compares the sentiment direction the prediction was
// issued under with the direction that materialized. A neutral outcome
// against a directional call scores half credit.
func scoreDirection(p domain.Prediction, latest domain.DailyAnalysis) (float64, string) {
	expected, _ := p.Data["expected_sentiment"].(string)
	actual := string(latest.MarketSentiment)
	switch {
	case expected == "":
		return 0.5, "insufficient_data"
	case expected == actual:
		return 1.0, "correct"
	case expected == string(domain.SentimentNeutral) || actual == string(domain.SentimentNeutral):
		return 0.5, "partial"
	default:
		return 0.0, "incorrect"
	}
}

// scoreThemeOverlap measures how much of the prediction's basis is still
// present in the latest key themes.
func scoreThemeOverlap(p domain.Prediction, latest domain.DailyAnalysis) (float64, string) {
	basis := basisThemes(p)
	if len(basis) == 0 || len(latest.KeyThemes) == 0 {
		return 0.5, "insufficient_data"
	}
	current := make(map[string]bool, len(latest.KeyThemes))
	for _, t := range latest.KeyThemes {
		current[strings.ToLower(t)] = true
	}
	hits := 0
	for _, t := range basis {
		if current[strings.ToLower(t)] {
			hits++
		}
	}
	accuracy := float64(hits) / float64(len(basis))
	switch {
	case accuracy >= 0.75:
		return accuracy, "correct"
	case accuracy >= 0.25:
		return accuracy, "partial"
	default:
		return accuracy, "incorrect"
	}
}

func basisThemes(p domain.Prediction) []string {
	raw, ok := p.Data["basis"].([]any)
	if !ok {
		if ss, ok := p.Data["basis"].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
