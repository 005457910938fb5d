package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// defaultHorizons are the windows every analysis gets predictions for.
var defaultHorizons = []domain.Horizon{domain.Horizon1W, domain.Horizon1M, domain.Horizon3M}

// PredictService drafts and persists forward-looking statements for one
// daily analysis.
type PredictService struct {
	analyses    domain.AnalysisRepository
	predictions domain.PredictionRepository
	ai          domain.AIClient
}

// NewPredictService wires the service.
func NewPredictService(analyses domain.AnalysisRepository, predictions domain.PredictionRepository,
	ai domain.AIClient) *PredictService {
	return &PredictService{analyses: analyses, predictions: predictions, ai: ai}
}

// Execute runs one generate_predictions job: one prediction per horizon,
// upserted so regeneration replaces rather than duplicates. Prediction
// confidence never exceeds the analysis confidence.
func (s *PredictService) Execute(ctx context.Context, analysisID string) error {
	a, err := s.analyses.Get(ctx, analysisID)
	if err != nil {
		return fmt.Errorf("op=predict.Execute: %w", err)
	}
	for _, horizon := range defaultHorizons {
		draft, err := s.ai.Predict(ctx, a, horizon)
		if err != nil {
			return fmt.Errorf("op=predict.Execute analysis=%s horizon=%s: %w", analysisID, horizon, err)
		}
		conf := draft.Confidence
		if conf > a.Confidence {
			conf = a.Confidence
		}
		if conf < 0 {
			conf = 0
		}
		data := map[string]any{
			"basis":              draft.Basis,
			"expected_sentiment": string(a.MarketSentiment),
		}
		if _, err := s.predictions.Upsert(ctx, domain.Prediction{
			AnalysisID: analysisID,
			Kind:       draft.Kind,
			Text:       draft.Text,
			Confidence: conf,
			Horizon:    horizon,
			Data:       data,
		}); err != nil {
			return fmt.Errorf("op=predict.Execute analysis=%s horizon=%s: %w", analysisID, horizon, err)
		}
	}
	slog.Info("predictions generated",
		slog.String("analysis_id", analysisID),
		slog.Int("horizons", len(defaultHorizons)),
	)
	return nil
}
