package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// PredictionRepo persists predictions, naturally unique per
// (analysis_id, kind, horizon).
type PredictionRepo struct{ Pool PgxPool }

// NewPredictionRepo constructs a PredictionRepo with the given pool.
func NewPredictionRepo(p PgxPool) *PredictionRepo { return &PredictionRepo{Pool: p} }

// Upsert writes a prediction; replays replace the row for the same
// (analysis, kind, horizon) triple.
func (r *PredictionRepo) Upsert(ctx context.Context, p domain.Prediction) (string, error) {
	tracer := otel.Tracer("repo.predictions")
	ctx, span := tracer.Start(ctx, "predictions.Upsert")
	defer span.End()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	data, err := json.Marshal(orEmptyMap(p.Data))
	if err != nil {
		return "", fmt.Errorf("op=prediction.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `INSERT INTO predictions (id, analysis_id, kind, text, confidence, horizon, data_json, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (analysis_id, kind, horizon) DO UPDATE SET
	        text=EXCLUDED.text, confidence=EXCLUDED.confidence, data_json=EXCLUDED.data_json
	      RETURNING id`
	var got string
	err = r.Pool.QueryRow(ctx, q, id, p.AnalysisID, p.Kind, p.Text, p.Confidence, p.Horizon, data, time.Now().UTC()).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("op=prediction.upsert: %w", mapPgErr(err))
	}
	return got, nil
}

const predictionCols = `id, analysis_id, kind, text, confidence, horizon, data_json, created_at`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var data []byte
	if err := row.Scan(&p.ID, &p.AnalysisID, &p.Kind, &p.Text, &p.Confidence, &p.Horizon, &data, &p.CreatedAt); err != nil {
		return domain.Prediction{}, err
	}
	_ = json.Unmarshal(data, &p.Data)
	return p, nil
}

// Get loads a prediction by id.
func (r *PredictionRepo) Get(ctx context.Context, id string) (domain.Prediction, error) {
	tracer := otel.Tracer("repo.predictions")
	ctx, span := tracer.Start(ctx, "predictions.Get")
	defer span.End()
	p, err := scanPrediction(r.Pool.QueryRow(ctx, `SELECT `+predictionCols+` FROM predictions WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Prediction{}, fmt.Errorf("op=prediction.get: %w", domain.ErrNotFound)
		}
		return domain.Prediction{}, fmt.Errorf("op=prediction.get: %w", mapPgErr(err))
	}
	return p, nil
}

// ListByAnalysis returns predictions for one analysis.
func (r *PredictionRepo) ListByAnalysis(ctx context.Context, analysisID string) ([]domain.Prediction, error) {
	tracer := otel.Tracer("repo.predictions")
	ctx, span := tracer.Start(ctx, "predictions.ListByAnalysis")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+predictionCols+` FROM predictions WHERE analysis_id=$1 ORDER BY horizon`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("op=prediction.list_by_analysis: %w", mapPgErr(err))
	}
	defer rows.Close()
	return collectPredictions(rows)
}

// horizonInterval maps horizons onto SQL intervals for due-date math.
var horizonInterval = map[domain.Horizon]string{
	domain.Horizon1W: "7 days",
	domain.Horizon1M: "30 days",
	domain.Horizon3M: "90 days",
	domain.Horizon6M: "180 days",
	domain.Horizon1Y: "365 days",
}

// ListDue returns predictions whose horizon elapsed before now and that
// have no comparison yet.
func (r *PredictionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Prediction, error) {
	tracer := otel.Tracer("repo.predictions")
	ctx, span := tracer.Start(ctx, "predictions.ListDue")
	defer span.End()
	q := `SELECT ` + predictionCols + ` FROM predictions p
	      WHERE p.created_at + CASE p.horizon
	              WHEN '1w' THEN INTERVAL '7 days'
	              WHEN '1m' THEN INTERVAL '30 days'
	              WHEN '3m' THEN INTERVAL '90 days'
	              WHEN '6m' THEN INTERVAL '180 days'
	              ELSE INTERVAL '365 days'
	            END <= $1
	        AND NOT EXISTS (SELECT 1 FROM prediction_comparisons c WHERE c.prediction_id = p.id)
	      ORDER BY p.created_at ASC
	      LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("op=prediction.list_due: %w", mapPgErr(err))
	}
	defer rows.Close()
	return collectPredictions(rows)
}

func collectPredictions(rows pgx.Rows) ([]domain.Prediction, error) {
	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("op=prediction.scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
