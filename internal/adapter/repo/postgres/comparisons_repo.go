package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// ComparisonRepo persists prediction scorings. Rows are immutable once
// written; a replay for the same (prediction, analysis) pair is a no-op.
type ComparisonRepo struct{ Pool PgxPool }

// NewComparisonRepo constructs a ComparisonRepo with the given pool.
func NewComparisonRepo(p PgxPool) *ComparisonRepo { return &ComparisonRepo{Pool: p} }

// Insert writes one comparison. ON CONFLICT DO NOTHING keeps the first
// score; the existing id is returned so replays are idempotent.
func (r *ComparisonRepo) Insert(ctx context.Context, c domain.PredictionComparison) (string, error) {
	tracer := otel.Tracer("repo.comparisons")
	ctx, span := tracer.Start(ctx, "comparisons.Insert")
	defer span.End()
	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO prediction_comparisons (id, prediction_id, analysis_id, accuracy, outcome_description, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6)
	      ON CONFLICT (prediction_id, analysis_id) DO NOTHING
	      RETURNING id`
	var got string
	err := r.Pool.QueryRow(ctx, q, id, c.PredictionID, c.AnalysisID, c.Accuracy, c.Outcome, time.Now().UTC()).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: the comparison already exists.
			q = `SELECT id FROM prediction_comparisons WHERE prediction_id=$1 AND analysis_id=$2`
			if err := r.Pool.QueryRow(ctx, q, c.PredictionID, c.AnalysisID).Scan(&got); err != nil {
				return "", fmt.Errorf("op=comparison.insert: %w", mapPgErr(err))
			}
			return got, nil
		}
		return "", fmt.Errorf("op=comparison.insert: %w", mapPgErr(err))
	}
	return got, nil
}

// ListByPrediction returns all scorings for one prediction.
func (r *ComparisonRepo) ListByPrediction(ctx context.Context, predictionID string) ([]domain.PredictionComparison, error) {
	tracer := otel.Tracer("repo.comparisons")
	ctx, span := tracer.Start(ctx, "comparisons.ListByPrediction")
	defer span.End()
	q := `SELECT id, prediction_id, analysis_id, accuracy, outcome_description, created_at
	      FROM prediction_comparisons WHERE prediction_id=$1 ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q, predictionID)
	if err != nil {
		return nil, fmt.Errorf("op=comparison.list: %w", mapPgErr(err))
	}
	defer rows.Close()
	var out []domain.PredictionComparison
	for rows.Next() {
		var c domain.PredictionComparison
		if err := rows.Scan(&c.ID, &c.PredictionID, &c.AnalysisID, &c.Accuracy, &c.Outcome, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=comparison.list: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
