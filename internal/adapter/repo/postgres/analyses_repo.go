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

// AnalysisRepo persists daily analyses, one per civil date.
type AnalysisRepo struct{ Pool PgxPool }

// NewAnalysisRepo constructs an AnalysisRepo with the given pool.
func NewAnalysisRepo(p PgxPool) *AnalysisRepo { return &AnalysisRepo{Pool: p} }

// Upsert swaps the row for the date atomically; regeneration replaces the
// previous synthesis in one statement. created_at advances with each
// regeneration so staleness checks reset.
func (r *AnalysisRepo) Upsert(ctx context.Context, a domain.DailyAnalysis) (string, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Upsert")
	defer span.End()
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	themes, err := json.Marshal(orEmptySlice(a.KeyThemes))
	if err != nil {
		return "", fmt.Errorf("op=analysis.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	blob, err := json.Marshal(orEmptyMap(a.AIBlob))
	if err != nil {
		return "", fmt.Errorf("op=analysis.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `INSERT INTO daily_analyses (id, date, market_sentiment, key_themes_json, summary, ai_blob_json, confidence, sources_analyzed, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (date) DO UPDATE SET
	        market_sentiment=EXCLUDED.market_sentiment, key_themes_json=EXCLUDED.key_themes_json,
	        summary=EXCLUDED.summary, ai_blob_json=EXCLUDED.ai_blob_json,
	        confidence=EXCLUDED.confidence, sources_analyzed=EXCLUDED.sources_analyzed,
	        created_at=EXCLUDED.created_at
	      RETURNING id`
	var got string
	err = r.Pool.QueryRow(ctx, q, id, a.Date, a.MarketSentiment, themes, a.Summary, blob,
		a.Confidence, a.SourcesAnalyzed, time.Now().UTC()).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("op=analysis.upsert: %w", mapPgErr(err))
	}
	return got, nil
}

const analysisCols = `id, date, market_sentiment, key_themes_json, summary, ai_blob_json, confidence, sources_analyzed, created_at`

func scanAnalysis(row pgx.Row) (domain.DailyAnalysis, error) {
	var a domain.DailyAnalysis
	var themes, blob []byte
	if err := row.Scan(&a.ID, &a.Date, &a.MarketSentiment, &themes, &a.Summary, &blob,
		&a.Confidence, &a.SourcesAnalyzed, &a.CreatedAt); err != nil {
		return domain.DailyAnalysis{}, err
	}
	_ = json.Unmarshal(themes, &a.KeyThemes)
	_ = json.Unmarshal(blob, &a.AIBlob)
	return a, nil
}

// Get loads an analysis by id.
func (r *AnalysisRepo) Get(ctx context.Context, id string) (domain.DailyAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Get")
	defer span.End()
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, `SELECT `+analysisCols+` FROM daily_analyses WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.get: %w", domain.ErrNotFound)
		}
		return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.get: %w", mapPgErr(err))
	}
	return a, nil
}

// GetByDate loads the analysis for one civil date.
func (r *AnalysisRepo) GetByDate(ctx context.Context, date string) (domain.DailyAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.GetByDate")
	defer span.End()
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, `SELECT `+analysisCols+` FROM daily_analyses WHERE date=$1`, date))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.get_by_date: %w", domain.ErrNotFound)
		}
		return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.get_by_date: %w", mapPgErr(err))
	}
	return a, nil
}

// Latest returns the most recent analysis by date.
func (r *AnalysisRepo) Latest(ctx context.Context) (domain.DailyAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Latest")
	defer span.End()
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, `SELECT `+analysisCols+` FROM daily_analyses ORDER BY date DESC LIMIT 1`))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.latest: %w", domain.ErrNotFound)
		}
		return domain.DailyAnalysis{}, fmt.Errorf("op=analysis.latest: %w", mapPgErr(err))
	}
	return a, nil
}
