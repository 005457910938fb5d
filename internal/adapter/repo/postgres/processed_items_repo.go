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

// ProcessedItemRepo persists analytic views of raw items, at most one per
// raw item (enforced by the unique index on raw_item_id).
type ProcessedItemRepo struct{ Pool PgxPool }

// NewProcessedItemRepo constructs a ProcessedItemRepo with the given pool.
func NewProcessedItemRepo(p PgxPool) *ProcessedItemRepo { return &ProcessedItemRepo{Pool: p} }

// Upsert writes the processed view; a replay for the same raw item
// replaces the previous row, keeping handlers idempotent.
func (r *ProcessedItemRepo) Upsert(ctx context.Context, p domain.ProcessedItem) (string, error) {
	tracer := otel.Tracer("repo.processed_items")
	ctx, span := tracer.Start(ctx, "processed_items.Upsert")
	defer span.End()
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	topics, err := json.Marshal(orEmptySlice(p.Topics))
	if err != nil {
		return "", fmt.Errorf("op=processed.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	entities, err := json.Marshal(p.Entities)
	if err != nil {
		return "", fmt.Errorf("op=processed.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	meta, err := json.Marshal(orEmptyMap(p.Metadata))
	if err != nil {
		return "", fmt.Errorf("op=processed.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `INSERT INTO processed_items (id, raw_item_id, normalized_text, topics_json, sentiment_score, entities_json, summary, processing_metadata_json, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (raw_item_id) DO UPDATE SET
	        normalized_text=EXCLUDED.normalized_text, topics_json=EXCLUDED.topics_json,
	        sentiment_score=EXCLUDED.sentiment_score, entities_json=EXCLUDED.entities_json,
	        summary=EXCLUDED.summary, processing_metadata_json=EXCLUDED.processing_metadata_json
	      RETURNING id`
	var got string
	err = r.Pool.QueryRow(ctx, q, id, p.RawItemID, p.NormalizedText, topics, p.Sentiment, entities,
		p.Summary, meta, time.Now().UTC()).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("op=processed.upsert: %w", mapPgErr(err))
	}
	return got, nil
}

const processedCols = `id, raw_item_id, normalized_text, topics_json, sentiment_score, entities_json, summary, processing_metadata_json, created_at`

func scanProcessed(row pgx.Row) (domain.ProcessedItem, error) {
	var p domain.ProcessedItem
	var topics, entities, meta []byte
	if err := row.Scan(&p.ID, &p.RawItemID, &p.NormalizedText, &topics, &p.Sentiment, &entities,
		&p.Summary, &meta, &p.CreatedAt); err != nil {
		return domain.ProcessedItem{}, err
	}
	_ = json.Unmarshal(topics, &p.Topics)
	_ = json.Unmarshal(entities, &p.Entities)
	_ = json.Unmarshal(meta, &p.Metadata)
	return p, nil
}

// GetByRawItem loads the processed view for one raw item.
func (r *ProcessedItemRepo) GetByRawItem(ctx context.Context, rawItemID string) (domain.ProcessedItem, error) {
	tracer := otel.Tracer("repo.processed_items")
	ctx, span := tracer.Start(ctx, "processed_items.GetByRawItem")
	defer span.End()
	p, err := scanProcessed(r.Pool.QueryRow(ctx, `SELECT `+processedCols+` FROM processed_items WHERE raw_item_id=$1`, rawItemID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProcessedItem{}, fmt.Errorf("op=processed.get_by_raw: %w", domain.ErrNotFound)
		}
		return domain.ProcessedItem{}, fmt.Errorf("op=processed.get_by_raw: %w", mapPgErr(err))
	}
	return p, nil
}

// ListByRawItems loads processed views for a set of raw item ids.
func (r *ProcessedItemRepo) ListByRawItems(ctx context.Context, rawItemIDs []string) ([]domain.ProcessedItem, error) {
	tracer := otel.Tracer("repo.processed_items")
	ctx, span := tracer.Start(ctx, "processed_items.ListByRawItems")
	defer span.End()
	if len(rawItemIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + processedCols + ` FROM processed_items WHERE raw_item_id = ANY($1) ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, rawItemIDs)
	if err != nil {
		return nil, fmt.Errorf("op=processed.list_by_raw: %w", mapPgErr(err))
	}
	defer rows.Close()
	var out []domain.ProcessedItem
	for rows.Next() {
		p, err := scanProcessed(rows)
		if err != nil {
			return nil, fmt.Errorf("op=processed.list_by_raw: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
