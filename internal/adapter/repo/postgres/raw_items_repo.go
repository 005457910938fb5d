package postgres

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/feedpulse/internal/domain"
)

// RawItemRepo persists fetched items. IDs are ULIDs so lexicographic order
// follows insertion time.
type RawItemRepo struct{ Pool PgxPool }

// NewRawItemRepo constructs a RawItemRepo with the given pool.
func NewRawItemRepo(p PgxPool) *RawItemRepo { return &RawItemRepo{Pool: p} }

// Insert persists one item. Returns ErrConflict (wrapped) when the
// (source_id, external_id) pair already exists; callers treat that as
// already-done work.
func (r *RawItemRepo) Insert(ctx context.Context, it domain.RawItem) (string, error) {
	tracer := otel.Tracer("repo.raw_items")
	ctx, span := tracer.Start(ctx, "raw_items.Insert")
	defer span.End()
	id := it.ID
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	meta, err := json.Marshal(orEmptyMap(it.Metadata))
	if err != nil {
		return "", fmt.Errorf("op=raw_item.insert: %w: %v", domain.ErrInvalidArgument, err)
	}
	status := it.Status
	if status == "" {
		status = domain.ItemPending
	}
	q := `INSERT INTO raw_items (id, source_id, external_id, title, description, body, published_at, metadata_json, processing_status, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.Pool.Exec(ctx, q, id, it.SourceID, it.ExternalID, it.Title, it.Description, it.Body,
		it.PublishedAt.UTC(), meta, status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=raw_item.insert: %w", mapPgErr(err))
	}
	return id, nil
}

const rawItemCols = `id, source_id, external_id, title, description, body, published_at, metadata_json, processing_status, created_at`

func scanRawItem(row pgx.Row) (domain.RawItem, error) {
	var it domain.RawItem
	var meta []byte
	if err := row.Scan(&it.ID, &it.SourceID, &it.ExternalID, &it.Title, &it.Description, &it.Body,
		&it.PublishedAt, &meta, &it.Status, &it.CreatedAt); err != nil {
		return domain.RawItem{}, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &it.Metadata)
	}
	return it, nil
}

// Get loads a raw item by id.
func (r *RawItemRepo) Get(ctx context.Context, id string) (domain.RawItem, error) {
	tracer := otel.Tracer("repo.raw_items")
	ctx, span := tracer.Start(ctx, "raw_items.Get")
	defer span.End()
	it, err := scanRawItem(r.Pool.QueryRow(ctx, `SELECT `+rawItemCols+` FROM raw_items WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.RawItem{}, fmt.Errorf("op=raw_item.get: %w", domain.ErrNotFound)
		}
		return domain.RawItem{}, fmt.Errorf("op=raw_item.get: %w", mapPgErr(err))
	}
	return it, nil
}

// SetBody fills the transcribed body of an item.
func (r *RawItemRepo) SetBody(ctx context.Context, id, body string) error {
	tracer := otel.Tracer("repo.raw_items")
	ctx, span := tracer.Start(ctx, "raw_items.SetBody")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE raw_items SET body=$2 WHERE id=$1`, id, body)
	if err != nil {
		return fmt.Errorf("op=raw_item.set_body: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=raw_item.set_body: %w", domain.ErrNotFound)
	}
	return nil
}

// SetStatus advances the processing status of an item.
func (r *RawItemRepo) SetStatus(ctx context.Context, id string, st domain.ItemStatus) error {
	tracer := otel.Tracer("repo.raw_items")
	ctx, span := tracer.Start(ctx, "raw_items.SetStatus")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE raw_items SET processing_status=$2 WHERE id=$1`, id, st)
	if err != nil {
		return fmt.Errorf("op=raw_item.set_status: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=raw_item.set_status: %w", domain.ErrNotFound)
	}
	return nil
}

// ListPublishedBetween returns items published in [from, to), newest first,
// capped at limit.
func (r *RawItemRepo) ListPublishedBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.RawItem, error) {
	tracer := otel.Tracer("repo.raw_items")
	ctx, span := tracer.Start(ctx, "raw_items.ListPublishedBetween")
	defer span.End()
	q := `SELECT ` + rawItemCols + ` FROM raw_items WHERE published_at >= $1 AND published_at < $2 ORDER BY published_at DESC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("op=raw_item.list_published: %w", mapPgErr(err))
	}
	defer rows.Close()
	var out []domain.RawItem
	for rows.Next() {
		it, err := scanRawItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=raw_item.list_published: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
