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

// SourceRepo persists and loads sources using a minimal pgx pool.
type SourceRepo struct{ Pool PgxPool }

// NewSourceRepo constructs a SourceRepo with the given pool.
func NewSourceRepo(p PgxPool) *SourceRepo { return &SourceRepo{Pool: p} }

// Create inserts a new source and returns its id (generates one if empty).
func (r *SourceRepo) Create(ctx context.Context, s domain.Source) (string, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.Create")
	defer span.End()
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	cfg, err := json.Marshal(orEmptyMap(s.Config))
	if err != nil {
		return "", fmt.Errorf("op=source.create: %w: %v", domain.ErrInvalidArgument, err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO sources (id, name, kind, url, active, config_json, last_fetched_at, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err := r.Pool.Exec(ctx, q, id, s.Name, s.Kind, s.URL, s.Active, cfg, s.LastFetchedAt, now, now); err != nil {
		return "", fmt.Errorf("op=source.create: %w", mapPgErr(err))
	}
	return id, nil
}

// Update rewrites the mutable columns of a source.
func (r *SourceRepo) Update(ctx context.Context, s domain.Source) error {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.Update")
	defer span.End()
	cfg, err := json.Marshal(orEmptyMap(s.Config))
	if err != nil {
		return fmt.Errorf("op=source.update: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `UPDATE sources SET name=$2, kind=$3, url=$4, active=$5, config_json=$6, updated_at=$7 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, s.ID, s.Name, s.Kind, s.URL, s.Active, cfg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=source.update: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=source.update: %w", domain.ErrNotFound)
	}
	return nil
}

const sourceCols = `id, name, kind, url, active, config_json, last_fetched_at, created_at, updated_at`

func scanSource(row pgx.Row) (domain.Source, error) {
	var s domain.Source
	var cfg []byte
	if err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &s.Active, &cfg, &s.LastFetchedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Source{}, err
	}
	if len(cfg) > 0 {
		_ = json.Unmarshal(cfg, &s.Config)
	}
	return s, nil
}

// Get loads a source by id.
func (r *SourceRepo) Get(ctx context.Context, id string) (domain.Source, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.Get")
	defer span.End()
	s, err := scanSource(r.Pool.QueryRow(ctx, `SELECT `+sourceCols+` FROM sources WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Source{}, fmt.Errorf("op=source.get: %w", domain.ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("op=source.get: %w", mapPgErr(err))
	}
	return s, nil
}

// GetByName loads a source by its unique name.
func (r *SourceRepo) GetByName(ctx context.Context, name string) (domain.Source, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.GetByName")
	defer span.End()
	s, err := scanSource(r.Pool.QueryRow(ctx, `SELECT `+sourceCols+` FROM sources WHERE name=$1`, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Source{}, fmt.Errorf("op=source.get_by_name: %w", domain.ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("op=source.get_by_name: %w", mapPgErr(err))
	}
	return s, nil
}

// ListActive returns all active sources, oldest fetch first so the
// freshness trigger prioritizes the stalest.
func (r *SourceRepo) ListActive(ctx context.Context) ([]domain.Source, error) {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.ListActive")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+sourceCols+` FROM sources WHERE active ORDER BY last_fetched_at ASC NULLS FIRST`)
	if err != nil {
		return nil, fmt.Errorf("op=source.list_active: %w", mapPgErr(err))
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("op=source.list_active: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TouchFetched advances last_fetched_at after a successful fetch.
func (r *SourceRepo) TouchFetched(ctx context.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.sources")
	ctx, span := tracer.Start(ctx, "sources.TouchFetched")
	defer span.End()
	q := `UPDATE sources SET last_fetched_at=$2, updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, at.UTC()); err != nil {
		return fmt.Errorf("op=source.touch_fetched: %w", mapPgErr(err))
	}
	return nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
