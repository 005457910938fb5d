package postgres

import (
	"context"
	"fmt"
)

// Migrate applies the schema. Idempotent: CREATE TABLE IF NOT EXISTS
// throughout, safe to run at every boot.
func Migrate(ctx context.Context, pool PgxPool) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		url TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		config_json JSONB NOT NULL DEFAULT '{}',
		last_fetched_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS raw_items (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL REFERENCES sources(id),
		external_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		metadata_json JSONB NOT NULL DEFAULT '{}',
		processing_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (source_id, external_id)
	);
	CREATE INDEX IF NOT EXISTS idx_raw_items_published_at ON raw_items(published_at);
	CREATE INDEX IF NOT EXISTS idx_raw_items_status ON raw_items(processing_status);

	CREATE TABLE IF NOT EXISTS processed_items (
		id TEXT PRIMARY KEY,
		raw_item_id TEXT NOT NULL UNIQUE REFERENCES raw_items(id),
		normalized_text TEXT NOT NULL,
		topics_json JSONB NOT NULL DEFAULT '[]',
		sentiment_score DOUBLE PRECISION NOT NULL,
		entities_json JSONB NOT NULL DEFAULT '{}',
		summary TEXT NOT NULL DEFAULT '',
		processing_metadata_json JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_analyses (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		market_sentiment TEXT NOT NULL,
		key_themes_json JSONB NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		ai_blob_json JSONB NOT NULL DEFAULT '{}',
		confidence DOUBLE PRECISION NOT NULL,
		sources_analyzed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		analysis_id TEXT NOT NULL REFERENCES daily_analyses(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		horizon TEXT NOT NULL,
		data_json JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (analysis_id, kind, horizon)
	);

	CREATE TABLE IF NOT EXISTS prediction_comparisons (
		id TEXT PRIMARY KEY,
		prediction_id TEXT NOT NULL REFERENCES predictions(id),
		analysis_id TEXT NOT NULL REFERENCES daily_analyses(id),
		accuracy DOUBLE PRECISION NOT NULL,
		outcome_description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (prediction_id, analysis_id)
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload_json JSONB NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 5,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		scheduled_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, scheduled_at, priority);
	CREATE INDEX IF NOT EXISTS idx_jobs_dedup_source ON jobs(kind, (payload_json->>'source_ref')) WHERE status IN ('pending','processing','retry');
	CREATE INDEX IF NOT EXISTS idx_jobs_dedup_raw ON jobs(kind, (payload_json->>'raw_ref')) WHERE status IN ('pending','processing','retry');
	CREATE INDEX IF NOT EXISTS idx_jobs_dedup_date ON jobs(kind, (payload_json->>'date')) WHERE status IN ('pending','processing','retry');
	CREATE INDEX IF NOT EXISTS idx_jobs_dedup_analysis ON jobs(kind, (payload_json->>'analysis_ref')) WHERE status IN ('pending','processing','retry');
	CREATE INDEX IF NOT EXISTS idx_jobs_dedup_prediction ON jobs(kind, (payload_json->>'prediction_ref')) WHERE status IN ('pending','processing','retry');
	`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("op=migrate: %w", err)
	}
	return nil
}
