package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// migrations are idempotent statements applied in order at every boot.
// The list grows append-only; earlier versions of the schema kept price as an
// integer and lacked brand/size/found_at/thread_id/priority, so the ALTERs
// promote old installations in place.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS queries (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		query_name TEXT NULL,
		last_item NUMERIC NULL,
		thread_id BIGINT NULL,
		priority BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		item TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		price DECIMAL(10,2) NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		timestamp NUMERIC NULL,
		photo_url TEXT NULL,
		item_url TEXT NOT NULL DEFAULT '',
		query_id BIGINT REFERENCES queries(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS parameters (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS allowlist (
		country CHAR(2) PRIMARY KEY
	)`,
	`ALTER TABLE queries ADD COLUMN IF NOT EXISTS thread_id BIGINT NULL`,
	`ALTER TABLE queries ADD COLUMN IF NOT EXISTS priority BOOLEAN NOT NULL DEFAULT FALSE`,
	`ALTER TABLE items ADD COLUMN IF NOT EXISTS brand_title TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE items ADD COLUMN IF NOT EXISTS size_title TEXT NULL`,
	`ALTER TABLE items ADD COLUMN IF NOT EXISTS found_at NUMERIC NULL`,
	`ALTER TABLE items ADD COLUMN IF NOT EXISTS item_url TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE items ALTER COLUMN price TYPE DECIMAL(10,2)`,
	`CREATE INDEX IF NOT EXISTS idx_items_timestamp ON items (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_items_query_id ON items (query_id)`,
	`CREATE INDEX IF NOT EXISTS idx_items_found_at ON items (found_at)`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, pool PgxPool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=migrate step=%d: %w", i, err)
		}
	}
	slog.Info("schema migrations applied", slog.Int("steps", len(migrations)))
	return nil
}
