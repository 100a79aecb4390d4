package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	source_id TEXT NOT NULL,
	external_id TEXT NOT NULL,
	title TEXT NOT NULL,
	brand TEXT NOT NULL DEFAULT '',
	category_slug TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT 'EUR',
	url TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_id, external_id)
);

CREATE TABLE IF NOT EXISTS price_observations (
	id BIGSERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	price NUMERIC(12,2) NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_price_observations_product_time
	ON price_observations (product_id, recorded_at);

CREATE TABLE IF NOT EXISTS deals (
	id BIGSERIAL PRIMARY KEY,
	product_id BIGINT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	price NUMERIC(12,2) NOT NULL,
	original_price NUMERIC(12,2),
	discount_pct NUMERIC(6,2),
	kind TEXT NOT NULL DEFAULT 'priceDrop',
	url TEXT NOT NULL DEFAULT '',
	score DOUBLE PRECISION NOT NULL,
	tier TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	starts_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_deals_created_at ON deals (created_at DESC);
`

// EnsureSchema creates the tables and indexes when they do not exist.
// Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
