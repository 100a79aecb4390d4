// Package cache is a local sqlite-backed TTL cache for listing details,
// sparing sources a detail refetch inside the TTL window.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"deal-scout/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS listing_details (
	source_id   TEXT NOT NULL,
	external_id TEXT NOT NULL,
	payload     TEXT NOT NULL,
	cached_at   DATETIME NOT NULL,
	PRIMARY KEY (source_id, external_id)
)`

// Listings caches CanonicalListing payloads keyed by source and
// external ID. A nil *Listings is a valid always-miss cache.
type Listings struct {
	db     *sql.DB
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// OpenListings opens or creates the cache database at path.
func OpenListings(path string, ttl time.Duration, logger zerolog.Logger) (*Listings, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open listing cache: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init listing cache schema: %w", err)
	}

	return &Listings{
		db:     db,
		ttl:    ttl,
		logger: logger.With().Str("component", "listing_cache").Logger(),
		now:    time.Now,
	}, nil
}

// Get returns the cached listing when present and fresh.
func (c *Listings) Get(ctx context.Context, sourceID, externalID string) (*models.CanonicalListing, bool) {
	if c == nil {
		return nil, false
	}

	var payload string
	var cachedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, cached_at FROM listing_details WHERE source_id = ? AND external_id = ?`,
		sourceID, externalID,
	).Scan(&payload, &cachedAt)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(cachedAt) > c.ttl {
		return nil, false
	}

	var listing models.CanonicalListing
	if err := json.Unmarshal([]byte(payload), &listing); err != nil {
		c.logger.Warn().
			Str("source_id", sourceID).
			Str("external_id", externalID).
			Err(err).
			Msg("discarding undecodable cache entry")
		return nil, false
	}
	return &listing, true
}

// Set stores or refreshes a listing.
func (c *Listings) Set(ctx context.Context, listing models.CanonicalListing) {
	if c == nil {
		return
	}

	payload, err := json.Marshal(listing)
	if err != nil {
		c.logger.Warn().
			Str("source_id", listing.SourceID).
			Str("external_id", listing.ExternalID).
			Err(err).
			Msg("cannot encode listing for cache")
		return
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO listing_details (source_id, external_id, payload, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id, external_id)
		 DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`,
		listing.SourceID, listing.ExternalID, string(payload), c.now(),
	)
	if err != nil {
		c.logger.Warn().
			Str("source_id", listing.SourceID).
			Str("external_id", listing.ExternalID).
			Err(err).
			Msg("cannot store listing in cache")
	}
}

// Purge deletes entries older than the TTL and reports how many went.
func (c *Listings) Purge(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM listing_details WHERE cached_at < ?`,
		c.now().Add(-c.ttl),
	)
	if err != nil {
		return 0, fmt.Errorf("purge listing cache: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (c *Listings) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}
