package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertProductSQL = `INSERT INTO products (
        source_id,
        external_id,
        title,
        brand,
        category_slug,
        currency,
        url,
        image_url
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (source_id, external_id) DO UPDATE
    SET
        title         = EXCLUDED.title,
        brand         = CASE WHEN EXCLUDED.brand <> '' THEN EXCLUDED.brand ELSE products.brand END,
        category_slug = CASE WHEN EXCLUDED.category_slug <> '' THEN EXCLUDED.category_slug ELSE products.category_slug END,
        currency      = EXCLUDED.currency,
        url           = EXCLUDED.url,
        image_url     = CASE WHEN EXCLUDED.image_url <> '' THEN EXCLUDED.image_url ELSE products.image_url END,
        last_seen_at  = now()
    RETURNING id, (xmax = 0) AS inserted;`

	getProductSQL = `SELECT
        id,
        source_id,
        external_id,
        title,
        brand,
        category_slug,
        currency,
        url,
        image_url,
        first_seen_at,
        last_seen_at
    FROM products
    WHERE id = $1;`

	findProductSQL = `SELECT
        id,
        source_id,
        external_id,
        title,
        brand,
        category_slug,
        currency,
        url,
        image_url,
        first_seen_at,
        last_seen_at
    FROM products
    WHERE source_id = $1
      AND external_id = $2;`

	countProductsSQL = `SELECT COUNT(*) FROM products;`

	appendObservationSQL = `INSERT INTO price_observations (
        product_id,
        price,
        source,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4
    );`

	lastObservationSQL = `SELECT
        product_id,
        price::text,
        source,
        recorded_at
    FROM price_observations
    WHERE product_id = $1
    ORDER BY recorded_at DESC
    LIMIT 1;`

	observationsSinceSQL = `SELECT
        product_id,
        price::text,
        source,
        recorded_at
    FROM price_observations
    WHERE product_id = $1
      AND recorded_at >= $2
    ORDER BY recorded_at;`

	countObservationsSQL = `SELECT COUNT(*) FROM price_observations;`

	recordDealSQL = `INSERT INTO deals (
        product_id,
        price,
        original_price,
        discount_pct,
        kind,
        url,
        score,
        tier,
        reasoning,
        starts_at,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING id;`

	recentDealsSQL = `SELECT
        d.id,
        d.product_id,
        p.source_id,
        p.title,
        d.price::text,
        d.original_price::text,
        d.discount_pct::text,
        d.kind,
        d.url,
        d.score,
        d.tier,
        d.reasoning,
        d.created_at
    FROM deals d
    JOIN products p ON p.id = d.product_id
    ORDER BY d.created_at DESC
    LIMIT $1;`

	advisoryXactLockSQL = `SELECT pg_advisory_xact_lock($1);`
	tryAdvisoryLockSQL  = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL   = `SELECT pg_advisory_unlock($1);`
)

// ProductStore defines operations on the product catalog.
type ProductStore interface {
	UpsertProduct(ctx context.Context, listing models.CanonicalListing) (id int64, created bool, err error)
	GetProduct(ctx context.Context, id int64) (*ProductRecord, error)
	FindProduct(ctx context.Context, sourceID, externalID string) (*ProductRecord, error)
	CountProducts(ctx context.Context) (int64, error)
}

// ObservationStore defines operations on the price history.
type ObservationStore interface {
	AppendObservation(ctx context.Context, productID int64, price decimal.Decimal, at time.Time, source string) (bool, error)
	ObservationsSince(ctx context.Context, productID int64, since time.Time) ([]models.PriceObservation, error)
	LastObservation(ctx context.Context, productID int64) (*models.PriceObservation, error)
}

// DealStore defines operations on scored deals.
type DealStore interface {
	RecordDeal(ctx context.Context, productID int64, deal models.CanonicalDeal, score models.DealScore) (int64, error)
	RecentDeals(ctx context.Context, limit int) ([]DealRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to products, price observations and deals.
// A nil Store (persistence disabled) fails every call with
// ErrNotConfigured; callers decide whether that is fatal.
type Store struct {
	pool   *pgxpool.Pool
	dedup  DedupPolicy
	last   *lru.Cache[int64, models.PriceObservation]
	logger zerolog.Logger
}

// NewStore wires a pgx pool into a Store with the given dedup policy.
func NewStore(pool *pgxpool.Pool, policy DedupPolicy, logger zerolog.Logger) *Store {
	policy = policy.normalized()
	cache, err := lru.New[int64, models.PriceObservation](policy.CacheSize)
	if err != nil {
		cache = nil
	}
	return &Store{
		pool:   pool,
		dedup:  policy,
		last:   cache,
		logger: logger.With().Str("component", "storage").Logger(),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts a session advisory lock and returns a
// release func. The daemon uses it as a singleton guard.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertProduct creates or refreshes the catalog row for a listing and
// returns the product id plus whether the row is new. Calling it twice
// with the same listing yields the same id; enriching fields never
// regress to empty.
func (s *Store) UpsertProduct(ctx context.Context, listing models.CanonicalListing) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}
	if listing.SourceID == "" || listing.ExternalID == "" {
		return 0, false, errors.New("listing missing source or external id")
	}

	currency := listing.Currency
	if currency == "" {
		currency = "EUR"
	}

	var (
		id       int64
		inserted bool
	)
	if scanErr := pool.QueryRow(ctx, upsertProductSQL,
		listing.SourceID,
		listing.ExternalID,
		listing.Title,
		listing.Brand,
		listing.CategoryHint,
		currency,
		listing.URL,
		listing.ImageURL,
	).Scan(&id, &inserted); scanErr != nil {
		return 0, false, fmt.Errorf("upsert product: %w", scanErr)
	}
	return id, inserted, nil
}

// GetProduct loads one catalog row, or nil when absent.
func (s *Store) GetProduct(ctx context.Context, id int64) (*ProductRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanProduct(pool.QueryRow(ctx, getProductSQL, id))
}

// FindProduct resolves a catalog row by its source identity, or nil.
func (s *Store) FindProduct(ctx context.Context, sourceID, externalID string) (*ProductRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return scanProduct(pool.QueryRow(ctx, findProductSQL, sourceID, externalID))
}

// CountProducts counts catalog rows.
func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countProductsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count products: %w", scanErr)
	}
	return count, nil
}

// CountObservations counts price history rows.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// AppendObservation records price for a product unless the dedup policy
// rejects it, and reports whether a row was written. The decision and
// the insert run inside one transaction holding the product's advisory
// xact lock, so concurrent appends for the same product serialize. The
// in-process cache only short-circuits obvious duplicates; the
// authoritative prior observation is read under the lock.
func (s *Store) AppendObservation(ctx context.Context, productID int64, price decimal.Decimal, at time.Time, source string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	if s.last != nil {
		if prev, ok := s.last.Get(productID); ok {
			if !s.dedup.ShouldRecord(&prev, price, at) {
				return false, nil
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, advisoryXactLockSQL, productID); err != nil {
		return false, fmt.Errorf("lock product %d: %w", productID, err)
	}

	prev, err := lastObservationRow(tx.QueryRow(ctx, lastObservationSQL, productID))
	if err != nil {
		return false, err
	}
	if !s.dedup.ShouldRecord(prev, price, at) {
		if s.last != nil && prev != nil {
			s.last.Add(productID, *prev)
		}
		return false, nil
	}

	if _, err := tx.Exec(ctx, appendObservationSQL, productID, price.String(), source, at); err != nil {
		return false, fmt.Errorf("append observation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit append: %w", err)
	}

	if s.last != nil {
		s.last.Add(productID, models.PriceObservation{
			ProductID:  productID,
			Price:      price,
			Source:     source,
			RecordedAt: at,
		})
	}
	return true, nil
}

// ObservationsSince lists a product's observations from since onwards,
// oldest first.
func (s *Store) ObservationsSince(ctx context.Context, productID int64, since time.Time) ([]models.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, observationsSinceSQL, productID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("observations since: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]models.PriceObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// LastObservation returns a product's most recent observation, or nil
// when it has no history yet.
func (s *Store) LastObservation(ctx context.Context, productID int64) (*models.PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return lastObservationRow(pool.QueryRow(ctx, lastObservationSQL, productID))
}

// RecordDeal persists a scored deal.
func (s *Store) RecordDeal(ctx context.Context, productID int64, deal models.CanonicalDeal, score models.DealScore) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var original interface{}
	if deal.Listing.OriginalPrice != nil {
		original = deal.Listing.OriginalPrice.String()
	}
	var discount interface{}
	if deal.DiscountPercent != nil {
		discount = deal.DiscountPercent.String()
	}
	var startsAt interface{}
	if deal.StartsAt != nil {
		startsAt = *deal.StartsAt
	}
	var expiresAt interface{}
	if deal.ExpiresAt != nil {
		expiresAt = *deal.ExpiresAt
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, recordDealSQL,
		productID,
		deal.DealPrice.String(),
		original,
		discount,
		string(deal.Kind),
		deal.DealURL,
		score.Score,
		string(score.Tier),
		score.Reasoning,
		startsAt,
		expiresAt,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("record deal: %w", scanErr)
	}
	return id, nil
}

// RecentDeals lists the most recently recorded deals, newest first.
func (s *Store) RecentDeals(ctx context.Context, limit int) ([]DealRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentDealsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("recent deals: %w", queryErr)
	}
	defer rows.Close()

	deals := make([]DealRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanDeal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		deals = append(deals, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return deals, nil
}

func scanProduct(row pgx.Row) (*ProductRecord, error) {
	var rec ProductRecord
	err := row.Scan(
		&rec.ID,
		&rec.SourceID,
		&rec.ExternalID,
		&rec.Title,
		&rec.Brand,
		&rec.CategorySlug,
		&rec.Currency,
		&rec.URL,
		&rec.ImageURL,
		&rec.FirstSeenAt,
		&rec.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &rec, nil
}

func lastObservationRow(row pgx.Row) (*models.PriceObservation, error) {
	var (
		obs      models.PriceObservation
		priceStr string
	)
	err := row.Scan(&obs.ProductID, &priceStr, &obs.Source, &obs.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan last observation: %w", err)
	}

	obs.Price, err = decimal.NewFromString(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse observation price: %w", err)
	}
	return &obs, nil
}

func scanObservation(rows pgx.Rows) (models.PriceObservation, error) {
	var (
		obs      models.PriceObservation
		priceStr string
	)
	if err := rows.Scan(&obs.ProductID, &priceStr, &obs.Source, &obs.RecordedAt); err != nil {
		return models.PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return models.PriceObservation{}, fmt.Errorf("parse observation price: %w", err)
	}
	obs.Price = price
	return obs, nil
}

func scanDeal(rows pgx.Rows) (DealRecord, error) {
	var (
		rec         DealRecord
		priceStr    string
		originalStr *string
		discountStr *string
		kind        string
		tier        string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.SourceID,
		&rec.Title,
		&priceStr,
		&originalStr,
		&discountStr,
		&kind,
		&rec.URL,
		&rec.Score,
		&tier,
		&rec.Reasoning,
		&rec.CreatedAt,
	); err != nil {
		return DealRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return DealRecord{}, fmt.Errorf("parse deal price: %w", err)
	}
	rec.Price = price
	if originalStr != nil {
		original, convErr := decimal.NewFromString(*originalStr)
		if convErr != nil {
			return DealRecord{}, fmt.Errorf("parse original price: %w", convErr)
		}
		rec.OriginalPrice = &original
	}
	if discountStr != nil {
		discount, convErr := decimal.NewFromString(*discountStr)
		if convErr != nil {
			return DealRecord{}, fmt.Errorf("parse discount pct: %w", convErr)
		}
		rec.DiscountPct = &discount
	}
	rec.Kind = models.DealKind(kind)
	rec.Tier = models.Tier(tier)
	return rec, nil
}
