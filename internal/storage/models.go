package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

// ProductRecord is one row of the product catalog. A product is the
// durable identity behind (source_id, external_id); listings come and
// go, the product and its price history stay.
type ProductRecord struct {
	ID           int64
	SourceID     string
	ExternalID   string
	Title        string
	Brand        string
	CategorySlug string
	Currency     string
	URL          string
	ImageURL     string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
}

// DealRecord captures a scored deal for auditing and the show command.
// Source and title are denormalized from the product catalog.
type DealRecord struct {
	ID            int64
	ProductID     int64
	SourceID      string
	Title         string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	DiscountPct   *decimal.Decimal
	Kind          models.DealKind
	URL           string
	Score         float64
	Tier          models.Tier
	Reasoning     string
	CreatedAt     time.Time
}
