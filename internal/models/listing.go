package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CanonicalListing is the source-agnostic representation of one product
// listing, produced by the normalizer. Instances are treated as immutable
// value objects once built.
type CanonicalListing struct {
	SourceID      string
	ExternalID    string
	Title         string
	CurrentPrice  decimal.Decimal
	OriginalPrice *decimal.Decimal
	Currency      string
	URL           string
	ImageURL      string
	Brand         string
	CategoryHint  string
	Attributes    map[string]string
}

// Key returns the natural identity of the listing within the catalog.
func (l CanonicalListing) Key() ListingKey {
	return ListingKey{SourceID: l.SourceID, ExternalID: l.ExternalID}
}

// ListingKey identifies a listing across ingestion runs.
type ListingKey struct {
	SourceID   string
	ExternalID string
}

// PriceObservation is one point of a product's append-only price series.
// Observations for a product are non-decreasing in RecordedAt.
type PriceObservation struct {
	ProductID  int64
	Price      decimal.Decimal
	RecordedAt time.Time
	Source     string
}
