package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealKind labels how a source advertised the price cut.
type DealKind string

const (
	DealPriceDrop DealKind = "priceDrop"
	DealFlashSale DealKind = "flashSale"
	DealCoupon    DealKind = "coupon"
	DealClearance DealKind = "clearance"
	DealBundle    DealKind = "bundle"
)

// CanonicalDeal couples a listing with the deal terms a source reported.
// DealPrice is always >= 0; it is not guaranteed to be below the listing's
// current price because sources disagree with themselves regularly. The
// scoring engine penalises non-discounts to zero instead.
type CanonicalDeal struct {
	Listing         CanonicalListing
	DealPrice       decimal.Decimal
	DealURL         string
	DiscountPercent *decimal.Decimal
	Kind            DealKind
	StartsAt        *time.Time
	ExpiresAt       *time.Time
}

// ListedDiscountPercent derives the advertised discount from the listing's
// original price when the source did not state one explicitly. Returns zero
// when no original price exists or the "discount" is not a reduction.
func (d CanonicalDeal) ListedDiscountPercent() decimal.Decimal {
	if d.DiscountPercent != nil {
		return *d.DiscountPercent
	}
	orig := d.Listing.OriginalPrice
	if orig == nil || orig.IsZero() || orig.IsNegative() {
		return decimal.Zero
	}
	diff := orig.Sub(d.DealPrice)
	if diff.IsNegative() {
		return decimal.Zero
	}
	return diff.Div(*orig).Mul(decimal.NewFromInt(100))
}
