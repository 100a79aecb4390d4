package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

// DedupPolicy decides whether a freshly fetched price becomes a new
// observation row. Recording every fetch bloats history with no-change
// rows; two runs minutes apart must not double-count an unchanged
// price, while a genuine intra-day drop must still land.
type DedupPolicy struct {
	// Window is how long an unchanged price stays deduplicated.
	Window time.Duration
	// MinChangePct records a price inside the window once it moved at
	// least this much, in percent, relative to the last observation.
	MinChangePct decimal.Decimal
	// CacheSize bounds the in-process last-observation cache.
	CacheSize int
}

// DefaultDedupPolicy returns the production policy: 6 hours, 0.5%.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{
		Window:       6 * time.Hour,
		MinChangePct: decimal.RequireFromString("0.5"),
		CacheSize:    4096,
	}
}

func (p DedupPolicy) normalized() DedupPolicy {
	def := DefaultDedupPolicy()
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if !p.MinChangePct.IsPositive() {
		p.MinChangePct = def.MinChangePct
	}
	if p.CacheSize <= 0 {
		p.CacheSize = def.CacheSize
	}
	return p
}

// ShouldRecord reports whether price at the given time deserves a new
// row, given the latest stored observation. Nil prev always records.
func (p DedupPolicy) ShouldRecord(prev *models.PriceObservation, price decimal.Decimal, at time.Time) bool {
	if prev == nil {
		return true
	}
	if at.Sub(prev.RecordedAt) >= p.Window {
		return true
	}
	if !prev.Price.IsPositive() {
		return true
	}
	pct := price.Sub(prev.Price).Abs().Div(prev.Price).Mul(decimal.NewFromInt(100))
	return pct.GreaterThanOrEqual(p.MinChangePct)
}
