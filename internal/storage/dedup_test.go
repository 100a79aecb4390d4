package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

func obsAt(price string, at time.Time) *models.PriceObservation {
	return &models.PriceObservation{
		ProductID:  1,
		Price:      decimal.RequireFromString(price),
		RecordedAt: at,
		Source:     "test",
	}
}

func TestShouldRecordFirstObservation(t *testing.T) {
	p := DefaultDedupPolicy()
	if !p.ShouldRecord(nil, decimal.NewFromInt(100), time.Now()) {
		t.Fatal("a product with no history should always record")
	}
}

func TestShouldRecordSuppressesUnchangedPriceInWindow(t *testing.T) {
	p := DefaultDedupPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := obsAt("100", now.Add(-30*time.Minute))
	if p.ShouldRecord(prev, decimal.NewFromInt(100), now) {
		t.Fatal("an unchanged price half an hour later should be deduplicated")
	}
}

func TestShouldRecordAfterWindowElapses(t *testing.T) {
	p := DefaultDedupPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := obsAt("100", now.Add(-p.Window))
	if !p.ShouldRecord(prev, decimal.NewFromInt(100), now) {
		t.Fatal("an unchanged price past the window should record")
	}
}

func TestShouldRecordGenuineMoveInsideWindow(t *testing.T) {
	p := DefaultDedupPolicy()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := obsAt("100", now.Add(-10*time.Minute))

	// 0.5% of 100 is 0.50; exactly at the threshold records.
	if !p.ShouldRecord(prev, decimal.RequireFromString("99.50"), now) {
		t.Fatal("a move at the threshold should record")
	}
	if !p.ShouldRecord(prev, decimal.NewFromInt(80), now) {
		t.Fatal("a real drop should record")
	}
	if p.ShouldRecord(prev, decimal.RequireFromString("99.90"), now) {
		t.Fatal("a 0.1% wiggle should be deduplicated")
	}
}

func TestShouldRecordIgnoresNonPositivePrevPrice(t *testing.T) {
	p := DefaultDedupPolicy()
	now := time.Now()

	prev := obsAt("0", now.Add(-time.Minute))
	if !p.ShouldRecord(prev, decimal.NewFromInt(10), now) {
		t.Fatal("a zero-priced prior row must not suppress real prices")
	}
}

func TestDedupPolicyNormalizedDefaults(t *testing.T) {
	p := DedupPolicy{}.normalized()
	def := DefaultDedupPolicy()
	if p.Window != def.Window || !p.MinChangePct.Equal(def.MinChangePct) || p.CacheSize != def.CacheSize {
		t.Fatalf("normalized zero policy = %+v, want defaults", p)
	}

	custom := DedupPolicy{Window: time.Hour, MinChangePct: decimal.NewFromInt(2), CacheSize: 10}.normalized()
	if custom.Window != time.Hour || !custom.MinChangePct.Equal(decimal.NewFromInt(2)) || custom.CacheSize != 10 {
		t.Fatal("explicit policy values should survive normalization")
	}
}
