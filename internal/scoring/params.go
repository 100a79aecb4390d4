// Package scoring rates deals on a 0-100 scale from price history and
// advertised discounts, then maps scores to tiers.
package scoring

import "deal-scout/internal/models"

// Component keys used in DealScore.Components.
const (
	ComponentVsAverage = "vsAverage"
	ComponentVsRecent  = "vsRecent"
	ComponentNearLow   = "nearLow"
	ComponentDiscount  = "discount"
	ComponentColdStart = "coldStartPenalty"
	ComponentAnomaly   = "anomaly"
)

// Sub-range ceilings per component. They sum to 100, so the total needs
// no renormalising.
const (
	capVsAverage = 30.0
	capVsRecent  = 20.0
	capNearLow   = 25.0
	capDiscount  = 15.0
	capAnomaly   = 10.0
)

// Params collects every numeric scoring policy in one place. The
// defaults are heuristics rather than fitted values; tune with care and
// keep overrides in configuration.
type Params struct {
	HistoryDays      int
	RecentWindowDays int
	MinObservations  int
	MinRecentSamples int

	VsAverageWeight float64
	VsRecentWeight  float64
	DiscountWeight  float64
	AnomalyWeight   float64
	AnomalyMinZ     float64

	ColdStartPenalty float64

	DealThreshold      float64
	HotDealThreshold   float64
	SuperDealThreshold float64

	// CategoryDealThresholds moves the none/deal boundary for specific
	// category slugs. The hotDeal and superDeal boundaries are global.
	CategoryDealThresholds map[string]float64
}

// DefaultParams returns the stock scoring policy.
func DefaultParams() Params {
	return Params{
		HistoryDays:      90,
		RecentWindowDays: 7,
		MinObservations:  3,
		MinRecentSamples: 2,

		VsAverageWeight: 1.5,
		VsRecentWeight:  2.0,
		DiscountWeight:  0.3,
		AnomalyWeight:   5.0,
		AnomalyMinZ:     1.0,

		ColdStartPenalty: 5.0,

		DealThreshold:      35,
		HotDealThreshold:   70,
		SuperDealThreshold: 85,
	}
}

func (p Params) normalized() Params {
	def := DefaultParams()
	if p.HistoryDays <= 0 {
		p.HistoryDays = def.HistoryDays
	}
	if p.RecentWindowDays <= 0 {
		p.RecentWindowDays = def.RecentWindowDays
	}
	if p.MinObservations <= 0 {
		p.MinObservations = def.MinObservations
	}
	if p.MinRecentSamples <= 0 {
		p.MinRecentSamples = def.MinRecentSamples
	}
	if p.VsAverageWeight <= 0 {
		p.VsAverageWeight = def.VsAverageWeight
	}
	if p.VsRecentWeight <= 0 {
		p.VsRecentWeight = def.VsRecentWeight
	}
	if p.DiscountWeight <= 0 {
		p.DiscountWeight = def.DiscountWeight
	}
	if p.AnomalyWeight <= 0 {
		p.AnomalyWeight = def.AnomalyWeight
	}
	if p.AnomalyMinZ <= 0 {
		p.AnomalyMinZ = def.AnomalyMinZ
	}
	if p.ColdStartPenalty < 0 {
		p.ColdStartPenalty = def.ColdStartPenalty
	}
	if p.DealThreshold <= 0 {
		p.DealThreshold = def.DealThreshold
	}
	if p.HotDealThreshold <= 0 {
		p.HotDealThreshold = def.HotDealThreshold
	}
	if p.SuperDealThreshold <= 0 {
		p.SuperDealThreshold = def.SuperDealThreshold
	}
	return p
}

// TierFor maps a score to its tier. A category override raises or
// lowers only the none/deal boundary.
func (p Params) TierFor(score float64, categorySlug string) models.Tier {
	dealMin := p.DealThreshold
	if override, ok := p.CategoryDealThresholds[categorySlug]; ok && override > 0 {
		dealMin = override
	}
	switch {
	case score >= p.SuperDealThreshold:
		return models.TierSuperDeal
	case score >= p.HotDealThreshold:
		return models.TierHotDeal
	case score >= dealMin:
		return models.TierDeal
	default:
		return models.TierNone
	}
}
