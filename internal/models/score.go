package models

// Tier is the categorical quality label derived from a numeric score.
type Tier string

const (
	TierNone      Tier = "none"
	TierDeal      Tier = "deal"
	TierHotDeal   Tier = "hotDeal"
	TierSuperDeal Tier = "superDeal"
)

// Rank orders tiers for threshold comparisons; higher is better.
func (t Tier) Rank() int {
	switch t {
	case TierDeal:
		return 1
	case TierHotDeal:
		return 2
	case TierSuperDeal:
		return 3
	default:
		return 0
	}
}

// DealScore is the computed quality verdict for one deal. It is a transient
// value owned by the caller; the engine never persists it itself.
type DealScore struct {
	Score      float64
	Tier       Tier
	Components map[string]float64
	Reasoning  string
}
