package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

// HistoryReader supplies the price observations scoring runs against.
type HistoryReader interface {
	ObservationsSince(ctx context.Context, productID int64, since time.Time) ([]models.PriceObservation, error)
}

// Input identifies the deal being scored. DiscountPercent is the
// source's explicitly advertised cut; when absent the discount is
// derived from OriginalPrice.
type Input struct {
	ProductID       int64
	CurrentPrice    decimal.Decimal
	OriginalPrice   *decimal.Decimal
	DiscountPercent *decimal.Decimal
	CategorySlug    string
}

// Engine scores deals against up to Params.HistoryDays of history.
type Engine struct {
	history HistoryReader
	params  Params
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine constructs a scoring engine. Zero fields in params fall
// back to DefaultParams.
func NewEngine(history HistoryReader, params Params, logger zerolog.Logger) *Engine {
	return &Engine{
		history: history,
		params:  params.normalized(),
		logger:  logger.With().Str("component", "scoring").Logger(),
		now:     time.Now,
	}
}

// Score computes the five-component deal score. Components are clamped
// to their own sub-ranges, summed without further weighting, and the
// total clamped to [0, 100].
func (e *Engine) Score(ctx context.Context, in Input) (models.DealScore, error) {
	if !in.CurrentPrice.IsPositive() {
		return models.DealScore{}, fmt.Errorf("current price must be positive, got %s", in.CurrentPrice)
	}

	now := e.now()
	since := now.AddDate(0, 0, -e.params.HistoryDays)
	observations, err := e.history.ObservationsSince(ctx, in.ProductID, since)
	if err != nil {
		return models.DealScore{}, fmt.Errorf("load price history for product %d: %w", in.ProductID, err)
	}

	current := in.CurrentPrice.InexactFloat64()
	discount := e.discountComponent(in)

	if len(observations) < e.params.MinObservations {
		return e.coldStart(in, discount, len(observations)), nil
	}

	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.Price.InexactFloat64()
	}

	components := map[string]float64{
		ComponentVsAverage: e.vsAverage(current, prices),
		ComponentVsRecent:  e.vsRecent(current, observations, now),
		ComponentNearLow:   nearLow(current, prices),
		ComponentDiscount:  discount,
		ComponentAnomaly:   e.anomaly(current, prices),
	}

	// Summed in fixed order so boundary scores stay deterministic.
	total := components[ComponentVsAverage] +
		components[ComponentVsRecent] +
		components[ComponentNearLow] +
		components[ComponentDiscount] +
		components[ComponentAnomaly]
	score := clamp(total, 0, 100)

	return models.DealScore{
		Score:      score,
		Tier:       e.params.TierFor(score, in.CategorySlug),
		Components: components,
		Reasoning:  rationale(components),
	}, nil
}

// coldStart scores a product with too little history: only the
// advertised discount counts, minus a flat penalty, so a brand-new
// listing can never reach the top tiers.
func (e *Engine) coldStart(in Input, discount float64, seen int) models.DealScore {
	components := map[string]float64{
		ComponentDiscount:  discount,
		ComponentColdStart: -e.params.ColdStartPenalty,
	}
	score := clamp(discount-e.params.ColdStartPenalty, 0, 100)
	e.logger.Debug().
		Int64("product_id", in.ProductID).
		Int("observations", seen).
		Float64("score", score).
		Msg("thin history, cold-start scoring")
	return models.DealScore{
		Score:      score,
		Tier:       e.params.TierFor(score, in.CategorySlug),
		Components: components,
		Reasoning:  rationale(components),
	}
}

func (e *Engine) vsAverage(current float64, prices []float64) float64 {
	avg := mean(prices)
	if avg <= 0 {
		return 0
	}
	return clamp((avg-current)/avg*100*e.params.VsAverageWeight, 0, capVsAverage)
}

func (e *Engine) vsRecent(current float64, observations []models.PriceObservation, now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -e.params.RecentWindowDays)
	var recent []float64
	for _, obs := range observations {
		if obs.RecordedAt.After(cutoff) {
			recent = append(recent, obs.Price.InexactFloat64())
		}
	}
	if len(recent) < e.params.MinRecentSamples {
		return 0
	}
	avg := mean(recent)
	if avg <= 0 {
		return 0
	}
	return clamp((avg-current)/avg*100*e.params.VsRecentWeight, 0, capVsRecent)
}

// nearLow rewards proximity to the historical low. A flat history
// carries no positional signal.
func nearLow(current float64, prices []float64) float64 {
	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	if hi == lo {
		return 0
	}
	return clamp((hi-current)/(hi-lo)*capNearLow, 0, capNearLow)
}

// anomaly grants a bonus when the current price sits more than
// AnomalyMinZ standard deviations below the historical mean.
func (e *Engine) anomaly(current float64, prices []float64) float64 {
	m := mean(prices)
	if current >= m {
		return 0
	}
	sd := stddev(prices, m)
	if sd == 0 {
		return 0
	}
	z := math.Abs((current - m) / sd)
	return clamp((z-e.params.AnomalyMinZ)*e.params.AnomalyWeight, 0, capAnomaly)
}

func (e *Engine) discountComponent(in Input) float64 {
	var pct decimal.Decimal
	switch {
	case in.DiscountPercent != nil:
		pct = *in.DiscountPercent
	case in.OriginalPrice != nil && in.OriginalPrice.IsPositive():
		diff := in.OriginalPrice.Sub(in.CurrentPrice)
		if diff.IsNegative() {
			return 0
		}
		pct = diff.Div(*in.OriginalPrice).Mul(decimal.NewFromInt(100))
	default:
		return 0
	}
	return clamp(pct.InexactFloat64()*e.params.DiscountWeight, 0, capDiscount)
}

// rationalePriority fixes the order reasons appear in: proximity to
// the low reads strongest, then the recent drop, the long-run drop,
// the advertised discount, and finally the anomaly bonus.
var rationalePriority = []struct {
	key    string
	phrase string
}{
	{ComponentNearLow, "near its historical low"},
	{ComponentVsRecent, "well below the recent average"},
	{ComponentVsAverage, "below the long-term average"},
	{ComponentDiscount, "sizeable advertised discount"},
	{ComponentAnomaly, "statistically unusual price"},
}

func rationale(components map[string]float64) string {
	var phrases []string
	for _, rp := range rationalePriority {
		if components[rp.key] > 0 {
			phrases = append(phrases, rp.phrase)
		}
	}
	if len(phrases) == 0 {
		return "no notable price signals"
	}
	return strings.Join(phrases, ", ")
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
