package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"deal-scout/internal/models"
)

type stubHistory struct {
	observations []models.PriceObservation
	err          error
	gotSince     time.Time
}

func (s *stubHistory) ObservationsSince(_ context.Context, _ int64, since time.Time) ([]models.PriceObservation, error) {
	s.gotSince = since
	return s.observations, s.err
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// dailyHistory builds one observation per day ending yesterday, oldest
// price first.
func dailyHistory(prices ...float64) []models.PriceObservation {
	observations := make([]models.PriceObservation, len(prices))
	for i, p := range prices {
		observations[i] = models.PriceObservation{
			ProductID:  1,
			Price:      decimal.NewFromFloat(p),
			RecordedAt: testNow.Add(-time.Duration(len(prices)-i) * 24 * time.Hour),
		}
	}
	return observations
}

func newTestEngine(history HistoryReader, params Params) *Engine {
	e := NewEngine(history, params, zerolog.Nop())
	e.now = func() time.Time { return testNow }
	return e
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 0.05
}

func TestScoreWorkedExample(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(100, 100, 100, 100, 90, 90, 80)}
	engine := newTestEngine(stub, Params{})

	score, err := engine.Score(context.Background(), Input{
		ProductID:    1,
		CurrentPrice: decimal.NewFromInt(80),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// avg 660/7 = 94.29 -> (94.29-80)/94.29*100*1.5 = 22.73
	if got := score.Components[ComponentVsAverage]; !approx(got, 22.727) {
		t.Fatalf("vsAverage = %v, want ~22.727", got)
	}
	// min 80, max 100 -> (100-80)/(100-80)*25 = 25
	if got := score.Components[ComponentNearLow]; got != 25 {
		t.Fatalf("nearLow = %v, want 25", got)
	}
	// recent window holds [100,100,100,90,90,80], avg 91.67 -> hits the cap
	if got := score.Components[ComponentVsRecent]; got != capVsRecent {
		t.Fatalf("vsRecent = %v, want %v", got, capVsRecent)
	}
	// z = (80-94.29)/7.28 = -1.96 -> (1.96-1)*5 = 4.81
	if got := score.Components[ComponentAnomaly]; !approx(got, 4.806) {
		t.Fatalf("anomaly = %v, want ~4.806", got)
	}
	if got := score.Components[ComponentDiscount]; got != 0 {
		t.Fatalf("discount = %v, want 0", got)
	}

	if !approx(score.Score, 72.53) {
		t.Fatalf("score = %v, want ~72.53", score.Score)
	}
	if score.Tier != models.TierHotDeal {
		t.Fatalf("tier = %s, want %s", score.Tier, models.TierHotDeal)
	}

	lowIdx := strings.Index(score.Reasoning, "near its historical low")
	avgIdx := strings.Index(score.Reasoning, "below the long-term average")
	if lowIdx < 0 || avgIdx < 0 {
		t.Fatalf("rationale missing expected phrases: %q", score.Reasoning)
	}
	if lowIdx > avgIdx {
		t.Fatalf("historical-low reason must precede the average reason: %q", score.Reasoning)
	}
}

func TestScoreZeroHistory(t *testing.T) {
	engine := newTestEngine(&stubHistory{}, Params{})

	score, err := engine.Score(context.Background(), Input{
		ProductID:    1,
		CurrentPrice: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("score = %v, want 0", score.Score)
	}
	if score.Tier != models.TierNone {
		t.Fatalf("tier = %s, want %s", score.Tier, models.TierNone)
	}
	if got := score.Components[ComponentColdStart]; got != -5 {
		t.Fatalf("cold-start component = %v, want -5", got)
	}
}

func TestScoreColdStartNeverSuperDeal(t *testing.T) {
	// Two observations and a 99% advertised discount: the discount
	// component caps at 15, minus the penalty.
	stub := &stubHistory{observations: dailyHistory(1000, 1000)}
	engine := newTestEngine(stub, Params{})

	original := decimal.NewFromInt(1000)
	score, err := engine.Score(context.Background(), Input{
		ProductID:     1,
		CurrentPrice:  decimal.NewFromInt(10),
		OriginalPrice: &original,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Score != 10 {
		t.Fatalf("score = %v, want 10 (discount cap 15 minus penalty 5)", score.Score)
	}
	if score.Tier == models.TierSuperDeal {
		t.Fatal("cold-start products must never reach superDeal")
	}
	if _, ok := score.Components[ComponentNearLow]; ok {
		t.Fatal("history components must not fire during cold start")
	}
}

func TestScoreAllComponentsCapped(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 500)}
	engine := newTestEngine(stub, Params{})

	original := decimal.NewFromInt(1000)
	score, err := engine.Score(context.Background(), Input{
		ProductID:     1,
		CurrentPrice:  decimal.NewFromInt(1),
		OriginalPrice: &original,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	caps := map[string]float64{
		ComponentVsAverage: capVsAverage,
		ComponentVsRecent:  capVsRecent,
		ComponentNearLow:   capNearLow,
		ComponentDiscount:  capDiscount,
		ComponentAnomaly:   capAnomaly,
	}
	for key, want := range caps {
		if got := score.Components[key]; got != want {
			t.Fatalf("component %s = %v, want cap %v", key, got, want)
		}
	}
	if score.Score != 100 {
		t.Fatalf("score = %v, want 100", score.Score)
	}
	if score.Tier != models.TierSuperDeal {
		t.Fatalf("tier = %s, want %s", score.Tier, models.TierSuperDeal)
	}
}

func TestScorePriceAboveHistoryScoresZero(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(100, 100, 100, 100, 100)}
	engine := newTestEngine(stub, Params{})

	score, err := engine.Score(context.Background(), Input{
		ProductID:    1,
		CurrentPrice: decimal.NewFromInt(200),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score.Score != 0 {
		t.Fatalf("score = %v, want 0", score.Score)
	}
	for key, v := range score.Components {
		if v != 0 {
			t.Fatalf("component %s = %v, want 0", key, v)
		}
	}
	if score.Reasoning != "no notable price signals" {
		t.Fatalf("rationale = %q", score.Reasoning)
	}
}

func TestScoreRecentWindowNeedsTwoSamples(t *testing.T) {
	observations := []models.PriceObservation{
		{ProductID: 1, Price: decimal.NewFromInt(100), RecordedAt: testNow.AddDate(0, 0, -60)},
		{ProductID: 1, Price: decimal.NewFromInt(100), RecordedAt: testNow.AddDate(0, 0, -40)},
		{ProductID: 1, Price: decimal.NewFromInt(100), RecordedAt: testNow.AddDate(0, 0, -20)},
		{ProductID: 1, Price: decimal.NewFromInt(90), RecordedAt: testNow.AddDate(0, 0, -1)},
	}
	engine := newTestEngine(&stubHistory{observations: observations}, Params{})

	score, err := engine.Score(context.Background(), Input{
		ProductID:    1,
		CurrentPrice: decimal.NewFromInt(80),
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := score.Components[ComponentVsRecent]; got != 0 {
		t.Fatalf("vsRecent = %v, want 0 with a single recent sample", got)
	}
	if got := score.Components[ComponentVsAverage]; got <= 0 {
		t.Fatalf("vsAverage = %v, want > 0", got)
	}
}

func TestTierForCategoryOverride(t *testing.T) {
	p := DefaultParams()
	p.CategoryDealThresholds = map[string]float64{
		"thin-margins":    30,
		"steep-discounts": 40,
	}

	tests := []struct {
		score    float64
		category string
		want     models.Tier
	}{
		{32, "thin-margins", models.TierDeal},
		{32, "", models.TierNone},
		{37, "steep-discounts", models.TierNone},
		{41, "steep-discounts", models.TierDeal},
		{72, "thin-margins", models.TierHotDeal},
		{86, "steep-discounts", models.TierSuperDeal},
	}
	for _, tt := range tests {
		if got := p.TierFor(tt.score, tt.category); got != tt.want {
			t.Fatalf("TierFor(%v, %q) = %s, want %s", tt.score, tt.category, got, tt.want)
		}
	}
}

func TestScoreExplicitDiscountWinsOverDerived(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(100, 100, 100, 100)}
	engine := newTestEngine(stub, Params{})

	original := decimal.NewFromInt(100)
	explicit := decimal.NewFromInt(50)
	score, err := engine.Score(context.Background(), Input{
		ProductID:       1,
		CurrentPrice:    decimal.NewFromInt(90),
		OriginalPrice:   &original,
		DiscountPercent: &explicit,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// 50% * 0.3 = 15 (cap), not the derived 10% * 0.3 = 3.
	if got := score.Components[ComponentDiscount]; got != 15 {
		t.Fatalf("discount = %v, want 15", got)
	}
}

func TestScoreDerivedDiscount(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(100, 100, 100, 100)}
	engine := newTestEngine(stub, Params{})

	original := decimal.NewFromInt(100)
	score, err := engine.Score(context.Background(), Input{
		ProductID:     1,
		CurrentPrice:  decimal.NewFromInt(90),
		OriginalPrice: &original,
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got := score.Components[ComponentDiscount]; !approx(got, 3) {
		t.Fatalf("discount = %v, want 3", got)
	}
}

func TestScoreRequestsConfiguredHistoryWindow(t *testing.T) {
	stub := &stubHistory{observations: dailyHistory(100, 100, 100)}
	engine := newTestEngine(stub, Params{})

	if _, err := engine.Score(context.Background(), Input{ProductID: 1, CurrentPrice: decimal.NewFromInt(90)}); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if want := testNow.AddDate(0, 0, -90); !stub.gotSince.Equal(want) {
		t.Fatalf("since = %v, want %v", stub.gotSince, want)
	}
}

func TestScorePropagatesHistoryError(t *testing.T) {
	stub := &stubHistory{err: errors.New("connection refused")}
	engine := newTestEngine(stub, Params{})

	_, err := engine.Score(context.Background(), Input{ProductID: 1, CurrentPrice: decimal.NewFromInt(90)})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected history error surfaced, got %v", err)
	}
}

func TestScoreRejectsNonPositivePrice(t *testing.T) {
	engine := newTestEngine(&stubHistory{}, Params{})

	for _, price := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if _, err := engine.Score(context.Background(), Input{ProductID: 1, CurrentPrice: price}); err == nil {
			t.Fatalf("price %s should be rejected", price)
		}
	}
}
