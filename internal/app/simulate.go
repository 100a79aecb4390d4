package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deal-scout/internal/alerting"
	"deal-scout/internal/models"
)

// SimulateAlert pushes a synthetic scored deal through the configured
// alert channel to verify credentials and routing end to end.
func (a *App) SimulateAlert(ctx context.Context, price, originalPrice decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	discount := decimal.Zero
	if originalPrice.IsPositive() && originalPrice.GreaterThan(price) {
		discount = originalPrice.Sub(price).Div(originalPrice).Mul(decimal.NewFromInt(100))
	}

	deal := models.CanonicalDeal{
		Listing: models.CanonicalListing{
			SourceID:      "simulated",
			ExternalID:    "simulated-" + time.Now().UTC().Format("20060102T150405"),
			Title:         "Simulated deal alert",
			CurrentPrice:  price,
			OriginalPrice: &originalPrice,
			Currency:      "EUR",
			URL:           "https://example.com/simulated",
		},
		DealPrice:       price,
		DealURL:         "https://example.com/simulated",
		DiscountPercent: &discount,
		Kind:            models.DealPriceDrop,
	}
	score := models.DealScore{
		Score:     90,
		Tier:      models.TierSuperDeal,
		Reasoning: "simulated alert to verify channel wiring",
	}

	if err := notifier.Notify(ctx, alerting.DealNotification(deal, score)); err != nil {
		return err
	}

	a.Logger.Info().Msg("simulated alert delivered")
	return nil
}
