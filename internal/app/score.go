package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"deal-scout/internal/scoring"
	"deal-scout/internal/storage"
)

// Score rates one catalogued product from its stored price history,
// taking the latest observation as the current price. Useful for
// inspecting why a deal landed in a given tier.
func (a *App) Score(ctx context.Context, opts ScoreOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot score")
	}
	if closeStore != nil {
		defer closeStore()
	}

	product, err := resolveProduct(ctx, store, opts.ProductID, opts.SourceID, opts.ExternalID)
	if err != nil {
		return err
	}

	last, err := store.LastObservation(ctx, product.ID)
	if err != nil {
		return err
	}
	if last == nil {
		return fmt.Errorf("product %d has no recorded price history", product.ID)
	}

	engine := scoring.NewEngine(store, a.scoringParams(), a.Logger)
	score, err := engine.Score(ctx, scoring.Input{
		ProductID:    product.ID,
		CurrentPrice: last.Price,
		CategorySlug: product.CategorySlug,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "product:  %s (%s/%s)\n", product.Title, product.SourceID, product.ExternalID)
	fmt.Fprintf(os.Stdout, "category: %s\n", product.CategorySlug)
	fmt.Fprintf(os.Stdout, "price:    %s %s (observed %s)\n", last.Price.StringFixed(2), product.Currency, last.RecordedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(os.Stdout, "score:    %.1f/100 (%s)\n", score.Score, score.Tier)

	keys := make([]string, 0, len(score.Components))
	for key := range score.Components {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(os.Stdout, "  %-18s %+.1f\n", key, score.Components[key])
	}

	fmt.Fprintf(os.Stdout, "reasoning: %s\n", score.Reasoning)
	return nil
}

func resolveProduct(ctx context.Context, store *storage.Store, productID int64, sourceID, externalID string) (*storage.ProductRecord, error) {
	if productID > 0 {
		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, fmt.Errorf("product %d not found", productID)
		}
		return product, nil
	}

	if sourceID == "" || externalID == "" {
		return nil, errors.New("either --product-id or both --source and --external-id are required")
	}
	product, err := store.FindProduct(ctx, sourceID, externalID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %s/%s not found", sourceID, externalID)
	}
	return product, nil
}
