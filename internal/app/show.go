package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recently recorded deals, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show deals")
	}
	if closeStore != nil {
		defer closeStore()
	}

	deals, err := store.RecentDeals(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		fmt.Fprintln(os.Stdout, "no deals found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSource\tTier\tScore\tPrice\tWas\tDisc%\tTitle")

	for _, deal := range deals {
		original := "-"
		if deal.OriginalPrice != nil {
			original = formatDecimal(*deal.OriginalPrice, 2)
		}
		discount := "-"
		if deal.DiscountPct != nil {
			discount = formatDecimal(*deal.DiscountPct, 1)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.1f\t%s\t%s\t%s\t%s\n",
			deal.CreatedAt.UTC().Format(time.RFC3339),
			deal.SourceID,
			deal.Tier,
			deal.Score,
			formatDecimal(deal.Price, 2),
			original,
			discount,
			truncate(sanitizeInline(deal.Title), 48),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncate(v string, max int) string {
	runes := []rune(v)
	if len(runes) <= max {
		return v
	}
	return string(runes[:max-1]) + "…"
}
