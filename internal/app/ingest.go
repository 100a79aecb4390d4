package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"deal-scout/internal/metrics"
	"deal-scout/internal/service"
)

// Ingest runs a single ingestion pass for one source and prints the
// outcome. Persistence, scoring and alerting follow the same
// configuration as the daemon.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; counting listings without persisting")
	}
	if closeStore != nil {
		defer closeStore()
	}

	m := metrics.New()
	registry, pool, closeSources, err := a.newSourceStack(m)
	if err != nil {
		return err
	}
	defer closeSources()

	dispatcher := a.newDispatcher()
	svc := service.New(a.Config, nil, registry, store, a.newScorer(store), dispatcher, pool, m, a.Logger)

	summary, err := svc.RunIngestion(ctx, opts.SourceID, opts.Category)
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "source:   %s\n", summary.SourceID)
	fmt.Fprintf(os.Stdout, "duration: %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "fetched:  %d\n", summary.Fetched)
	fmt.Fprintf(os.Stdout, "created:  %d\n", summary.Created)
	fmt.Fprintf(os.Stdout, "updated:  %d\n", summary.Updated)
	fmt.Fprintf(os.Stdout, "skipped:  %d\n", summary.Skipped)
	fmt.Fprintf(os.Stdout, "errors:   %d\n", summary.Errors)
	if len(summary.FailedCategories) > 0 {
		fmt.Fprintf(os.Stdout, "failed categories: %s\n", strings.Join(summary.FailedCategories, ", "))
	}
	if summary.Outage {
		fmt.Fprintln(os.Stdout, "source unreachable: every category failed")
	}
	return nil
}
