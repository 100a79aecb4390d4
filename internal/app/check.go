package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"deal-scout/internal/metrics"
	"deal-scout/internal/service"
)

// CheckSources probes every configured source, disabled ones included,
// and prints the outcome. Returns an error when any probe fails so the
// exit code reflects fleet health.
func (a *App) CheckSources(ctx context.Context) error {
	m := metrics.New()
	registry, pool, closeSources, err := a.newSourceStack(m)
	if err != nil {
		return err
	}
	defer closeSources()

	svc := service.New(a.Config, nil, registry, nil, nil, nil, pool, m, a.Logger)
	results := svc.CheckSources(ctx)

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Source\tKind\tStatus\tDetail")

	failed := 0
	for _, id := range ids {
		sc, _ := a.Config.Source(id)
		status, detail := "ok", ""
		if probeErr := results[id]; probeErr != nil {
			failed++
			status = "failed"
			detail = sanitizeInline(probeErr.Error())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", id, sc.Kind, status, detail)
	}
	writer.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed health checks", failed, len(ids))
	}
	return nil
}
