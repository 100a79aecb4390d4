package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"deal-scout/internal/app"
)

var (
	ingestSource   string
	ingestCategory string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass for a single source",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestSource == "" {
			return fmt.Errorf("--source must be provided")
		}

		opts := app.IngestOptions{
			SourceID: ingestSource,
			Category: ingestCategory,
		}

		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source id to ingest")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "Restrict the run to one category slug")
}
