package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"deal-scout/internal/app"
)

var (
	scoreProductID  int64
	scoreSource     string
	scoreExternalID string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one catalogued product from its stored history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scoreProductID <= 0 && (scoreSource == "" || scoreExternalID == "") {
			return fmt.Errorf("either --product-id or both --source and --external-id must be provided")
		}

		opts := app.ScoreOptions{
			ProductID:  scoreProductID,
			SourceID:   scoreSource,
			ExternalID: scoreExternalID,
		}

		return getApp().Score(cmd.Context(), opts)
	},
}

func init() {
	scoreCmd.Flags().Int64Var(&scoreProductID, "product-id", 0, "Catalog product id")
	scoreCmd.Flags().StringVar(&scoreSource, "source", "", "Source id of the product")
	scoreCmd.Flags().StringVar(&scoreExternalID, "external-id", "", "Source-scoped listing id")
}
