package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePrice    float64
	simulateOriginal float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic deal alert to verify channel wiring",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 || simulateOriginal <= 0 {
			return errors.New("--price and --original must be greater than 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		original := decimal.NewFromFloat(simulateOriginal)
		return getApp().SimulateAlert(cmd.Context(), price, original)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Deal price for the synthetic alert")
	simulateCmd.Flags().Float64Var(&simulateOriginal, "original", 0, "Original price for the synthetic alert")
}
