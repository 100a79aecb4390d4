package cli

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every configured source's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckSources(cmd.Context())
	},
}
