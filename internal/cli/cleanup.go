package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"glucose-alerts/internal/app"
)

var (
	cleanupKeepDays int
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stored history older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupKeepDays <= 0 {
			return fmt.Errorf("--keep-days must be greater than zero")
		}

		opts := app.CleanupOptions{
			KeepDays: cleanupKeepDays,
			DryRun:   cleanupDryRun,
		}

		return getApp().Cleanup(cmd.Context(), opts)
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupKeepDays, "keep-days", 90, "Days of history to keep")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Run without deleting anything")
}
