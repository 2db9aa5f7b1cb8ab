package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"glucose-alerts/internal/app"
)

var statsHours int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise glucose statistics for a recent window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsHours <= 0 {
			return fmt.Errorf("--hours must be greater than zero")
		}

		return getApp().Stats(cmd.Context(), app.StatsOptions{Hours: statsHours})
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsHours, "hours", 24, "Window size in hours")
}
