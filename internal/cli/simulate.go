package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var simulateValue float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次血糖读数并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateValue <= 0 {
			return errors.New("--value 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateValue)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "模拟血糖值（使用配置的单位）")
}
