package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"glucose-alerts/internal/app"
)

var (
	snoozeFor    string
	snoozeReason string
	snoozeCancel bool
)

var snoozeCmd = &cobra.Command{
	Use:   "snooze",
	Short: "暂停或恢复重复告警提醒",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SnoozeOptions{Reason: snoozeReason, Cancel: snoozeCancel}

		if !snoozeCancel {
			if snoozeFor == "" {
				return errors.New("需要 --for 时长, 或使用 --cancel 取消")
			}
			d, err := time.ParseDuration(snoozeFor)
			if err != nil {
				return errors.New("--for 时长格式不合法, 例如 45m 或 2h")
			}
			if d <= 0 {
				return errors.New("--for 时长必须大于 0")
			}
			opts.Duration = d
		}

		return getApp().Snooze(cmd.Context(), opts)
	},
}

func init() {
	snoozeCmd.Flags().StringVar(&snoozeFor, "for", "", "暂停时长 (Go duration, 例如 45m)")
	snoozeCmd.Flags().StringVar(&snoozeReason, "reason", "", "暂停原因 (记录到数据库)")
	snoozeCmd.Flags().BoolVar(&snoozeCancel, "cancel", false, "取消当前暂停")
}
