package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Cleanup enforces the retention window on stored history。
func (a *App) Cleanup(ctx context.Context, opts CleanupOptions) error {
	if opts.KeepDays <= 0 {
		return errors.New("--keep-days 必须大于 0")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -opts.KeepDays)

	if opts.DryRun {
		a.Logger.Warn().Time("cutoff", cutoff).Msg("清理 dry-run：不会删除数据")
		return nil
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	removedReadings, err := store.DeleteReadingsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete readings: %w", err)
	}

	removedAlerts, err := store.DeleteAlertEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete alert events: %w", err)
	}

	a.Logger.Info().
		Time("cutoff", cutoff).
		Int64("readings_removed", removedReadings).
		Int64("alerts_removed", removedAlerts).
		Msg("清理完成")
	return nil
}
