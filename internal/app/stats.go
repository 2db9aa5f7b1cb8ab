package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

// Stats prints aggregate glucose statistics over the window.
func (a *App) Stats(ctx context.Context, opts StatsOptions) error {
	if opts.Hours <= 0 {
		return errors.New("--hours must be greater than zero")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	since := time.Now().UTC().Add(-time.Duration(opts.Hours) * time.Hour)
	readings, err := store.ListReadingsSince(ctx, since)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	low := decimal.NewFromFloat(a.Config.Alerts.LowThreshold)
	high := decimal.NewFromFloat(a.Config.Alerts.HighThreshold)
	stats := model.ComputeStats(readings, low, high)
	unit := a.Config.Monitor.GlucoseUnit()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Window\tlast %dh (since %s)\n", opts.Hours, since.Format(time.RFC3339))
	fmt.Fprintf(writer, "Readings\t%d\n", stats.Count)
	fmt.Fprintf(writer, "Min\t%s %s\n", formatDecimal(stats.Min, 1), unit.Label())
	fmt.Fprintf(writer, "Max\t%s %s\n", formatDecimal(stats.Max, 1), unit.Label())
	fmt.Fprintf(writer, "Average\t%s %s\n", formatDecimal(stats.Avg, 1), unit.Label())
	fmt.Fprintf(writer, "Time in range\t%s%%\n", formatDecimal(stats.TimeInRange, 1))
	writer.Flush()
	return nil
}
