package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent readings, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	readings, err := store.ListRecentReadings(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	unit := a.Config.Monitor.GlucoseUnit()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tValue\tUnit\tTrend")
	for _, reading := range readings {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s %s\n",
			reading.Timestamp.UTC().Format(time.RFC3339),
			reading.Value.StringFixed(1),
			unit.Label(),
			reading.Trend.Arrow(),
			reading.Trend,
		)
	}
	writer.Flush()

	if !opts.Alerts {
		return nil
	}

	events, err := store.ListRecentAlertEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout)
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no alert events found")
		return nil
	}

	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tCondition\tKind\tValue")
	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			event.At.UTC().Format(time.RFC3339),
			event.Condition,
			event.Kind,
			event.Value.StringFixed(1),
		)
	}
	writer.Flush()
	return nil
}
