package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"glucose-alerts/internal/model"
)

// Export renders glucose history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Monitor.PollInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	readings, err := store.ListReadingsSince(ctx, from)
	if err != nil {
		return err
	}
	readings = clipBefore(readings, to)
	if len(readings) == 0 {
		a.Logger.Info().Msg("no readings found for export window")
		return nil
	}

	downsampled := downsampleReadings(readings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(readings)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := a.writeReadingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeReadingsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// clipBefore drops readings at or after the exclusive end of the window.
// Readings arrive in ascending timestamp order.
func clipBefore(readings []model.Reading, to time.Time) []model.Reading {
	for i, reading := range readings {
		if !reading.Timestamp.Before(to) {
			return readings[:i]
		}
	}
	return readings
}

func downsampleReadings(readings []model.Reading, max int) []model.Reading {
	if max <= 0 || len(readings) <= max {
		return readings
	}

	result := make([]model.Reading, 0, max)
	step := float64(len(readings)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(readings) {
			idx = len(readings) - 1
		}
		result = append(result, readings[idx])
	}
	return result
}

func (a *App) writeReadingsCSV(path string, readings []model.Reading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	unit := a.Config.Monitor.GlucoseUnit()
	header := []string{"timestamp", "value", "unit", "trend"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, reading := range readings {
		record := []string{
			reading.Timestamp.Format(time.RFC3339),
			reading.Value.String(),
			string(unit),
			string(reading.Trend),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func (a *App) writeReadingsPNG(path string, readings []model.Reading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(readings))
	values := make([]float64, len(readings))
	for i, reading := range readings {
		x[i] = reading.Timestamp
		values[i] = reading.Value.InexactFloat64()
	}

	low := a.Config.Alerts.LowThreshold
	high := a.Config.Alerts.HighThreshold
	bounds := []time.Time{x[0], x[len(x)-1]}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Glucose (" + a.Config.Monitor.GlucoseUnit().Label() + ")",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Glucose",
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Low threshold",
				XValues: bounds,
				YValues: []float64{low, low},
				Style: chart.Style{
					StrokeColor:     chart.ColorRed,
					StrokeDashArray: []float64{5.0, 5.0},
				},
			},
			chart.TimeSeries{
				Name:    "High threshold",
				XValues: bounds,
				YValues: []float64{high, high},
				Style: chart.Style{
					StrokeColor:     chart.ColorOrange,
					StrokeDashArray: []float64{5.0, 5.0},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
