package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"glucose-alerts/internal/fetcher"
	"glucose-alerts/internal/model"
	"glucose-alerts/internal/service"
	"glucose-alerts/internal/storage"
)

// SimulateAlert 以给定血糖值执行一次完整的告警流程。
func (a *App) SimulateAlert(ctx context.Context, value float64) error {
	messenger := a.newMessenger()
	if !a.Config.Audio.Enabled && messenger == nil {
		return errors.New("未启用任何告警通道")
	}

	sink, err := a.newSink()
	if err != nil {
		return err
	}

	// The point of simulating is to see the channels fire; persistence gating
	// would just swallow the single test cycle.
	cfg := *a.Config
	cfg.Alerts.LowPersist = 0
	cfg.Alerts.HighPersist = 0

	now := time.Now().UTC()
	source := &staticReadingSource{reading: model.Reading{
		Value:     decimal.NewFromFloat(value),
		Timestamp: now,
		Trend:     model.TrendSteady,
	}}

	svc := service.New(&cfg, nil, source, storage.NewMemoryStore(), sink, messenger, a.Logger)
	if err := svc.ProcessTick(ctx, now); err != nil {
		return err
	}

	if a.Config.Audio.Enabled {
		// Playback is asynchronous; give the pattern time to finish before
		// the process exits.
		time.Sleep(6 * time.Second)
	}
	return nil
}

type staticReadingSource struct {
	reading model.Reading
}

func (s *staticReadingSource) FetchLatest(context.Context) (model.Reading, error) {
	return s.reading, nil
}

var _ fetcher.ReadingSource = (*staticReadingSource)(nil)
