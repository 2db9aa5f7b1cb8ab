package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"glucose-alerts/internal/alerting"
	"glucose-alerts/internal/audio"
	"glucose-alerts/internal/config"
	"glucose-alerts/internal/fetcher"
	"glucose-alerts/internal/scheduler"
	"glucose-alerts/internal/server"
	"glucose-alerts/internal/service"
	"glucose-alerts/internal/storage"
	"glucose-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() (fetcher.ReadingSource, error) {
	if !a.Config.Dexcom.Configured() {
		return nil, errors.New("dexcom.username 与 dexcom.password 必须配置")
	}

	return fetcher.NewDexcom(fetcher.DexcomOptions{
		Username: a.Config.Dexcom.Username,
		Password: a.Config.Dexcom.Password,
		Region:   a.Config.Dexcom.Region,
		BaseURL:  a.Config.Dexcom.BaseURL,
		Unit:     a.Config.Monitor.GlucoseUnit(),
		Timeout:  a.Config.Monitor.FetchTimeout,
	}, a.Logger), nil
}

// newSink assembles the enabled audio outputs. An unloadable sound file is a
// configuration error and refuses to start; a silent glucose alarm is worse
// than no alarm.
func (a *App) newSink() (alerting.Sink, error) {
	var sinks []alerting.Sink
	if a.Config.Audio.Enabled {
		player, err := audio.NewPlayer(a.Config.Audio, a.Logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, player)
	}
	return alerting.NewCompositeSink(sinks...), nil
}

func (a *App) newMessenger() alerting.Messenger {
	if !a.Config.Messaging.Enabled {
		return nil
	}

	cfg := a.Config.Messaging
	contacts := make([]alerting.Contact, 0, len(cfg.Contacts))
	for _, c := range cfg.Contacts {
		contacts = append(contacts, alerting.Contact{
			Name:           c.Name,
			ChatID:         c.ChatID,
			OnLow:          c.OnLow,
			OnHigh:         c.OnHigh,
			ResendInterval: c.ResendInterval,
			LowText:        c.LowText,
			HighText:       c.HighText,
		})
	}
	return alerting.NewTelegramMessenger(cfg.BotToken, cfg.APIBase, contacts, 10*time.Second, a.Logger)
}

// openStore returns the configured PostgreSQL store, or the in-memory store
// when no DSN is set so the monitor still runs on a machine without a
// database.
func (a *App) openStore(ctx context.Context) (storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; history kept in memory only")
		return storage.NewMemoryStore(), func() {}, nil
	}
	return a.requireStore(ctx)
}

// requireStore opens PostgreSQL and fails when no DSN is configured. History
// commands use it; an empty in-memory store would silently show nothing.
func (a *App) requireStore(ctx context.Context) (storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	source, err := a.newSource()
	if err != nil {
		return err
	}

	sink, err := a.newSink()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Monitor.PollInterval,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, source, store, sink, a.newMessenger(), a.Logger)

	if a.Config.Server.Enabled {
		srv := server.New(a.Config.Server, a.Config.Alerts, svc, store, a.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server terminated")
			}
		}()
	}

	a.Logger.Info().Str("version", version.String()).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting glucose history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// StatsOptions configure the stats command.
type StatsOptions struct {
	Hours int
}

// CleanupOptions configure the retention job.
type CleanupOptions struct {
	KeepDays int
	DryRun   bool
}

// SnoozeOptions configure the snooze command.
type SnoozeOptions struct {
	Duration time.Duration
	Reason   string
	Cancel   bool
}
