package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/alerting"
	"glucose-alerts/internal/config"
	"glucose-alerts/internal/fetcher"
	"glucose-alerts/internal/metrics"
	"glucose-alerts/internal/model"
	"glucose-alerts/internal/scheduler"
	"glucose-alerts/internal/storage"
)

// After this many consecutive fetch failures the service starts escalating in
// the logs. Alerting itself keeps waiting for data; there is nothing useful to
// sound a siren about without a reading.
const maxConsecutiveFailures = 5

// Service orchestrates fetching, evaluation, persistence, and alert dispatch.
type Service struct {
	scheduler *scheduler.Scheduler
	source    fetcher.ReadingSource
	store     storage.Store
	sink      alerting.Sink
	messenger alerting.Messenger
	logger    zerolog.Logger

	alerts       config.AlertsConfig
	unit         model.Unit
	fetchTimeout time.Duration
	locker       storage.AdvisoryLocker
	lockKey      int64

	mu            sync.Mutex
	tracker       *alerting.Tracker
	lastReading   model.Reading
	haveReading   bool
	failures      int
	lastError     string
	lastPollAt    time.Time
	lastSuccessAt time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.ReadingSource, store storage.Store, sink alerting.Sink, messenger alerting.Messenger, logger zerolog.Logger) *Service {
	fetchTimeout := cfg.Monitor.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}

	if sink == nil {
		sink = alerting.NopSink{}
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		source:       source,
		store:        store,
		sink:         sink,
		messenger:    messenger,
		logger:       logger.With().Str("component", "service").Logger(),
		alerts:       cfg.Alerts,
		unit:         cfg.Monitor.GlucoseUnit(),
		fetchTimeout: fetchTimeout,
		locker:       locker,
		lockKey:      cfg.Database.AdvisoryLockKey,
		tracker:      alerting.NewTracker(),
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	s.hydrate(ctx)
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// hydrate restores cross-restart state: an active snooze keeps suppressing
// repeats, and the latest stored reading seeds the status endpoint. Alert
// activity itself is not restored; a still-abnormal value re-announces on the
// first poll.
func (s *Service) hydrate(ctx context.Context) {
	now := time.Now().UTC()

	if snooze, ok, err := s.store.ActiveSnooze(ctx, now); err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore snooze state")
	} else if ok {
		s.mu.Lock()
		until := s.tracker.Snooze(snooze.EndsAt().Sub(now), now)
		s.mu.Unlock()
		s.logger.Info().Time("until", until).Msg("restored active snooze")
	}

	if reading, ok, err := s.store.LatestReading(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to restore latest reading")
	} else if ok {
		s.mu.Lock()
		s.lastReading = reading
		s.haveReading = true
		s.mu.Unlock()
	}
}

// ProcessTick 执行单个轮询周期的监测逻辑。
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeTick(ctx, at)
}

func (s *Service) executeTick(ctx context.Context, at time.Time) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	reading, err := s.source.FetchLatest(fetchCtx)
	cancel()

	if err != nil {
		if errors.Is(err, fetcher.ErrNoReadings) {
			// A transmission gap, not a source failure. The failure counter
			// stays untouched and the alert machine waits for real data.
			metrics.PollsTotal.WithLabelValues("empty").Inc()
			s.recordEmpty(at)
			return nil
		}
		metrics.PollsTotal.WithLabelValues("error").Inc()
		s.recordFailure(at, err)
		return fmt.Errorf("fetch reading: %w", err)
	}

	metrics.PollsTotal.WithLabelValues("ok").Inc()
	s.recordSuccess(at, reading)

	stored, err := s.store.AppendReading(ctx, reading)
	if err != nil {
		metrics.StoreFailures.Inc()
		s.logger.Error().Err(err).Time("at", at).Msg("failed to persist reading")
	} else if stored {
		metrics.ReadingsStored.Inc()
	}

	th := s.alerts.EffectiveAt(at)
	condition := th.Classify(reading.Value)
	urgent := th.Urgent(reading.Value)

	s.mu.Lock()
	action := s.tracker.Apply(condition, urgent, th, at)
	snapshot := s.tracker.Snapshot()
	s.mu.Unlock()

	metrics.SetAlertActive(snapshot.Condition)

	event := s.logger.Info().
		Time("at", at).
		Str("value", reading.Value.String()).
		Str("unit", s.unit.Label()).
		Str("trend", string(reading.Trend)).
		Str("condition", string(condition))
	if action.Emit() {
		event = event.Str("alert", string(action.Kind))
	}
	event.Msg("reading processed")

	if action.Emit() {
		s.dispatch(ctx, at, action, reading)
	}

	return nil
}

// dispatch records the alert event and drives the sink and the messenger.
// Failures here are logged and counted, never returned: a broken speaker must
// not stop the monitoring loop.
func (s *Service) dispatch(ctx context.Context, at time.Time, action alerting.Action, reading model.Reading) {
	metrics.AlertsEmitted.WithLabelValues(string(action.Condition), string(action.Kind)).Inc()

	if _, err := s.store.InsertAlertEvent(ctx, model.AlertEvent{
		At:        at,
		Condition: action.Condition,
		Kind:      action.Kind,
		Value:     reading.Value,
	}); err != nil {
		metrics.StoreFailures.Inc()
		s.logger.Error().Err(err).Time("at", at).Msg("failed to persist alert event")
	}

	var sinkErr error
	if action.Kind == model.AlertResolve {
		sinkErr = s.sink.Stop(ctx)
	} else {
		sinkErr = s.sink.Play(ctx, action.Condition)
	}
	if sinkErr != nil {
		metrics.SinkFailures.Inc()
		s.logger.Error().Err(sinkErr).Str("kind", string(action.Kind)).Msg("failed to drive alert sink")
	}

	if s.messenger != nil && action.Kind != model.AlertResolve {
		if err := s.messenger.Send(ctx, alerting.Alert{
			At:        at,
			Kind:      action.Kind,
			Condition: action.Condition,
			Value:     reading.Value,
			Unit:      s.unit,
			Trend:     reading.Trend,
		}); err != nil {
			metrics.MessengerFailures.Inc()
			s.logger.Error().Err(err).Time("at", at).Msg("failed to dispatch alert message")
		}
	}
}

func (s *Service) recordSuccess(at time.Time, reading model.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = 0
	s.lastError = ""
	s.lastPollAt = at
	s.lastSuccessAt = at
	s.lastReading = reading
	s.haveReading = true

	metrics.ConsecutiveFailures.Set(0)
	metrics.CurrentGlucose.Set(reading.Value.InexactFloat64())
}

func (s *Service) recordEmpty(at time.Time) {
	s.mu.Lock()
	s.lastPollAt = at
	s.mu.Unlock()

	s.logger.Warn().Time("at", at).Msg("no glucose reading available")
}

func (s *Service) recordFailure(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	s.lastError = err.Error()
	s.lastPollAt = at

	metrics.ConsecutiveFailures.Set(float64(s.failures))

	if s.failures >= maxConsecutiveFailures {
		s.logger.Error().
			Int("consecutive_failures", s.failures).
			Msg("data source failing repeatedly; check connectivity and credentials")
	}
}

// Snooze suppresses repeat alerts for the given duration and records the
// request. The in-memory suppression takes effect even when persistence
// fails.
func (s *Service) Snooze(ctx context.Context, d time.Duration, reason string) (model.SnoozeEvent, error) {
	if d <= 0 {
		return model.SnoozeEvent{}, fmt.Errorf("snooze duration must be positive")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	until := s.tracker.Snooze(d, now)
	s.mu.Unlock()

	metrics.SnoozesTotal.Inc()
	s.logger.Info().Dur("duration", d).Time("until", until).Str("reason", reason).Msg("alerts snoozed")

	event := model.SnoozeEvent{StartedAt: now, Duration: d, Reason: reason}
	stored, err := s.store.InsertSnooze(ctx, event)
	if err != nil {
		metrics.StoreFailures.Inc()
		s.logger.Error().Err(err).Msg("failed to persist snooze")
		return event, nil
	}
	return stored, nil
}

// CancelSnooze lifts an active snooze immediately.
func (s *Service) CancelSnooze(ctx context.Context) error {
	now := time.Now().UTC()
	s.mu.Lock()
	s.tracker.CancelSnooze(now)
	s.mu.Unlock()

	if err := s.store.CancelSnooze(ctx, now); err != nil {
		metrics.StoreFailures.Inc()
		s.logger.Error().Err(err).Msg("failed to persist snooze cancellation")
	}

	s.logger.Info().Msg("snooze cancelled")
	return nil
}

// Status is a point-in-time view of the monitor for the HTTP API and CLI.
type Status struct {
	Now           time.Time         `json:"now"`
	Unit          model.Unit        `json:"unit"`
	Reading       *model.Reading    `json:"reading,omitempty"`
	Condition     model.Condition   `json:"condition"`
	Alert         alerting.Snapshot `json:"alert"`
	LowThreshold  decimal.Decimal   `json:"low_threshold"`
	HighThreshold decimal.Decimal   `json:"high_threshold"`
	Failures      int               `json:"consecutive_failures"`
	LastError     string            `json:"last_error,omitempty"`
	LastPollAt    *time.Time        `json:"last_poll_at,omitempty"`
	LastSuccessAt *time.Time        `json:"last_success_at,omitempty"`
}

// Status reports the current monitor state.
func (s *Service) Status() Status {
	now := time.Now().UTC()
	th := s.alerts.EffectiveAt(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Now:           now,
		Unit:          s.unit,
		Condition:     model.ConditionNormal,
		Alert:         s.tracker.Snapshot(),
		LowThreshold:  th.Low,
		HighThreshold: th.High,
		Failures:      s.failures,
		LastError:     s.lastError,
	}
	if s.haveReading {
		reading := s.lastReading
		st.Reading = &reading
		st.Condition = th.Classify(reading.Value)
	}
	if !s.lastPollAt.IsZero() {
		t := s.lastPollAt
		st.LastPollAt = &t
	}
	if !s.lastSuccessAt.IsZero() {
		t := s.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
