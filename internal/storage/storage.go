package storage

import (
	"context"
	"errors"
	"time"

	"glucose-alerts/internal/model"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// ReadingStore persists glucose readings in chronological order. Appends
// come from a single writer (the monitor loop); queries may run concurrently
// from the HTTP API and CLI.
type ReadingStore interface {
	// AppendReading stores a reading. It reports false when a reading with
	// the same timestamp already exists; duplicates are suppressed, never
	// overwritten.
	AppendReading(ctx context.Context, r model.Reading) (bool, error)
	ListReadingsSince(ctx context.Context, since time.Time) ([]model.Reading, error)
	ListRecentReadings(ctx context.Context, limit int) ([]model.Reading, error)
	LatestReading(ctx context.Context) (model.Reading, bool, error)
	CountReadings(ctx context.Context) (int64, error)
	DeleteReadingsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// SnoozeStore records the snooze lifecycle. Cancelling trims the active
// snooze's duration to the time already elapsed, so history reflects how
// long alerts were actually silenced.
type SnoozeStore interface {
	InsertSnooze(ctx context.Context, e model.SnoozeEvent) (model.SnoozeEvent, error)
	ActiveSnooze(ctx context.Context, now time.Time) (model.SnoozeEvent, bool, error)
	CancelSnooze(ctx context.Context, now time.Time) error
	ListRecentSnoozes(ctx context.Context, limit int) ([]model.SnoozeEvent, error)
}

// AlertEventStore keeps an audit trail of emitted alerts.
type AlertEventStore interface {
	InsertAlertEvent(ctx context.Context, e model.AlertEvent) (model.AlertEvent, error)
	ListRecentAlertEvents(ctx context.Context, limit int) ([]model.AlertEvent, error)
	DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store aggregates all persistence concerns behind one backend.
type Store interface {
	ReadingStore
	SnoozeStore
	AlertEventStore

	EnsureSchema(ctx context.Context) error
	Close()
}

// AdvisoryLocker is implemented by backends that can guard a poll cycle
// against concurrent instances. Backends without cross-process locking
// simply do not implement it.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
