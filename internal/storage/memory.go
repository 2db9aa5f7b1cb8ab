package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"glucose-alerts/internal/model"
)

// MemoryStore keeps readings, snoozes, and alert events in process memory.
// It backs deployments that run without PostgreSQL; history is lost on
// restart. One writer appends while HTTP and CLI readers query concurrently,
// so every query hands out a copied snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []model.Reading
	seen     map[int64]struct{}
	snoozes  []model.SnoozeEvent
	alerts   []model.AlertEvent
	snoozeID int64
	alertID  int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[int64]struct{})}
}

// EnsureSchema is a no-op for the in-memory backend.
func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() {}

// AppendReading stores a reading in timestamp order, reporting false on a
// duplicate timestamp.
func (s *MemoryStore) AppendReading(_ context.Context, r model.Reading) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.Timestamp.UnixNano()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}

	idx := sort.Search(len(s.readings), func(i int) bool {
		return s.readings[i].Timestamp.After(r.Timestamp)
	})
	s.readings = append(s.readings, model.Reading{})
	copy(s.readings[idx+1:], s.readings[idx:])
	s.readings[idx] = r
	return true, nil
}

// ListReadingsSince lists readings at or after the given instant, ascending.
func (s *MemoryStore) ListReadingsSince(_ context.Context, since time.Time) ([]model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.readings), func(i int) bool {
		return !s.readings[i].Timestamp.Before(since)
	})
	out := make([]model.Reading, len(s.readings)-idx)
	copy(out, s.readings[idx:])
	return out, nil
}

// ListRecentReadings lists the newest readings, descending.
func (s *MemoryStore) ListRecentReadings(_ context.Context, limit int) ([]model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.readings) {
		limit = len(s.readings)
	}
	out := make([]model.Reading, 0, limit)
	for i := len(s.readings) - 1; i >= len(s.readings)-limit; i-- {
		out = append(out, s.readings[i])
	}
	return out, nil
}

// LatestReading returns the newest stored reading, if any.
func (s *MemoryStore) LatestReading(context.Context) (model.Reading, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.readings) == 0 {
		return model.Reading{}, false, nil
	}
	return s.readings[len(s.readings)-1], true, nil
}

// CountReadings counts stored readings.
func (s *MemoryStore) CountReadings(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.readings)), nil
}

// DeleteReadingsBefore removes readings older than the cutoff.
func (s *MemoryStore) DeleteReadingsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.readings), func(i int) bool {
		return !s.readings[i].Timestamp.Before(olderThan)
	})
	for _, r := range s.readings[:idx] {
		delete(s.seen, r.Timestamp.UnixNano())
	}
	s.readings = append([]model.Reading(nil), s.readings[idx:]...)
	return int64(idx), nil
}

// InsertSnooze records the start of a snooze.
func (s *MemoryStore) InsertSnooze(_ context.Context, e model.SnoozeEvent) (model.SnoozeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snoozeID++
	e.ID = s.snoozeID
	s.snoozes = append(s.snoozes, e)
	return e, nil
}

// ActiveSnooze returns the snooze covering the given instant, if any.
func (s *MemoryStore) ActiveSnooze(_ context.Context, now time.Time) (model.SnoozeEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.snoozes) - 1; i >= 0; i-- {
		if s.snoozes[i].ActiveAt(now) {
			return s.snoozes[i], true, nil
		}
	}
	return model.SnoozeEvent{}, false, nil
}

// CancelSnooze trims any active snooze's duration to the elapsed time.
func (s *MemoryStore) CancelSnooze(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snoozes {
		if s.snoozes[i].ActiveAt(now) {
			elapsed := now.Sub(s.snoozes[i].StartedAt)
			if elapsed < 0 {
				elapsed = 0
			}
			s.snoozes[i].Duration = elapsed
		}
	}
	return nil
}

// ListRecentSnoozes lists the newest snooze events, descending.
func (s *MemoryStore) ListRecentSnoozes(_ context.Context, limit int) ([]model.SnoozeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.snoozes) {
		limit = len(s.snoozes)
	}
	out := make([]model.SnoozeEvent, 0, limit)
	for i := len(s.snoozes) - 1; i >= len(s.snoozes)-limit; i-- {
		out = append(out, s.snoozes[i])
	}
	return out, nil
}

// InsertAlertEvent persists one alert emission for auditing.
func (s *MemoryStore) InsertAlertEvent(_ context.Context, e model.AlertEvent) (model.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertID++
	e.ID = s.alertID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.alerts = append(s.alerts, e)
	return e, nil
}

// ListRecentAlertEvents lists the newest alert events, descending.
func (s *MemoryStore) ListRecentAlertEvents(_ context.Context, limit int) ([]model.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]model.AlertEvent, 0, limit)
	for i := len(s.alerts) - 1; i >= len(s.alerts)-limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

// DeleteAlertEventsBefore removes alert events older than the cutoff.
func (s *MemoryStore) DeleteAlertEventsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]model.AlertEvent, 0, len(s.alerts))
	var removed int64
	for _, e := range s.alerts {
		if e.At.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.alerts = kept
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
