package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

const (
	createReadingsTableSQL = `CREATE TABLE IF NOT EXISTS glucose_readings (
        reading_ts  TIMESTAMPTZ PRIMARY KEY,
        value       NUMERIC(6,2) NOT NULL,
        trend       TEXT NOT NULL DEFAULT 'unknown',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createSnoozeTableSQL = `CREATE TABLE IF NOT EXISTS snooze_events (
        id               BIGSERIAL PRIMARY KEY,
        started_at       TIMESTAMPTZ NOT NULL,
        duration_seconds BIGINT NOT NULL,
        reason           TEXT NOT NULL DEFAULT '',
        created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createAlertEventsTableSQL = `CREATE TABLE IF NOT EXISTS alert_events (
        id          BIGSERIAL PRIMARY KEY,
        fired_at    TIMESTAMPTZ NOT NULL,
        condition   TEXT NOT NULL,
        kind        TEXT NOT NULL,
        value       NUMERIC(6,2) NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createAlertEventsIndexSQL = `CREATE INDEX IF NOT EXISTS idx_alert_events_fired_at
        ON alert_events (fired_at);`

	insertReadingSQL = `INSERT INTO glucose_readings (reading_ts, value, trend)
    VALUES ($1,$2,$3)
    ON CONFLICT (reading_ts) DO NOTHING;`

	listReadingsSinceSQL = `SELECT reading_ts, value, trend
    FROM glucose_readings
    WHERE reading_ts >= $1
    ORDER BY reading_ts;`

	listRecentReadingsSQL = `SELECT reading_ts, value, trend
    FROM glucose_readings
    ORDER BY reading_ts DESC
    LIMIT $1;`

	latestReadingSQL = `SELECT reading_ts, value, trend
    FROM glucose_readings
    ORDER BY reading_ts DESC
    LIMIT 1;`

	countReadingsSQL = `SELECT COUNT(*) FROM glucose_readings;`

	deleteReadingsBeforeSQL = `DELETE FROM glucose_readings WHERE reading_ts < $1;`

	insertSnoozeSQL = `INSERT INTO snooze_events (started_at, duration_seconds, reason)
    VALUES ($1,$2,$3)
    RETURNING id, started_at, duration_seconds, reason;`

	activeSnoozeSQL = `SELECT id, started_at, duration_seconds, reason
    FROM snooze_events
    WHERE started_at <= $1
      AND started_at + make_interval(secs => duration_seconds) > $1
    ORDER BY started_at DESC
    LIMIT 1;`

	cancelSnoozeSQL = `UPDATE snooze_events
    SET duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($1 - started_at))::BIGINT)
    WHERE started_at <= $1
      AND started_at + make_interval(secs => duration_seconds) > $1;`

	listRecentSnoozesSQL = `SELECT id, started_at, duration_seconds, reason
    FROM snooze_events
    ORDER BY started_at DESC
    LIMIT $1;`

	insertAlertEventSQL = `INSERT INTO alert_events (fired_at, condition, kind, value)
    VALUES ($1,$2,$3,$4)
    RETURNING id, fired_at, condition, kind, value, created_at;`

	listRecentAlertEventsSQL = `SELECT id, fired_at, condition, kind, value, created_at
    FROM alert_events
    ORDER BY fired_at DESC
    LIMIT $1;`

	deleteAlertEventsBeforeSQL = `DELETE FROM alert_events WHERE fired_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var schemaStatements = []string{
	createReadingsTableSQL,
	createSnoozeTableSQL,
	createAlertEventsTableSQL,
	createAlertEventsIndexSQL,
}

// PostgresStore persists readings, snoozes, and alert events in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables the monitor writes to. Statements are
// idempotent, so it is safe to run on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used to keep two monitors from alerting against one database.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendReading stores a reading, reporting false on a duplicate timestamp.
func (s *PostgresStore) AppendReading(ctx context.Context, r model.Reading) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, insertReadingSQL,
		r.Timestamp,
		r.Value.String(),
		string(r.Trend),
	)
	if execErr != nil {
		return false, fmt.Errorf("append reading: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListReadingsSince lists readings at or after the given instant, ascending.
func (s *PostgresStore) ListReadingsSince(ctx context.Context, since time.Time) ([]model.Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings since: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]model.Reading, 0)
	for rows.Next() {
		reading, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

// ListRecentReadings lists the newest readings, descending.
func (s *PostgresStore) ListRecentReadings(ctx context.Context, limit int) ([]model.Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]model.Reading, 0, limit)
	for rows.Next() {
		reading, scanErr := scanReading(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

// LatestReading returns the newest stored reading, if any.
func (s *PostgresStore) LatestReading(ctx context.Context) (model.Reading, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.Reading{}, false, err
	}

	var (
		ts       time.Time
		valueStr string
		trend    string
	)
	scanErr := pool.QueryRow(ctx, latestReadingSQL).Scan(&ts, &valueStr, &trend)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return model.Reading{}, false, nil
	}
	if scanErr != nil {
		return model.Reading{}, false, fmt.Errorf("latest reading: %w", scanErr)
	}

	value, convErr := decimal.NewFromString(valueStr)
	if convErr != nil {
		return model.Reading{}, false, fmt.Errorf("parse reading value: %w", convErr)
	}
	return model.Reading{Value: value, Timestamp: ts, Trend: model.Trend(trend)}, true, nil
}

// CountReadings counts stored readings.
func (s *PostgresStore) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReadingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count readings: %w", scanErr)
	}
	return count, nil
}

// DeleteReadingsBefore removes readings older than the cutoff and reports
// how many were dropped.
func (s *PostgresStore) DeleteReadingsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteReadingsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete readings before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertSnooze records the start of a snooze.
func (s *PostgresStore) InsertSnooze(ctx context.Context, e model.SnoozeEvent) (model.SnoozeEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.SnoozeEvent{}, err
	}

	row := pool.QueryRow(ctx, insertSnoozeSQL,
		e.StartedAt,
		int64(e.Duration/time.Second),
		e.Reason,
	)

	rec, scanErr := scanSnoozeRow(row)
	if scanErr != nil {
		return model.SnoozeEvent{}, fmt.Errorf("insert snooze: %w", scanErr)
	}
	return rec, nil
}

// ActiveSnooze returns the snooze covering the given instant, if any.
func (s *PostgresStore) ActiveSnooze(ctx context.Context, now time.Time) (model.SnoozeEvent, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.SnoozeEvent{}, false, err
	}

	rec, scanErr := scanSnoozeRow(pool.QueryRow(ctx, activeSnoozeSQL, now))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return model.SnoozeEvent{}, false, nil
	}
	if scanErr != nil {
		return model.SnoozeEvent{}, false, fmt.Errorf("active snooze: %w", scanErr)
	}
	return rec, true, nil
}

// CancelSnooze trims any active snooze's duration to the elapsed time.
func (s *PostgresStore) CancelSnooze(ctx context.Context, now time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, cancelSnoozeSQL, now); execErr != nil {
		return fmt.Errorf("cancel snooze: %w", execErr)
	}
	return nil
}

// ListRecentSnoozes lists the newest snooze events, descending.
func (s *PostgresStore) ListRecentSnoozes(ctx context.Context, limit int) ([]model.SnoozeEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnoozesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snoozes: %w", queryErr)
	}
	defer rows.Close()

	events := make([]model.SnoozeEvent, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSnoozeRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertAlertEvent persists one alert emission for auditing.
func (s *PostgresStore) InsertAlertEvent(ctx context.Context, e model.AlertEvent) (model.AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.AlertEvent{}, err
	}

	row := pool.QueryRow(ctx, insertAlertEventSQL,
		e.At,
		string(e.Condition),
		string(e.Kind),
		e.Value.String(),
	)

	rec, scanErr := scanAlertEvent(row)
	if scanErr != nil {
		return model.AlertEvent{}, fmt.Errorf("insert alert event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlertEvents lists the newest alert events, descending.
func (s *PostgresStore) ListRecentAlertEvents(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alert events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]model.AlertEvent, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteAlertEventsBefore removes alert events older than the cutoff.
func (s *PostgresStore) DeleteAlertEventsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteAlertEventsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alert events before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(rows pgx.Rows) (model.Reading, error) {
	var (
		ts       time.Time
		valueStr string
		trend    string
	)
	if err := rows.Scan(&ts, &valueStr, &trend); err != nil {
		return model.Reading{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return model.Reading{}, fmt.Errorf("parse reading value: %w", err)
	}
	return model.Reading{Value: value, Timestamp: ts, Trend: model.Trend(trend)}, nil
}

func scanSnoozeRow(row rowScanner) (model.SnoozeEvent, error) {
	var (
		rec     model.SnoozeEvent
		seconds int64
	)
	if err := row.Scan(&rec.ID, &rec.StartedAt, &seconds, &rec.Reason); err != nil {
		return model.SnoozeEvent{}, err
	}
	rec.Duration = time.Duration(seconds) * time.Second
	return rec, nil
}

func scanAlertEvent(row rowScanner) (model.AlertEvent, error) {
	var (
		rec       model.AlertEvent
		condition string
		kind      string
		valueStr  string
	)
	if err := row.Scan(&rec.ID, &rec.At, &condition, &kind, &valueStr, &rec.CreatedAt); err != nil {
		return model.AlertEvent{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return model.AlertEvent{}, fmt.Errorf("parse alert value: %w", err)
	}
	rec.Condition = model.Condition(condition)
	rec.Kind = model.AlertKind(kind)
	rec.Value = value
	return rec, nil
}

var _ Store = (*PostgresStore)(nil)
