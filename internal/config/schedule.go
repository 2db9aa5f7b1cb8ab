package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"glucose-alerts/internal/alerting"
)

// ScheduleConfig is a recurring time-of-day window that overrides parts of
// the base alert configuration while it is active. Days are numbered
// 0=Monday .. 6=Sunday; an empty day list covers every day. Windows where
// end is not after start wrap past midnight and belong to the day they
// start on.
type ScheduleConfig struct {
	Name     string `mapstructure:"name"`
	Disabled bool   `mapstructure:"disabled"`
	Priority int    `mapstructure:"priority"`
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Days     []int  `mapstructure:"days"`

	LowThreshold  *float64       `mapstructure:"low_threshold"`
	HighThreshold *float64       `mapstructure:"high_threshold"`
	LowPersist    *time.Duration `mapstructure:"low_persist"`
	HighPersist   *time.Duration `mapstructure:"high_persist"`
	AlertInterval *time.Duration `mapstructure:"alert_interval"`
}

func (s ScheduleConfig) validate() error {
	start, err := parseClock(s.Start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(s.End)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if start == end {
		return fmt.Errorf("start and end must differ")
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("day %d out of range (0=Monday .. 6=Sunday)", d)
		}
	}
	if s.LowThreshold != nil && *s.LowThreshold <= 0 {
		return fmt.Errorf("low_threshold must be greater than zero")
	}
	if s.LowPersist != nil && *s.LowPersist < 0 {
		return fmt.Errorf("low_persist cannot be negative")
	}
	if s.HighPersist != nil && *s.HighPersist < 0 {
		return fmt.Errorf("high_persist cannot be negative")
	}
	if s.AlertInterval != nil && *s.AlertInterval <= 0 {
		return fmt.Errorf("alert_interval must be greater than zero")
	}
	return nil
}

// ActiveAt reports whether the window covers the given instant. Overnight
// windows that started the previous day still count.
func (s ScheduleConfig) ActiveAt(now time.Time) bool {
	if s.Disabled {
		return false
	}
	start, err := parseClock(s.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(s.End)
	if err != nil {
		return false
	}

	day := mondayIndexed(now.Weekday())
	minute := now.Hour()*60 + now.Minute()

	if start < end {
		return minute >= start && minute < end && s.onDay(day)
	}
	// Overnight window. Before midnight it belongs to today, after midnight
	// to the day it started.
	if minute >= start {
		return s.onDay(day)
	}
	if minute < end {
		return s.onDay((day + 6) % 7)
	}
	return false
}

func (s ScheduleConfig) onDay(day int) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		if d == day {
			return true
		}
	}
	return false
}

func (s ScheduleConfig) apply(th *alerting.Thresholds) {
	if s.LowThreshold != nil {
		th.Low = decimal.NewFromFloat(*s.LowThreshold)
	}
	if s.HighThreshold != nil {
		th.High = decimal.NewFromFloat(*s.HighThreshold)
	}
	if s.LowPersist != nil {
		th.LowPersist = *s.LowPersist
	}
	if s.HighPersist != nil {
		th.HighPersist = *s.HighPersist
	}
	if s.AlertInterval != nil {
		th.RepeatEvery = *s.AlertInterval
	}
}

// ActiveSchedule returns the highest-priority schedule covering now, or nil
// when only the base configuration applies. Ties go to the earlier entry.
func (a AlertsConfig) ActiveSchedule(now time.Time) *ScheduleConfig {
	var best *ScheduleConfig
	for i := range a.Schedules {
		s := &a.Schedules[i]
		if !s.ActiveAt(now) {
			continue
		}
		if best == nil || s.Priority > best.Priority {
			best = s
		}
	}
	return best
}

// EffectiveAt resolves the thresholds in force at the given instant.
func (a AlertsConfig) EffectiveAt(now time.Time) alerting.Thresholds {
	th := alerting.Thresholds{
		Low:         decimal.NewFromFloat(a.LowThreshold),
		High:        decimal.NewFromFloat(a.HighThreshold),
		UrgentLow:   decimal.NewFromFloat(a.UrgentLow),
		LowPersist:  a.LowPersist,
		HighPersist: a.HighPersist,
		RepeatEvery: a.AlertInterval,
	}
	if s := a.ActiveSchedule(now); s != nil {
		s.apply(&th)
	}
	return th
}

func (a AlertsConfig) validateSchedules() error {
	for i := range a.Schedules {
		s := a.Schedules[i]
		if err := s.validate(); err != nil {
			return fmt.Errorf("alerts.schedules[%d]: %w", i, err)
		}
		low, high := a.LowThreshold, a.HighThreshold
		if s.LowThreshold != nil {
			low = *s.LowThreshold
		}
		if s.HighThreshold != nil {
			high = *s.HighThreshold
		}
		if high <= low {
			return fmt.Errorf("alerts.schedules[%d]: effective high threshold %.1f must exceed low %.1f", i, high, low)
		}
	}
	return nil
}

// mondayIndexed converts Go's Sunday-based weekday to the 0=Monday scheme
// used in schedule day lists.
func mondayIndexed(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
