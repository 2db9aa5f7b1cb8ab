package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

// Thresholds is the alert configuration in force for one evaluation. The
// caller resolves any schedule overrides before handing it in.
type Thresholds struct {
	Low         decimal.Decimal
	High        decimal.Decimal
	UrgentLow   decimal.Decimal
	LowPersist  time.Duration
	HighPersist time.Duration
	RepeatEvery time.Duration
}

// Classify maps a glucose value onto an alert condition. Both boundaries are
// inclusive: a value equal to Low is already low, equal to High already high.
func (t Thresholds) Classify(value decimal.Decimal) model.Condition {
	switch {
	case value.LessThanOrEqual(t.Low):
		return model.ConditionLow
	case value.GreaterThanOrEqual(t.High):
		return model.ConditionHigh
	default:
		return model.ConditionNormal
	}
}

// Urgent reports whether the value sits at or below the urgent-low floor.
// Urgent lows skip persistence gating entirely.
func (t Thresholds) Urgent(value decimal.Decimal) bool {
	return !t.UrgentLow.IsZero() && value.LessThanOrEqual(t.UrgentLow)
}

// PersistFor returns how long the condition must hold before it is announced.
func (t Thresholds) PersistFor(c model.Condition) time.Duration {
	switch c {
	case model.ConditionLow:
		return t.LowPersist
	case model.ConditionHigh:
		return t.HighPersist
	default:
		return 0
	}
}
