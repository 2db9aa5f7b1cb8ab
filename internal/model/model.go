package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition classifies a reading against the configured thresholds.
type Condition string

const (
	ConditionNormal Condition = "normal"
	ConditionLow    Condition = "low"
	ConditionHigh   Condition = "high"
)

// Audible reports whether the condition drives the alert sink.
func (c Condition) Audible() bool {
	return c == ConditionLow || c == ConditionHigh
}

// AlertKind labels why the sink was invoked for auditing.
type AlertKind string

const (
	AlertOnset    AlertKind = "onset"
	AlertRepeat   AlertKind = "repeat"
	AlertPolarity AlertKind = "polarity"
	AlertResolve  AlertKind = "resolve"
)

// Unit is the glucose unit a deployment runs in.
type Unit string

const (
	UnitMMOL Unit = "mmol"
	UnitMGDL Unit = "mgdl"
)

// mg/dL to mmol/L factor matching what Dexcom receivers display.
var mmolPerMGDL = decimal.NewFromFloat(0.0555)

// FromMGDL converts a raw mg/dL value into the unit, rounding mmol/L to one
// decimal the way Dexcom displays it.
func (u Unit) FromMGDL(mgdl int64) decimal.Decimal {
	v := decimal.NewFromInt(mgdl)
	if u == UnitMMOL {
		return v.Mul(mmolPerMGDL).Round(1)
	}
	return v
}

// Label returns the display label for the unit.
func (u Unit) Label() string {
	if u == UnitMGDL {
		return "mg/dL"
	}
	return "mmol/L"
}

// Trend is the coarse direction of glucose movement.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendSteady  Trend = "steady"
	TrendUnknown Trend = "unknown"
)

// TrendFromDexcom maps a Dexcom Share trend string onto the coarse enum.
func TrendFromDexcom(s string) Trend {
	switch s {
	case "DoubleUp", "SingleUp", "FortyFiveUp":
		return TrendRising
	case "Flat":
		return TrendSteady
	case "FortyFiveDown", "SingleDown", "DoubleDown":
		return TrendFalling
	default:
		// None, NotComputable, RateOutOfRange and anything unexpected.
		return TrendUnknown
	}
}

// Arrow returns a display arrow for the trend.
func (t Trend) Arrow() string {
	switch t {
	case TrendRising:
		return "↑"
	case TrendFalling:
		return "↓"
	case TrendSteady:
		return "→"
	default:
		return "?"
	}
}

// Reading is a single glucose measurement. Immutable once created.
type Reading struct {
	Value     decimal.Decimal `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	Trend     Trend           `json:"trend"`
}

// SnoozeEvent records a request to suppress repeat alerts.
type SnoozeEvent struct {
	ID        int64         `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Reason    string        `json:"reason,omitempty"`
}

// EndsAt returns the instant the snooze expires.
func (e SnoozeEvent) EndsAt() time.Time {
	return e.StartedAt.Add(e.Duration)
}

// ActiveAt reports whether the snooze is still suppressing at the given time.
func (e SnoozeEvent) ActiveAt(now time.Time) bool {
	return now.Before(e.EndsAt())
}

// AlertEvent records one sink invocation for auditing.
type AlertEvent struct {
	ID        int64           `json:"id"`
	At        time.Time       `json:"at"`
	Condition Condition       `json:"condition"`
	Kind      AlertKind       `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// Stats summarises a window of readings.
type Stats struct {
	Count       int             `json:"count"`
	Min         decimal.Decimal `json:"min"`
	Max         decimal.Decimal `json:"max"`
	Avg         decimal.Decimal `json:"avg"`
	TimeInRange decimal.Decimal `json:"time_in_range_pct"`
}

// ComputeStats summarises readings against the [low, high] target range.
// A zero Count means the remaining fields are meaningless.
func ComputeStats(readings []Reading, low, high decimal.Decimal) Stats {
	if len(readings) == 0 {
		return Stats{}
	}

	min := readings[0].Value
	max := readings[0].Value
	sum := decimal.Zero
	inRange := 0

	for _, r := range readings {
		if r.Value.LessThan(min) {
			min = r.Value
		}
		if r.Value.GreaterThan(max) {
			max = r.Value
		}
		sum = sum.Add(r.Value)
		if r.Value.GreaterThanOrEqual(low) && r.Value.LessThanOrEqual(high) {
			inRange++
		}
	}

	count := decimal.NewFromInt(int64(len(readings)))
	return Stats{
		Count:       len(readings),
		Min:         min,
		Max:         max,
		Avg:         sum.Div(count).Round(2),
		TimeInRange: decimal.NewFromInt(int64(inRange)).Div(count).Mul(decimal.NewFromInt(100)).Round(1),
	}
}
