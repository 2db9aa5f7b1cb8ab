package alerting

import (
	"time"

	"glucose-alerts/internal/model"
)

// Action is what one transition asks of the alert sink. The zero value means
// no emission this cycle.
type Action struct {
	Kind      model.AlertKind
	Condition model.Condition
}

// Emit reports whether the sink must be invoked.
func (a Action) Emit() bool {
	return a.Kind != ""
}

// Snapshot is a read-only copy of the tracker state.
type Snapshot struct {
	Condition    model.Condition `json:"condition"`
	ActiveSince  time.Time       `json:"active_since"`
	LastFiredAt  time.Time       `json:"last_fired_at"`
	SnoozedUntil time.Time       `json:"snoozed_until"`
	Pending      model.Condition `json:"pending"`
	PendingSince time.Time       `json:"pending_since"`
}

// Snoozed reports whether repeat suppression is active at the given instant.
func (s Snapshot) Snoozed(now time.Time) bool {
	return now.Before(s.SnoozedUntil)
}

// Tracker 跟踪告警状态机: 当前状态、触发时间、上次提醒时间与暂停截止时间。
//
// It is not safe for concurrent use; the monitor serialises access and issues
// at most one sink action per poll cycle. All temporal decisions take the
// current time as a parameter, so tests drive it with explicit clocks.
type Tracker struct {
	condition    model.Condition
	activeSince  time.Time
	lastFiredAt  time.Time
	snoozedUntil time.Time

	// A low/high classification is held here until it has persisted long
	// enough to be announced. Urgent lows bypass the wait.
	pendingCondition model.Condition
	pendingSince     time.Time
}

// NewTracker starts in the normal state.
func NewTracker() *Tracker {
	return &Tracker{
		condition:        model.ConditionNormal,
		pendingCondition: model.ConditionNormal,
	}
}

// Apply feeds one classification into the state machine and returns the sink
// action it demands, if any.
func (t *Tracker) Apply(c model.Condition, urgent bool, th Thresholds, now time.Time) Action {
	switch {
	case c == model.ConditionNormal:
		return t.applyNormal()
	case t.condition == model.ConditionNormal:
		return t.applyOnset(c, urgent, th, now)
	case t.condition == c:
		return t.applyRepeat(c, th, now)
	default:
		return t.applyPolarity(c, now)
	}
}

// applyNormal resolves any active alert. Repeated normals are a no-op.
func (t *Tracker) applyNormal() Action {
	t.clearPending()
	if t.condition == model.ConditionNormal {
		return Action{}
	}
	t.condition = model.ConditionNormal
	t.activeSince = time.Time{}
	t.lastFiredAt = time.Time{}
	t.snoozedUntil = time.Time{}
	return Action{Kind: model.AlertResolve, Condition: model.ConditionNormal}
}

// applyOnset announces a new low/high once it has persisted long enough.
// activeSince records when the condition actually began, not when the wait
// ended, so duration-of-alert reporting stays accurate.
func (t *Tracker) applyOnset(c model.Condition, urgent bool, th Thresholds, now time.Time) Action {
	if t.pendingCondition != c {
		t.pendingCondition = c
		t.pendingSince = now
	}
	if !urgent && now.Sub(t.pendingSince) < th.PersistFor(c) {
		return Action{}
	}
	t.condition = c
	t.activeSince = t.pendingSince
	t.lastFiredAt = now
	t.clearPending()
	return Action{Kind: model.AlertOnset, Condition: c}
}

// applyRepeat re-emits an unchanged condition once the repeat interval has
// elapsed and no snooze is in force.
func (t *Tracker) applyRepeat(c model.Condition, th Thresholds, now time.Time) Action {
	if now.Sub(t.lastFiredAt) < th.RepeatEvery {
		return Action{}
	}
	if now.Before(t.snoozedUntil) {
		return Action{}
	}
	t.lastFiredAt = now
	return Action{Kind: model.AlertRepeat, Condition: c}
}

// applyPolarity handles a direct low<->high flip. It counts as a brand new
// alert: the snooze issued for the other condition must not silence it.
func (t *Tracker) applyPolarity(c model.Condition, now time.Time) Action {
	t.condition = c
	t.activeSince = now
	t.lastFiredAt = now
	t.snoozedUntil = time.Time{}
	t.clearPending()
	return Action{Kind: model.AlertPolarity, Condition: c}
}

func (t *Tracker) clearPending() {
	t.pendingCondition = model.ConditionNormal
	t.pendingSince = time.Time{}
}

// Snooze suppresses repeat emissions until now+d and returns that deadline.
// The underlying condition keeps being tracked; onsets, polarity flips, and
// resolutions stay audible.
func (t *Tracker) Snooze(d time.Duration, now time.Time) time.Time {
	t.snoozedUntil = now.Add(d)
	return t.snoozedUntil
}

// CancelSnooze ends an active snooze at the given instant.
func (t *Tracker) CancelSnooze(now time.Time) {
	if t.snoozedUntil.After(now) {
		t.snoozedUntil = now
	}
}

// Snapshot copies the current state.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Condition:    t.condition,
		ActiveSince:  t.activeSince,
		LastFiredAt:  t.lastFiredAt,
		SnoozedUntil: t.snoozedUntil,
		Pending:      t.pendingCondition,
		PendingSince: t.pendingSince,
	}
}
