package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

var trackerBase = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func TestTrackerNormalIsQuiet(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	for i := 0; i < 5; i++ {
		now := trackerBase.Add(time.Duration(i*300) * time.Second)
		if action := tr.Apply(model.ConditionNormal, false, th, now); action.Emit() {
			t.Fatalf("正常读数不应触发动作, 得到 %+v", action)
		}
	}
	if got := tr.Snapshot().Condition; got != model.ConditionNormal {
		t.Fatalf("condition = %s, want normal", got)
	}
}

func TestTrackerOnsetAndRepeatPolicy(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	action := tr.Apply(model.ConditionLow, false, th, trackerBase)
	if action.Kind != model.AlertOnset || action.Condition != model.ConditionLow {
		t.Fatalf("onset action = %+v", action)
	}

	if action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(200*time.Second)); action.Emit() {
		t.Fatalf("间隔未满不应重复告警, 得到 %+v", action)
	}

	// The boundary itself fires: elapsed >= interval.
	action = tr.Apply(model.ConditionLow, false, th, trackerBase.Add(300*time.Second))
	if action.Kind != model.AlertRepeat {
		t.Fatalf("间隔已满应重复告警, 得到 %+v", action)
	}

	// The clock restarts from the last emission, not the onset.
	if action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(500*time.Second)); action.Emit() {
		t.Fatalf("距上次发射 200s 不应重复, 得到 %+v", action)
	}
}

func TestTrackerSnoozeSuppressesRepeats(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	tr.Apply(model.ConditionLow, false, th, trackerBase)
	until := tr.Snooze(900*time.Second, trackerBase.Add(60*time.Second))
	if want := trackerBase.Add(960 * time.Second); !until.Equal(want) {
		t.Fatalf("snoozedUntil = %v, want %v", until, want)
	}

	for _, secs := range []int{300, 600, 900} {
		now := trackerBase.Add(time.Duration(secs) * time.Second)
		if action := tr.Apply(model.ConditionLow, false, th, now); action.Emit() {
			t.Fatalf("暂停期间不应告警 (t+%ds), 得到 %+v", secs, action)
		}
	}

	// The condition keeps being tracked while silenced.
	snap := tr.Snapshot()
	if snap.Condition != model.ConditionLow || !snap.ActiveSince.Equal(trackerBase) {
		t.Fatalf("暂停不应改变底层状态: %+v", snap)
	}

	action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(1200*time.Second))
	if action.Kind != model.AlertRepeat {
		t.Fatalf("暂停结束后应恢复告警, 得到 %+v", action)
	}
}

func TestTrackerCancelSnooze(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	tr.Apply(model.ConditionLow, false, th, trackerBase)
	tr.Snooze(3600*time.Second, trackerBase)
	tr.CancelSnooze(trackerBase.Add(60 * time.Second))

	action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(300*time.Second))
	if action.Kind != model.AlertRepeat {
		t.Fatalf("取消暂停后应恢复重复告警, 得到 %+v", action)
	}
}

func TestTrackerPolarityOverridesSnooze(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	tr.Apply(model.ConditionLow, false, th, trackerBase)
	tr.Snooze(1800*time.Second, trackerBase)

	now := trackerBase.Add(300 * time.Second)
	action := tr.Apply(model.ConditionHigh, false, th, now)
	if action.Kind != model.AlertPolarity || action.Condition != model.ConditionHigh {
		t.Fatalf("极性翻转应立即告警, 得到 %+v", action)
	}

	snap := tr.Snapshot()
	if !snap.ActiveSince.Equal(now) {
		t.Fatalf("翻转后 activeSince = %v, want %v", snap.ActiveSince, now)
	}
	if !snap.SnoozedUntil.IsZero() {
		t.Fatalf("翻转应清除 snooze, 得到 %v", snap.SnoozedUntil)
	}

	if action := tr.Apply(model.ConditionHigh, false, th, now.Add(200*time.Second)); action.Emit() {
		t.Fatalf("翻转后间隔未满不应重复, 得到 %+v", action)
	}
}

func TestTrackerResolveClearsState(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	tr.Apply(model.ConditionHigh, false, th, trackerBase)
	tr.Snooze(600*time.Second, trackerBase)

	action := tr.Apply(model.ConditionNormal, false, th, trackerBase.Add(300*time.Second))
	if action.Kind != model.AlertResolve {
		t.Fatalf("恢复正常应发出 resolve, 得到 %+v", action)
	}

	snap := tr.Snapshot()
	if snap.Condition != model.ConditionNormal || !snap.ActiveSince.IsZero() ||
		!snap.LastFiredAt.IsZero() || !snap.SnoozedUntil.IsZero() {
		t.Fatalf("resolve 后状态未清空: %+v", snap)
	}

	if action := tr.Apply(model.ConditionNormal, false, th, trackerBase.Add(600*time.Second)); action.Emit() {
		t.Fatalf("持续正常不应再发 resolve, 得到 %+v", action)
	}
}

func TestTrackerPersistenceDelaysOnset(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()
	th.LowPersist = 10 * time.Minute

	if action := tr.Apply(model.ConditionLow, false, th, trackerBase); action.Emit() {
		t.Fatalf("低值未满持续时间不应告警, 得到 %+v", action)
	}
	snap := tr.Snapshot()
	if snap.Condition != model.ConditionNormal || snap.Pending != model.ConditionLow {
		t.Fatalf("等待期间应保持 normal 并记录 pending, 得到 %+v", snap)
	}

	if action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(5*time.Minute)); action.Emit() {
		t.Fatalf("5 分钟不足以确认低值, 得到 %+v", action)
	}

	action := tr.Apply(model.ConditionLow, false, th, trackerBase.Add(10*time.Minute))
	if action.Kind != model.AlertOnset {
		t.Fatalf("持续 10 分钟后应告警, 得到 %+v", action)
	}
	if got := tr.Snapshot().ActiveSince; !got.Equal(trackerBase) {
		t.Fatalf("activeSince 应为实际起始时间 %v, 得到 %v", trackerBase, got)
	}
}

func TestTrackerUrgentLowBypassesPersistence(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()
	th.LowPersist = 30 * time.Minute

	action := tr.Apply(model.ConditionLow, true, th, trackerBase)
	if action.Kind != model.AlertOnset {
		t.Fatalf("紧急低值应立即告警, 得到 %+v", action)
	}
}

func TestTrackerPendingClearedByRecovery(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()
	th.HighPersist = 15 * time.Minute

	tr.Apply(model.ConditionHigh, false, th, trackerBase)
	if action := tr.Apply(model.ConditionNormal, false, th, trackerBase.Add(5*time.Minute)); action.Emit() {
		t.Fatalf("未确认的高值恢复不应发 resolve, 得到 %+v", action)
	}

	// A later excursion starts the wait from scratch.
	restart := trackerBase.Add(20 * time.Minute)
	tr.Apply(model.ConditionHigh, false, th, restart)
	if action := tr.Apply(model.ConditionHigh, false, th, restart.Add(14*time.Minute)); action.Emit() {
		t.Fatalf("重新计时未满不应告警, 得到 %+v", action)
	}
	action := tr.Apply(model.ConditionHigh, false, th, restart.Add(15*time.Minute))
	if action.Kind != model.AlertOnset {
		t.Fatalf("重新计时满后应告警, 得到 %+v", action)
	}
}

// 经典场景: 5.0 → 3.5 → 3.5 → 3.5 → 4.0, 阈值 3.9/10.0, 告警间隔 300 秒。
func TestTrackerLowEpisodeScenario(t *testing.T) {
	tr := NewTracker()
	th := testThresholds()

	steps := []struct {
		offset time.Duration
		value  string
		want   model.AlertKind
	}{
		{0, "5.0", ""},
		{300 * time.Second, "3.5", model.AlertOnset},
		{590 * time.Second, "3.5", ""},
		{900 * time.Second, "3.5", model.AlertRepeat},
		{1200 * time.Second, "4.0", model.AlertResolve},
	}

	for i, step := range steps {
		now := trackerBase.Add(step.offset)
		value := decimal.RequireFromString(step.value)
		action := tr.Apply(th.Classify(value), th.Urgent(value), th, now)
		if action.Kind != step.want {
			t.Fatalf("step %d (%s): action = %q, want %q", i, step.value, action.Kind, step.want)
		}
	}
}
