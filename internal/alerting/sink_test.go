package alerting

import (
	"context"
	"errors"
	"testing"

	"glucose-alerts/internal/model"
)

type recordingSink struct {
	plays []model.Condition
	stops int
	err   error
}

func (r *recordingSink) Play(_ context.Context, c model.Condition) error {
	r.plays = append(r.plays, c)
	return r.err
}

func (r *recordingSink) Stop(context.Context) error {
	r.stops++
	return r.err
}

func TestCompositeSinkFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("device busy")}
	c := &recordingSink{}
	sink := NewCompositeSink(a, b, c)

	if err := sink.Play(context.Background(), model.ConditionLow); err == nil {
		t.Fatal("成员失败应向上返回错误")
	}
	for i, s := range []*recordingSink{a, b, c} {
		if len(s.plays) != 1 || s.plays[0] != model.ConditionLow {
			t.Fatalf("成员 %d 应收到 Play: %+v", i, s.plays)
		}
	}

	if err := sink.Stop(context.Background()); err == nil {
		t.Fatal("成员失败应向上返回错误")
	}
	if a.stops != 1 || c.stops != 1 {
		t.Fatal("每个成员都应收到 Stop")
	}
}

func TestNopSink(t *testing.T) {
	var sink NopSink
	if err := sink.Play(context.Background(), model.ConditionHigh); err != nil {
		t.Fatalf("NopSink.Play 应为空操作: %v", err)
	}
	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("NopSink.Stop 应为空操作: %v", err)
	}
}
