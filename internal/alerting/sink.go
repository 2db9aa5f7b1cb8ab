package alerting

import (
	"context"
	"errors"

	"glucose-alerts/internal/model"
)

// Sink makes an alert perceptible. Implementations must be idempotent:
// playing an already-active condition and stopping while silent are both
// safe no-ops.
type Sink interface {
	Play(ctx context.Context, condition model.Condition) error
	Stop(ctx context.Context) error
}

// NopSink discards all alerts. Used when audio is disabled.
type NopSink struct{}

func (NopSink) Play(context.Context, model.Condition) error { return nil }

func (NopSink) Stop(context.Context) error { return nil }

// CompositeSink fans each call out to every member sink. All members are
// attempted even when earlier ones fail.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink builds a fan-out sink.
func NewCompositeSink(sinks ...Sink) *CompositeSink {
	return &CompositeSink{sinks: sinks}
}

func (c *CompositeSink) Play(ctx context.Context, condition model.Condition) error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Play(ctx, condition); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *CompositeSink) Stop(ctx context.Context) error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Sink = NopSink{}
var _ Sink = (*CompositeSink)(nil)
