package fetcher

import (
	"context"
	"errors"

	"glucose-alerts/internal/model"
)

var (
	// ErrNoReadings indicates the source responded normally but has no
	// glucose value to report (sensor warm-up, gap in transmission).
	ErrNoReadings = errors.New("fetcher: no readings available")

	// ErrAuthFailed indicates the source rejected the configured
	// credentials. Retrying without a config change will not help.
	ErrAuthFailed = errors.New("fetcher: authentication failed")
)

// ReadingSource retrieves the most recent glucose reading.
type ReadingSource interface {
	FetchLatest(ctx context.Context) (model.Reading, error)
}
