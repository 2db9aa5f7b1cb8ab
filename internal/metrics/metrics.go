package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"glucose-alerts/internal/model"
)

var (
	// Poll metrics
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucowatch_polls_total",
			Help: "Total number of poll cycles",
		},
		[]string{"status"}, // status: ok, empty, error
	)

	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glucowatch_consecutive_fetch_failures",
			Help: "Consecutive failed fetches since the last successful reading",
		},
	)

	CurrentGlucose = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glucowatch_current_glucose",
			Help: "Most recent glucose value in the configured unit",
		},
	)

	// Storage metrics
	ReadingsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucowatch_readings_stored_total",
			Help: "Total number of readings persisted",
		},
	)

	StoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucowatch_store_failures_total",
			Help: "Total number of failed storage operations",
		},
	)

	// Alert metrics
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glucowatch_alerts_emitted_total",
			Help: "Total number of alert actions emitted",
		},
		[]string{"condition", "kind"},
	)

	alertActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glucowatch_alert_active",
			Help: "Whether an alert is currently active for the condition",
		},
		[]string{"condition"},
	)

	SinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucowatch_sink_failures_total",
			Help: "Total number of failed audio sink calls",
		},
	)

	MessengerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucowatch_messenger_failures_total",
			Help: "Total number of failed messenger dispatches",
		},
	)

	SnoozesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glucowatch_snoozes_total",
			Help: "Total number of snooze requests",
		},
	)
)

// SetAlertActive reflects the alert state machine: the active condition's
// gauge reads 1, every other condition reads 0.
func SetAlertActive(active model.Condition) {
	for _, c := range []model.Condition{model.ConditionLow, model.ConditionHigh} {
		v := 0.0
		if c == active {
			v = 1.0
		}
		alertActive.WithLabelValues(string(c)).Set(v)
	}
}
