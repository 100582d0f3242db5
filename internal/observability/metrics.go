package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for ActionsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// UnknownActionLabel is the action label for ids no strategy handles.
const UnknownActionLabel = "unknown"

var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tabrelay",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently open browser sessions",
		},
	)

	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrelay",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Total number of session creation attempts by result",
		},
		[]string{"result"},
	)

	SessionsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tabrelay",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Total number of sessions closed",
		},
	)

	// Action metrics
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tabrelay",
			Subsystem: "action",
			Name:      "executed_total",
			Help:      "Total number of executed actions",
		},
		[]string{"strategy", "action", "outcome"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tabrelay",
			Subsystem: "action",
			Name:      "duration_seconds",
			Help:      "Action execution duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"strategy", "action"},
	)

	// Discovery metrics
	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tabrelay",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Time spent computing the action catalogue of a page",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)
)

// ObserveAction records the outcome and latency of a single action execution.
// Action ids that embed an index (read_section_3) are collapsed to keep label
// cardinality bounded.
func ObserveAction(strategy, action string, start time.Time, err error) {
	action = actionLabel(action)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	ActionsTotal.WithLabelValues(strategy, action, outcome).Inc()
	ActionDuration.WithLabelValues(strategy, action).Observe(time.Since(start).Seconds())
}

func actionLabel(action string) string {
	const sectionPrefix = "read_section_"
	if len(action) > len(sectionPrefix) && action[:len(sectionPrefix)] == sectionPrefix {
		return sectionPrefix + "n"
	}
	return action
}
