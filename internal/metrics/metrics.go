// Package metrics provides Prometheus metrics for newsfinder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsfinder"

var (
	// ArticlesTotal counts articles by terminal outcome.
	ArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_total",
			Help:      "Articles processed, by terminal outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration measures external stage calls.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	// ModelCallsTotal counts model HTTP calls by client and status.
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Total number of model calls",
		},
		[]string{"client", "status"},
	)

	// RunsTotal counts pipeline runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	// VerdictsFlaggedTotal counts verdicts whose discrepancy crossed the flag threshold.
	VerdictsFlaggedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_flagged_total",
			Help:      "Verification verdicts flagged for review",
		},
	)
)

// RecordOutcome records one terminal article state.
func RecordOutcome(outcome string) {
	ArticlesTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a stage call took.
func ObserveStage(stage string, elapsed time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ModelObserver returns a callback suitable for the llm client observer option.
func ModelObserver(client string) func(status string) {
	return func(status string) {
		ModelCallsTotal.WithLabelValues(client, status).Inc()
	}
}

// RecordRun records a finished run.
func RecordRun(status string) {
	RunsTotal.WithLabelValues(status).Inc()
}

// RecordFlagged records a flagged verdict.
func RecordFlagged() {
	VerdictsFlaggedTotal.Inc()
}
