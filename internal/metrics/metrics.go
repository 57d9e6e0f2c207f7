package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// publishOutcomesTotal counts publish decisions by topic and outcome.
	// Labels:
	// - topic: event topic
	// - outcome: processed | duplicate | invalid | error
	publishOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aggregator",
			Subsystem: "ingest",
			Name:      "publish_outcomes_total",
			Help:      "Publish decisions by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)

	// commitDuration observes the latency of one TryCommit round-trip.
	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aggregator",
			Subsystem: "ingest",
			Name:      "commit_duration_seconds",
			Help:      "Time taken by one persistence commit round-trip.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
)

// IncPublishOutcome increments the publish outcome counter.
func IncPublishOutcome(topic, outcome string) {
	if topic == "" {
		topic = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	publishOutcomesTotal.WithLabelValues(topic, outcome).Inc()
}

// ObserveCommit records the duration of one persistence commit.
func ObserveCommit(d time.Duration) {
	commitDuration.Observe(d.Seconds())
}
