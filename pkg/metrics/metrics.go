// Package metrics provides Prometheus metrics for the Quill service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchAttemptsTotal tracks attempt transitions by terminal outcome
	MatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "matching",
			Name:      "attempts_total",
			Help:      "Total number of match attempt transitions by outcome",
		},
		[]string{"outcome"},
	)

	// RankingDuration tracks candidate ranking duration in seconds
	RankingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "matching",
			Name:      "ranking_duration_seconds",
			Help:      "Duration of candidate ranking passes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"urgency"},
	)

	// CandidatesRanked tracks the pool size produced by each ranking pass
	CandidatesRanked = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "matching",
			Name:      "candidates_ranked",
			Help:      "Number of candidates produced by each ranking pass",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// MatchingExhaustedTotal tracks requests that ran out of candidates
	MatchingExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "matching",
			Name:      "exhausted_total",
			Help:      "Total number of matching runs that exhausted the candidate pool",
		},
	)

	// SweepExpiredTotal tracks attempts expired by the sweeper
	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Total number of attempts expired by the sweeper",
		},
	)

	// SweepDuration tracks sweep cycle duration
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "sweeper",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of expiry sweep cycles in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quill",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quill",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordAttemptOutcome records a match attempt transition
func RecordAttemptOutcome(outcome string) {
	MatchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordRanking records a candidate ranking pass
func RecordRanking(urgency string, candidates int, durationSeconds float64) {
	RankingDuration.WithLabelValues(urgency).Observe(durationSeconds)
	CandidatesRanked.Observe(float64(candidates))
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
