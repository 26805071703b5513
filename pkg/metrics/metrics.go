// Package metrics holds the Prometheus collectors for the scoring engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scoring metrics
	TransactionsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_transactions_scored_total",
			Help: "Total number of transactions that received a verdict",
		},
		[]string{"outcome"}, // normal/anomaly
	)

	TransactionsUnscored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_transactions_unscored_total",
			Help: "Total number of transactions excluded from scoring",
		},
		[]string{"reason"},
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_anomalies_total",
			Help: "Total number of anomalous verdicts",
		},
		[]string{"severity", "type"},
	)

	AnomalyScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraudguard_anomaly_score",
			Help:    "Distribution of ensemble anomaly scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 to 100
		},
	)

	// Detector metrics
	DetectorFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_detector_flags_total",
			Help: "Total number of transactions flagged per detector",
		},
		[]string{"detector"},
	)

	DetectorAbstentions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_detector_abstentions_total",
			Help: "Total number of detector abstentions",
		},
		[]string{"detector", "reason"},
	)

	// Batch metrics
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraudguard_batch_duration_seconds",
			Help:    "Batch processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_alerts_total",
			Help: "Total number of alerts emitted",
		},
		[]string{"severity", "status"},
	)

	// Storage metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_store_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"store", "operation", "status"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraudguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)
)
