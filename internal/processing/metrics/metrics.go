package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumed tracks inbound events per topic and outcome
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_events_consumed_total",
			Help: "Total number of inbound events consumed",
		},
		[]string{"topic", "outcome"},
	)

	// ExceptionsCaptured tracks newly stored records
	ExceptionsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_exceptions_captured_total",
			Help: "Total number of exception records created",
		},
		[]string{"interface_type", "severity"},
	)

	// DeadLetters tracks messages that could not be decoded or mapped
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_dead_letters_total",
			Help: "Total number of inbound messages routed to the dead-letter path",
		},
		[]string{"topic", "stage"},
	)

	// StatusTransitions tracks lifecycle transitions
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_status_transitions_total",
			Help: "Total number of exception status transitions",
		},
		[]string{"from", "to"},
	)

	// RetryAttempts tracks settled retry attempts per interface
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_retry_attempts_total",
			Help: "Total number of settled retry attempts",
		},
		[]string{"interface_type", "result"},
	)

	// RetryLatency tracks replay latency against source services
	RetryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_retry_latency_seconds",
			Help:    "Replay call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interface_type"},
	)

	// RetryQueueDepth tracks jobs waiting in the retry pool
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_retry_queue_depth",
			Help: "Number of retry jobs waiting for a worker",
		},
	)

	// AlertsRaised tracks alerts emitted per reason
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_alerts_raised_total",
			Help: "Total number of alerts emitted",
		},
		[]string{"reason", "level"},
	)

	// OutboundPublishErrors tracks failed outbound publishes
	OutboundPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_outbound_publish_errors_total",
			Help: "Total number of outbound events that failed to publish",
		},
		[]string{"event_type"},
	)

	// RecordsClosed tracks records archived by retention
	RecordsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_records_closed_total",
			Help: "Total number of resolved records closed by retention",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of used connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_db_connection_pool_usage_percent",
			Help: "Percentage of database connection pool in use",
		},
	)

	// DBQueryLatency tracks repository query latency
	DBQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_db_query_latency_seconds",
			Help:    "Repository query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
