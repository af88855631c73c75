package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebeat_collector_events_total",
			Help: "Total number of events received, by outcome",
		},
		[]string{"outcome"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_collector_event_bytes_total",
			Help: "Total bytes of event data received",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagebeat_collector_publish_duration_seconds",
			Help:    "Duration of broker publish calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_collector_publish_errors_total",
			Help: "Total number of broker publish failures",
		},
	)

	BatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_collector_batches_dropped_total",
			Help: "Total number of batches dropped because the project is disabled",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_collector_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// Activity cache metrics
	ActivityCacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_activity_cache_errors_total",
			Help: "Total number of activity cache read failures (resolved allow-through)",
		},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebeat_activity_reconcile_runs_total",
			Help: "Total number of activity reconciliation runs, by outcome",
		},
		[]string{"outcome"},
	)

	// Worker delivery metrics
	SinkWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagebeat_worker_sink_write_duration_seconds",
			Help:    "Duration of sink write attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SinkWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_worker_sink_write_errors_total",
			Help: "Total number of sink write failures",
		},
	)

	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_worker_retries_scheduled_total",
			Help: "Total number of retry envelopes published to the retry topic",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebeat_worker_dead_lettered_total",
			Help: "Total number of messages routed to the dead-letter topic, by reason",
		},
		[]string{"reason"},
	)

	MessagesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebeat_worker_messages_delivered_total",
			Help: "Total number of messages durably written to the sink",
		},
	)
)
