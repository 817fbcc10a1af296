package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "regionsync"

var (
	// SnapshotsReceived counts region snapshots applied to the cache.
	SnapshotsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_received_total",
		Help:      "Region snapshots applied to the cache.",
	}, []string{"source"})

	// DocumentsSkipped counts region documents that failed to decode.
	DocumentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_skipped_total",
		Help:      "Region documents skipped because they failed to decode.",
	})

	// SubscriptionErrors counts transport errors on the push feed or one-shot reads.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_errors_total",
		Help:      "Transport errors on the region feed.",
	}, []string{"op"})

	// Resubscribes counts subscriptions created after the first.
	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resubscribes_total",
		Help:      "Push subscriptions re-established after an error.",
	})

	// SubscriptionActive is 1 while a push subscription is registered.
	SubscriptionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscription_active",
		Help:      "1 while a push subscription is registered.",
	})

	// Regions tracks the current number of regions per status.
	Regions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "regions",
		Help:      "Regions in the current snapshot per status.",
	}, []string{"status"})

	// RoleFetches counts remote role lookups by result.
	RoleFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_fetches_total",
		Help:      "Remote role lookups by result.",
	}, []string{"result"})

	// EditsReceived counts renderer edit commands by outcome.
	EditsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "edits_total",
		Help:      "Renderer edit commands by outcome.",
	}, []string{"outcome"})

	// JobsEnqueued counts update jobs placed into the worker channel.
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Update jobs placed into worker channel.",
	})

	// JobsDropped counts update jobs discarded without a remote call.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Update jobs discarded without a remote call.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Worker job completions.",
	}, []string{"status"})

	// UpdateDuration records remote region update latency.
	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_duration_seconds",
		Help:      "Remote region update latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// BridgeSessions tracks connected renderers.
	BridgeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bridge_sessions",
		Help:      "Connected renderer sessions.",
	})

	// BridgeMessages counts bridge traffic by direction and kind.
	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bridge_messages_total",
		Help:      "Renderer bridge messages by direction and kind.",
	}, []string{"direction", "kind"})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current job channel buffer depth.",
	})
)
