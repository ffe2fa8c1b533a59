package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuthStoreMetrics contains metrics for the hybrid session-state store:
// hot/cold tier effectiveness, outbox reconciliation, circuit breaker
// transitions, and per-operation latency.
//
// All metrics follow the taxonomy:
// baileys_auth_store_authstore_<subsystem>_<metric_name>_<unit>
type AuthStoreMetrics struct {
	RedisHits      prometheus.Counter
	RedisMisses    prometheus.Counter
	MongoFallbacks prometheus.Counter

	QueuePublishes prometheus.Counter
	QueueFailures  prometheus.Counter
	DirectWrites   prometheus.Counter

	CircuitBreakerOpen     prometheus.Counter
	CircuitBreakerClose    prometheus.Counter
	CircuitBreakerHalfOpen prometheus.Counter
	CircuitBreakerState    prometheus.Gauge

	OutboxReconcilerLatencySeconds prometheus.Histogram
	OutboxReconcilerFailures       prometheus.Counter

	OperationLatencySeconds *prometheus.HistogramVec
	BatchOperations         *prometheus.CounterVec
	VersionConflicts        prometheus.Counter
	CacheWarming            *prometheus.CounterVec
	OperationTimeouts       prometheus.Counter
}

// NewAuthStoreMetrics creates the auth-store metrics family.
func NewAuthStoreMetrics(namespace string) *AuthStoreMetrics {
	return &AuthStoreMetrics{
		RedisHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "redis_hits_total",
			Help:      "Total number of hot-tier reads that found a valid session snapshot",
		}),
		RedisMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "redis_misses_total",
			Help:      "Total number of hot-tier reads that found nothing or a poisoned field",
		}),
		MongoFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "mongo_fallbacks_total",
			Help:      "Total number of reads served from the cold tier after a hot-tier miss",
		}),

		QueuePublishes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "queue_publishes_total",
			Help:      "Total number of outbox entries successfully published to the queue adapter",
		}),
		QueueFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "queue_failures_total",
			Help:      "Total number of outbox publish attempts that failed",
		}),
		DirectWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "direct_writes_total",
			Help:      "Total number of cold-tier writes committed synchronously (write-behind disabled)",
		}),

		CircuitBreakerOpen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "circuit_breaker_open_total",
			Help:      "Total number of times the cold-tier circuit breaker tripped open",
		}),
		CircuitBreakerClose: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "circuit_breaker_close_total",
			Help:      "Total number of times the cold-tier circuit breaker closed after a successful probe",
		}),
		CircuitBreakerHalfOpen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "circuit_breaker_half_open_total",
			Help:      "Total number of times the cold-tier circuit breaker entered half-open",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "circuit_breaker_state",
			Help:      "Current cold-tier circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),

		OutboxReconcilerLatencySeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "outbox_reconciler_latency_seconds",
			Help:      "Duration of one outbox reconciliation pass",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		OutboxReconcilerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "outbox_reconciler_failures_total",
			Help:      "Total number of outbox entries that reached a terminal failed state",
		}),

		OperationLatencySeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authstore",
				Name:      "operation_latency_seconds",
				Help:      "Duration of a hybrid store operation",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "layer", "status"},
		),
		BatchOperations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authstore",
				Name:      "batch_operations_total",
				Help:      "Total number of sessions processed through a batch operation",
			},
			[]string{"operation", "status"},
		),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "version_conflict_total",
			Help:      "Total number of cold-tier writes rejected on a version mismatch",
		}),
		CacheWarming: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authstore",
				Name:      "cache_warming_total",
				Help:      "Total number of asynchronous hot-tier cache-warm attempts after a cold-sourced read",
			},
			[]string{"outcome"},
		),
		OperationTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authstore",
			Name:      "operation_timeout_total",
			Help:      "Total number of operations that returned a TimeoutError",
		}),
	}
}
