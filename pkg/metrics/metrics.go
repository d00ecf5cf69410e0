// Package metrics defines the Prometheus metrics exposed by the
// request-control layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the request-control layer
type Metrics struct {
	// Rate limiting metrics
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	UserBlocks        prometheus.Counter

	// Cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// CSRF metrics
	CsrfFailures *prometheus.CounterVec

	// Store metrics
	StoreErrors     *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_ratelimit_allowed_total",
				Help: "Total number of requests allowed by the rate limiter",
			},
			[]string{"tier"},
		),
		RateLimitRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_ratelimit_rejected_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"tier"},
		),
		UserBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "commerce_ratelimit_user_blocks_total",
				Help: "Total number of punitive user blocks applied",
			},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"prefix"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"prefix"},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"kind"},
		),
		CsrfFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_csrf_failures_total",
				Help: "Total number of rejected CSRF validations",
			},
			[]string{"reason"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_store_errors_total",
				Help: "Total number of key-value store errors",
			},
			[]string{"component"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commerce_store_op_duration_seconds",
				Help:    "Key-value store operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
}
