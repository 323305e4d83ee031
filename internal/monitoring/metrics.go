package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassifyRequests counts classify calls by provider and outcome
	ClassifyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_classify_requests_total",
			Help: "Total number of classify requests",
		},
		[]string{"provider", "outcome"},
	)

	// StageDuration tracks per-stage latency of a classify call
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_stage_duration_seconds",
			Help:    "Classify stage latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Extractions counts provider extraction attempts by result code
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_extractions_total",
			Help: "Total number of visual fact extractions",
		},
		[]string{"provider", "result"},
	)

	// CacheLookups counts cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"cache", "result"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vision_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// RateLimitDenied counts rate-limit denials per dimension
	RateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_ratelimit_denied_total",
			Help: "Total number of rate-limited requests",
		},
		[]string{"dimension"},
	)

	// AttributesResolved counts resolved attributes by name and tier
	AttributesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_attributes_resolved_total",
			Help: "Total number of resolved attributes",
		},
		[]string{"attribute", "tier"},
	)
)

// CacheResult returns the label value for a lookup outcome.
func CacheResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
