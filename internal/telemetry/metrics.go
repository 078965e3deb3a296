package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// EventsTotal counts inbound events by platform and message type.
var EventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "events_total",
		Help:      "Inbound events received.",
	},
	[]string{"platform", "message_type"},
)

// DispatchesTotal counts command dispatches by backend type and outcome.
var DispatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "dispatches_total",
		Help:      "Command dispatches by backend type and status.",
	},
	[]string{"type", "status"},
)

// DispatchDuration tracks execution backend latency by type.
var DispatchDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "dispatch_duration_seconds",
		Help:      "Execution backend call duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"type"},
)

// StringMatchesTotal counts string rule matches by action.
var StringMatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "string_matches_total",
		Help:      "String rule matches by action.",
	},
	[]string{"action"},
)

// RateLimitedTotal counts per-command rate limit rejections.
var RateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "rate_limited_total",
		Help:      "Command dispatches rejected by the sliding-window rate limiter.",
	},
)

// SessionsCreatedTotal counts created sessions.
var SessionsCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "sessions_created_total",
		Help:      "Sessions minted for inbound events.",
	},
)

// CacheHitsTotal counts cache hits by cache name.
var CacheHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "cache_hits_total",
		Help:      "Process-local cache hits.",
	},
	[]string{"cache"},
)

// CacheMissesTotal counts cache misses by cache name.
var CacheMissesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "cache_misses_total",
		Help:      "Process-local cache misses.",
	},
	[]string{"cache"},
)

// ClaimsTotal counts coordination rows claimed by platform.
var ClaimsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "claims_total",
		Help:      "Coordination entities claimed.",
	},
	[]string{"platform"},
)

// ClaimConflictsTotal counts claim attempts lost to a concurrent container.
var ClaimConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "waddlebot",
		Subsystem: "router",
		Name:      "claim_conflicts_total",
		Help:      "Claim compare-and-set attempts lost to another container.",
	},
)

// NewMetricsRegistry creates a Prometheus registry with default and custom collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		EventsTotal,
		DispatchesTotal,
		DispatchDuration,
		StringMatchesTotal,
		RateLimitedTotal,
		SessionsCreatedTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		ClaimsTotal,
		ClaimConflictsTotal,
	)
	return reg
}
