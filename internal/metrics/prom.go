package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal tracks fetch attempts per source and outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_fetch_total",
			Help: "Total number of source fetch attempts",
		},
		[]string{"source", "outcome"},
	)

	// FetchLatency tracks successful fetch latency per source.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketfeed_fetch_latency_seconds",
			Help:    "Source fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// RateLimitViolations tracks denied acquisitions per source.
	RateLimitViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_rate_limit_violations_total",
			Help: "Total number of rate limiter denials",
		},
		[]string{"source"},
	)

	// CircuitState exposes the breaker position per source
	// (0 closed, 1 open, 2 half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketfeed_circuit_state",
			Help: "Circuit breaker state per source (0=closed, 1=open, 2=half-open)",
		},
		[]string{"source"},
	)

	// CircuitRejections tracks calls rejected by an open circuit.
	CircuitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_circuit_rejections_total",
			Help: "Total number of calls rejected by an open circuit",
		},
		[]string{"source"},
	)

	// CacheHits tracks cache reads by serving tier and freshness.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier", "freshness"},
	)

	// CacheIntegrityFailures tracks digest mismatches on cache reads.
	CacheIntegrityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketfeed_cache_integrity_failures_total",
			Help: "Total number of cache entries dropped after digest mismatch",
		},
	)

	// PipelineRuns tracks orchestrator runs by overall status.
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	// SLAViolations tracks SLA breaches per source and dimension.
	SLAViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_sla_violations_total",
			Help: "Total number of SLA violations observed",
		},
		[]string{"source", "dimension"},
	)

	// AlertsFired tracks fired alert rules by severity.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketfeed_alerts_fired_total",
			Help: "Total number of alerts fired",
		},
		[]string{"severity"},
	)
)
