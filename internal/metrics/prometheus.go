// Package metrics exposes Prometheus collectors for the chain engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionchain_cache_lookups_total",
			Help: "Cache lookups by tier and outcome",
		},
		[]string{"tier", "result"}, // tier: quote|prevday|intraday|catalog, result: hit|miss
	)

	CacheCoverage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optionchain_cache_coverage_ratio",
			Help: "Fraction of the last built chain served by each cache tier",
		},
		[]string{"symbol", "tier"},
	)

	// Upstream metrics
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionchain_upstream_calls_total",
			Help: "Total number of market-data API calls",
		},
		[]string{"endpoint", "status"}, // status: success|error|rate_limited
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionchain_upstream_latency_seconds",
			Help:    "Market-data API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	CooldownsEngaged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionchain_cooldowns_engaged_total",
			Help: "Rate-limit cooldowns engaged per scope",
		},
		[]string{"scope"},
	)

	// Warm worker metrics
	WarmJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionchain_warm_jobs_total",
			Help: "Background warm jobs by outcome",
		},
		[]string{"status"}, // status: started|skipped|completed|cancelled
	)

	WarmJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionchain_warm_jobs_running",
			Help: "Warm jobs currently running",
		},
	)

	// Build metrics
	ChainBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionchain_builds_total",
			Help: "Chain builds by outcome",
		},
		[]string{"symbol", "status"},
	)

	ChainBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optionchain_build_duration_seconds",
			Help:    "Chain build duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"symbol"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(CacheLookups)
		prometheus.MustRegister(CacheCoverage)
		prometheus.MustRegister(UpstreamCalls)
		prometheus.MustRegister(UpstreamLatency)
		prometheus.MustRegister(CooldownsEngaged)
		prometheus.MustRegister(WarmJobs)
		prometheus.MustRegister(WarmJobsRunning)
		prometheus.MustRegister(ChainBuilds)
		prometheus.MustRegister(ChainBuildDuration)
	})
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCache records a cache lookup.
func RecordCache(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordUpstreamCall records a market-data API call.
func RecordUpstreamCall(endpoint string, latency time.Duration, err error, rateLimited bool) {
	status := "success"
	switch {
	case rateLimited:
		status = "rate_limited"
	case err != nil:
		status = "error"
	}
	UpstreamCalls.WithLabelValues(endpoint, status).Inc()
	UpstreamLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordBuild records a chain build.
func RecordBuild(symbol string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ChainBuilds.WithLabelValues(symbol, status).Inc()
	ChainBuildDuration.WithLabelValues(symbol).Observe(duration.Seconds())
}
