package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_runs_completed_total", Help: "Runs that reached completed"})
	RunsSoftFailed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_runs_soft_failed_total", Help: "Completed runs that produced no usable output"})
	RunsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_runs_failed_total", Help: "Runs that reached failed"})
	ItemsSaved       = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_items_saved_total", Help: "Items persisted across runs"})
	LastRunTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{Name: "collector_last_run_timestamp_seconds", Help: "Unix time of the last terminal transition"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "API requests rejected by the rate limiter"})
	CacheMisses      = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_price_cache_misses_total", Help: "Latest-price reads that fell back to Postgres"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsCompleted,
			RunsSoftFailed,
			RunsFailed,
			ItemsSaved,
			LastRunTimestamp,
			RateLimitRejects,
			CacheMisses,
		)
	})
	return promhttp.Handler()
}
