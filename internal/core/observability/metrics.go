// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodata_operations_total",
			Help: "Geometry operations by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	operationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodata_operation_duration_seconds",
			Help:    "Duration of geometry operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"tool"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	// CachePuts counts results persisted to the result cache.
	CachePuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_puts_total",
		Help: "Results written to the result cache.",
	})

	// CacheHits counts successful metadata lookups.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_hits_total",
		Help: "Cache lookups that found a live entry.",
	})

	// CacheMisses counts lookups for absent entries.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_misses_total",
		Help: "Cache lookups for absent entries.",
	})

	// CacheExpired counts entries deleted lazily on lookup.
	CacheExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_expired_total",
		Help: "Entries found expired and deleted on lookup.",
	})

	// CacheSwept counts files removed by the mtime sweep.
	CacheSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_swept_files_total",
		Help: "Files removed by the expiry sweep.",
	})
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveOperation records one geometry operation. outcome is "ok" or an
// error class.
func ObserveOperation(tool, outcome string, durationSeconds float64) {
	operationsTotal.WithLabelValues(tool, outcome).Inc()
	operationDurationSeconds.WithLabelValues(tool).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
