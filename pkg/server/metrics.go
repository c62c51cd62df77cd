package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SearchesTotal   prometheus.Counter
	SearchResults   prometheus.Counter
	ClauseLookups   *prometheus.CounterVec
}

// NewMetrics creates the metrics on a fresh registry, so multiple
// server instances can coexist in one process.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyfinder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policyfinder_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		SearchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "policyfinder_search_queries_total",
				Help: "Total number of search queries served",
			},
		),
		SearchResults: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "policyfinder_search_results_total",
				Help: "Total number of search results returned",
			},
		),
		ClauseLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyfinder_clause_lookups_total",
				Help: "Total number of clause lookups by outcome",
			},
			[]string{"outcome"},
		),
	}
}
