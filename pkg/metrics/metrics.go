// Package metrics defines the Prometheus metric collectors used by the
// indexer and searcher services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the search engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	JobsEnqueuedTotal    *prometheus.CounterVec
	JobsClaimedTotal     prometheus.Counter
	JobsCompletedTotal   prometheus.Counter
	JobsFailedTotal      *prometheus.CounterVec
	JobProcessingSeconds prometheus.Histogram

	DocsIndexedTotal     prometheus.Counter
	DocsRemovedTotal     prometheus.Counter
	EmbeddingsTotal      *prometheus.CounterVec
	PageRankRunsTotal    *prometheus.CounterVec
	PageRankIterations   prometheus.Histogram
	IndexRebuildsTotal   prometheus.Counter

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all collectors and registers them with reg. Tests use this
// with a private registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_jobs_enqueued_total",
				Help: "Total indexing jobs accepted, by outcome (created, deduplicated).",
			},
			[]string{"outcome"},
		),
		JobsClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_jobs_claimed_total",
				Help: "Total indexing jobs claimed by workers.",
			},
		),
		JobsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_jobs_completed_total",
				Help: "Total indexing jobs that reached the done state.",
			},
		),
		JobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_jobs_failed_total",
				Help: "Total indexing job failures, by kind (retry, permanent).",
			},
			[]string{"kind"},
		),
		JobProcessingSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_job_processing_seconds",
				Help:    "Wall time spent processing a single indexing job.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents written to the inverted index.",
			},
		),
		DocsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_removed_total",
				Help: "Total documents removed from the inverted index.",
			},
		),
		EmbeddingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embeddings_total",
				Help: "Embedding provider calls, by outcome (ok, skipped, error).",
			},
			[]string{"outcome"},
		),
		PageRankRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagerank_runs_total",
				Help: "PageRank batch runs, by scope (page, domain) and status.",
			},
			[]string{"scope", "status"},
		),
		PageRankIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagerank_iterations",
				Help:    "Iterations needed for PageRank convergence.",
				Buckets: []float64{1, 2, 5, 10, 15, 20},
			},
		),
		IndexRebuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_rebuilds_total",
				Help: "Full statistics rebuilds triggered through the admin API.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by mode (keyword, vector, hybrid).",
			},
			[]string{"mode"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"mode", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.JobsEnqueuedTotal,
		m.JobsClaimedTotal,
		m.JobsCompletedTotal,
		m.JobsFailedTotal,
		m.JobProcessingSeconds,
		m.DocsIndexedTotal,
		m.DocsRemovedTotal,
		m.EmbeddingsTotal,
		m.PageRankRunsTotal,
		m.PageRankIterations,
		m.IndexRebuildsTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
