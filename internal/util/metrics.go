package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "searches_total",
		Help: "Total number of search requests",
	}, []string{"tier"})

	SearchCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_hits_total",
		Help: "Total number of searches served from the Redis page cache",
	})

	SearchStoreHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_store_hits_total",
		Help: "Total number of searches served from stored fresh results",
	})

	SearchFreshFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_fresh_fetches_total",
		Help: "Total number of searches that fanned out to source fetchers",
	})

	FetcherRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcher_requests_total",
		Help: "Total number of provider fetch attempts",
	}, []string{"source"})

	FetcherErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcher_errors_total",
		Help: "Total number of provider fetch failures",
	}, []string{"source", "reason"})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetch_latency_seconds",
		Help:    "Latency of provider fetch calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	ProductsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "products_fetched_total",
		Help: "Total number of normalized products returned by fetchers",
	}, []string{"source"})

	AnalysisBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_batches_total",
		Help: "Total number of analysis batches dispatched",
	})

	AnalysisFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_fallbacks_total",
		Help: "Total number of products resolved with fallback analysis",
	})

	AnalysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_latency_seconds",
		Help:    "Latency of analysis batch calls",
		Buckets: prometheus.DefBuckets,
	})

	AnalysisTasksStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_tasks_started_total",
		Help: "Total number of background analysis tasks started",
	})

	AnalysisTasksCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_tasks_completed_total",
		Help: "Total number of background analysis tasks finished",
	}, []string{"status"})

	StoreSaveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_save_failures_total",
		Help: "Total number of swallowed persistence failures on the save path",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
