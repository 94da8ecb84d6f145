package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicaller_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"}, // "sql", "redis", "memory"
	)

	// CacheMisses tracks cache misses, including reads of expired entries
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apicaller_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicaller_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "clear"
	)

	// CachePurged tracks expired entries removed by Clear
	CachePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apicaller_cache_purged_total",
			Help: "Total number of expired cache entries purged",
		},
	)
)
