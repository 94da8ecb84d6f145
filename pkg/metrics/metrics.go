// Package metrics exposes the Prometheus metrics of the API caller.
// All metrics are defined in their respective packages (cache, client, batch)
// via promauto to maintain modularity and avoid circular dependencies; this
// package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the API caller.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - apicaller_cache_hits_total{layer} (Counter): Cache hits by layer (sql, redis, memory)
//   - apicaller_cache_misses_total (Counter): Cache misses, including expired entries
//   - apicaller_cache_errors_total{operation} (Counter): Cache operation errors
//   - apicaller_cache_purged_total (Counter): Expired entries removed by Clear
//
// Request Metrics (pkg/client):
//   - apicaller_requests_total{status} (Counter): Upstream requests by HTTP status or network_error
//   - apicaller_request_duration_seconds (Histogram): Upstream request duration
//   - apicaller_errors_total{class} (Counter): Transport errors by class (client, server, status, network, decode, request)
//
// Batch Metrics (pkg/batch):
//   - apicaller_batches_total (Counter): Dispatched batches
//   - apicaller_batch_units_total{outcome} (Counter): Completed units (fetched, cache_hit, absent)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apicaller_cache_hits_total[5m])) /
//   (sum(rate(apicaller_cache_hits_total[5m])) + sum(rate(apicaller_cache_misses_total[5m])))
//
//   # Absent Outcome Ratio
//   sum(rate(apicaller_batch_units_total{outcome="absent"}[5m])) /
//   sum(rate(apicaller_batch_units_total[5m]))
//
//   # Request Error Rate
//   rate(apicaller_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(apicaller_request_duration_seconds_bucket[5m]))
