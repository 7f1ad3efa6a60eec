// Package metrics exposes the Prometheus registry shared by the CRM cache
// packages. Metrics are defined in their respective packages (cache,
// storage, client) via promauto to avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by all packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Response Cache Metrics (pkg/cache):
//   - crm_cache_hits_total{layer} (Counter): Hits by layer (memory, durable)
//   - crm_cache_misses_total (Counter): Misses
//   - crm_cache_entries{prefix} (Gauge): In-process entries per cache
//   - crm_cache_evictions_total{reason} (Counter): Removals (expired, corrupt, invalidated)
//   - crm_cache_errors_total{tier, operation} (Counter): Durable tier failures
//
// Result Storage Metrics (pkg/storage):
//   - crm_result_storage_hits_total{tier} (Counter): Hits by tier
//   - crm_result_storage_misses_total (Counter): Lookups no tier answered
//   - crm_result_storage_backfills_total{tier} (Counter): Copies into faster tiers
//   - crm_result_storage_errors_total{tier, operation} (Counter): Tier failures
//   - crm_result_storage_skips_total{tier, reason} (Counter): Declined writes (too_large, unsupported)
//
// Request Metrics (pkg/client):
//   - crm_requests_total{endpoint, status} (Counter): Requests by endpoint and status (incl. cache_hit)
//   - crm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - crm_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - crm_cache_invalidations_total{method} (Counter): Entries dropped after mutations
//
// Retry Metrics (pkg/client):
//   - crm_retries_total{error_class} (Counter): Retry attempts by error class
//   - crm_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - crm_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(crm_cache_hits_total[5m])) /
//   (sum(rate(crm_cache_hits_total[5m])) + sum(rate(crm_cache_misses_total[5m])))
//
//   # Durable tier trouble
//   sum by (tier) (rate(crm_cache_errors_total[5m]))
//
//   # Results too large for the cookie tier
//   rate(crm_result_storage_skips_total{tier="cookie",reason="too_large"}[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(crm_request_duration_seconds_bucket[5m]))
