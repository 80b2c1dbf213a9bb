// Package metrics exposes the Prometheus registry used by the picsum client.
// All metrics are defined in their respective packages (client, pagination,
// worker, cache, resolver, export) and registered via promauto.
//
// This package provides the scrape handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the picsum client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - picsum_requests_total{endpoint, status} (Counter): Requests by endpoint ("/v2/list", "image") and HTTP status
//   - picsum_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - picsum_errors_total{class} (Counter): Errors by class (network, http_status, decode)
//
// Listing Metrics (pkg/pagination):
//   - picsum_fetch_sessions_total{outcome} (Counter): Sessions by outcome (complete, partial, stalled, superseded, failed)
//   - picsum_pages_total{outcome} (Counter): Page requests by outcome (ok, failed)
//
// Download Metrics (pkg/worker):
//   - picsum_download_queue_depth (Gauge): Jobs waiting for a worker
//   - picsum_download_jobs_total{outcome} (Counter): Jobs by outcome (ok, failed, cancelled, discarded)
//
// Cache Metrics (pkg/cache):
//   - picsum_cache_hits_total{layer} (Counter): Hits by layer (memory, redis)
//   - picsum_cache_misses_total{layer} (Counter): Misses by layer
//   - picsum_cache_entries{layer} (Gauge): Cached images
//   - picsum_cache_size_bytes{layer} (Gauge): Cached bytes
//   - picsum_cache_errors_total{operation} (Counter): Store errors (get, set, len)
//
// Resolver Metrics (pkg/resolver):
//   - picsum_resolve_total{size, result} (Counter): Resolutions by size class and result
//     (hit, miss, malformed, downloaded, failed, abandoned)
//   - picsum_inflight_coalesced_total (Counter): Resolutions that joined a running download
//
// Export Metrics (pkg/export):
//   - picsum_export_records_total{outcome} (Counter): Exported records (saved, failed)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(picsum_cache_hits_total[5m])) /
//   (sum(rate(picsum_cache_hits_total[5m])) + sum(rate(picsum_cache_misses_total[5m])))
//
//   # Stalled Listing Fetches
//   increase(picsum_fetch_sessions_total{outcome="stalled"}[1h])
//
//   # Download Backlog
//   picsum_download_queue_depth > 50
//
//   # P95 Image Latency
//   histogram_quantile(0.95, rate(picsum_request_duration_seconds_bucket{endpoint="image"}[5m]))
