/*
Package metrics provides Prometheus instrumentation for sari's indexing
pipeline: coalesce queue depth and drops, indexer classification and
retry counts, DLQ depth, DB writer batch latency and drop_critical,
search engine request latency and fallback events, scheduling latency,
and daemon registry promotions/rollbacks.

Handler returns the promhttp handler for mounting on the HTTP API's
/metrics route. Collector periodically pulls gauge-shaped values (root
file/symbol counts, coalesce size, DLQ depth) from a Source implemented
by the daemon package, keeping this package free of a dependency on the
pipeline packages it instruments.

HealthChecker (health.go) is a separate, simpler aggregator: components
register themselves with RegisterComponent and update via
UpdateComponent. The HTTP API's /health handler does not consult it,
and the API has no /ready route.
*/
package metrics
