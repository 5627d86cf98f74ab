package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Root / file metrics
	RootsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sari_roots_total",
			Help: "Total number of registered workspace roots",
		},
	)

	FilesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sari_files_total",
			Help: "Total number of indexed files by root",
		},
		[]string{"root_id"},
	)

	SymbolsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sari_symbols_total",
			Help: "Total number of extracted symbols by root",
		},
		[]string{"root_id"},
	)

	// Coalesce queue metrics
	CoalesceMapSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sari_coalesce_map_size",
			Help: "Current number of pending keys in the coalesce map",
		},
	)

	CoalesceDropDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_coalesce_drop_degraded_total",
			Help: "Total number of new coalesce keys dropped due to max_keys",
		},
	)

	// Indexer metrics
	IndexerClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sari_indexer_classified_total",
			Help: "Total number of files classified by outcome",
		},
		[]string{"outcome"},
	)

	IndexerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_indexer_retries_total",
			Help: "Total number of transient-failure retries",
		},
	)

	DLQDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sari_dlq_depth",
			Help: "Current number of tasks sitting in the dead-letter queue",
		},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sari_scan_duration_seconds",
			Help:    "Time taken for a full scan_once cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Parser metrics
	ParseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sari_parse_duration_seconds",
			Help:    "Time taken to parse a file in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"language"},
	)

	ParseTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_parse_timeouts_total",
			Help: "Total number of per-file AST extraction timeouts",
		},
	)

	ParseErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_parse_errors_total",
			Help: "Total number of per-file AST extraction errors (not timeouts)",
		},
	)

	// DB writer metrics
	DBWriterBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sari_dbwriter_batch_duration_seconds",
			Help:    "Time taken to commit one db writer batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBWriterLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sari_dbwriter_task_latency_seconds",
			Help:    "Time between task enqueue and commit in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBWriterDropCriticalTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_dbwriter_drop_critical_total",
			Help: "Total number of tasks dropped after exceeding max_retries",
		},
	)

	// Search engine metrics
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sari_search_requests_total",
			Help: "Total number of search requests by engine mode",
		},
		[]string{"mode"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sari_search_duration_seconds",
			Help:    "Search request duration in seconds by engine mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	EngineFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sari_engine_fallback_total",
			Help: "Total number of engine downgrade events by reason",
		},
		[]string{"reason"},
	)

	// Scheduling coordinator metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sari_scheduling_latency_seconds",
			Help:    "Time a task waited in the aging priority queue in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchThrottleEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_search_throttle_events_total",
			Help: "Total number of indexer yields triggered by search traffic",
		},
	)

	// Daemon registry metrics
	RegistryDaemonsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sari_registry_daemons_total",
			Help: "Total number of live daemons tracked in the registry",
		},
	)

	RegistryPromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sari_registry_promotions_total",
			Help: "Total number of candidate daemons promoted to active",
		},
	)

	RegistryRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sari_registry_rollbacks_total",
			Help: "Total number of deployment rollbacks by reason",
		},
		[]string{"reason"},
	)

	// HTTP API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sari_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sari_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(RootsTotal)
	prometheus.MustRegister(FilesTotal)
	prometheus.MustRegister(SymbolsTotal)
	prometheus.MustRegister(CoalesceMapSize)
	prometheus.MustRegister(CoalesceDropDegradedTotal)
	prometheus.MustRegister(IndexerClassifiedTotal)
	prometheus.MustRegister(IndexerRetriesTotal)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(ParseDuration)
	prometheus.MustRegister(ParseTimeoutsTotal)
	prometheus.MustRegister(ParseErrorsTotal)
	prometheus.MustRegister(DBWriterBatchDuration)
	prometheus.MustRegister(DBWriterLatency)
	prometheus.MustRegister(DBWriterDropCriticalTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(EngineFallbackTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(SearchThrottleEventsTotal)
	prometheus.MustRegister(RegistryDaemonsTotal)
	prometheus.MustRegister(RegistryPromotionsTotal)
	prometheus.MustRegister(RegistryRollbacksTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
