package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the rollup engine.
type Metrics struct {
	// Engine
	BatchesProcessed *prometheus.CounterVec
	BatchFailures    *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	DealsAbsorbed    *prometheus.CounterVec
	DealsSkipped     *prometheus.CounterVec
	RowsEmitted      *prometheus.CounterVec
	PartitionSize    *prometheus.HistogramVec
	LatestCursor     *prometheus.GaugeVec

	// Store
	StoreAppendDuration *prometheus.HistogramVec
	StoreAppendErrors   *prometheus.CounterVec
	CacheHits           *prometheus.CounterVec
	CacheMisses         *prometheus.CounterVec

	// Ingestion & publishing
	IngestBatches     *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec
	IngestNaks        *prometheus.CounterVec
	PublishedRows     *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

var latencyBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		BatchesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_batches_processed_total",
			Help: "Deal batches folded successfully",
		}, []string{"rollup"}),

		BatchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_batch_failures_total",
			Help: "Deal batches rejected (malformed input, transition error, store error)",
		}, []string{"rollup", "reason"}),

		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollup_batch_duration_seconds",
			Help:    "Time to fold one batch through one rollup",
			Buckets: latencyBuckets,
		}, []string{"rollup"}),

		DealsAbsorbed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_deals_absorbed_total",
			Help: "Deals folded into state",
		}, []string{"rollup"}),

		DealsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_deals_skipped_total",
			Help: "Deals skipped as already absorbed (deal_id at or below cursor)",
		}, []string{"rollup"}),

		RowsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_rows_emitted_total",
			Help: "State rows emitted",
		}, []string{"rollup"}),

		PartitionSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollup_partition_size",
			Help:    "Deals per grouping-key partition within a batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"rollup"}),

		LatestCursor: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rollup_latest_cursor",
			Help: "Highest deal_id absorbed, per rollup",
		}, []string{"rollup"}),

		StoreAppendDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollup_store_append_duration_seconds",
			Help:    "State store append latency",
			Buckets: latencyBuckets,
		}, []string{"rollup"}),

		StoreAppendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_store_append_errors_total",
			Help: "State store append failures",
		}, []string{"rollup"}),

		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_cache_hits_total",
			Help: "Redis latest-row cache hits",
		}, []string{"rollup"}),

		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_cache_misses_total",
			Help: "Redis latest-row cache misses",
		}, []string{"rollup"}),

		IngestBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_ingest_batches_total",
			Help: "Inbound message batches by subject",
		}, []string{"subject"}),

		IngestParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_ingest_parse_errors_total",
			Help: "Inbound messages rejected at decode",
		}, []string{"subject"}),

		IngestNaks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_ingest_naks_total",
			Help: "Messages negatively acknowledged for redelivery",
		}, []string{"subject"}),

		PublishedRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_published_rows_total",
			Help: "Rows published to outbound subjects",
		}, []string{"rollup"}),

		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_publish_errors_total",
			Help: "Outbound publish failures",
		}, []string{"rollup"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_query_requests_total",
			Help: "Read API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollup_query_duration_seconds",
			Help:    "Read API request latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rollup_query_errors_total",
			Help: "Read API errors",
		}, []string{"endpoint", "reason"}),
	}
}
