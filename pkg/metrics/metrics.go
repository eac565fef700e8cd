package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream registry (C4) gauges
	StreamsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_streams_total",
			Help: "Total number of registered streams by tenant",
		},
		[]string{"tenant"},
	)

	WatermarkLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_watermark_lag",
			Help: "Sum of current_version minus watermark over a tenant's streams",
		},
		[]string{"tenant"},
	)

	// WAL (C2) gauges
	WalSegmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_wal_segments_total",
			Help: "Total number of on-disk WAL segments by partition",
		},
		[]string{"partition"},
	)

	// In-memory index (C5) gauges
	IndexShardDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_index_shard_depth",
			Help: "Number of entries in an index by WAL partition",
		},
		[]string{"index", "shard"},
	)

	// Compactor (C11) gauges
	CompactionBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventcore_compaction_backlog",
			Help: "Number of columnar partition groups over the compaction threshold on the last cycle",
		},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_compactions_total",
			Help: "Total number of compaction runs by outcome",
		},
		[]string{"outcome"},
	)

	// Tenant accounting (C12) gauges
	TenantQuotaUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventcore_tenant_quota_usage_ratio",
			Help: "Fraction of quota consumed by tenant and resource",
		},
		[]string{"tenant", "resource"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventcore_rate_limited_total",
			Help: "Total number of requests rejected by the tenant rate limiter",
		},
		[]string{"tenant", "op"},
	)

	// Per-operation histograms (C6/C7/C8)
	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_ingest_duration_seconds",
			Help:    "Time taken to ingest a single event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	IngestBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_ingest_batch_duration_seconds",
			Help:    "Time taken to ingest a batch of events",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_query_duration_seconds",
			Help:    "Time taken to execute a query",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "kind"},
	)

	FoldDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_fold_duration_seconds",
			Help:    "Time taken to fold events into a reconstructed state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant"},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventcore_snapshot_duration_seconds",
			Help:    "Time taken to write a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventcore_columnar_flush_duration_seconds",
			Help:    "Time taken to flush a partition's row buffer to a columnar file",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"partition"},
	)
)

func init() {
	prometheus.MustRegister(StreamsTotal)
	prometheus.MustRegister(WatermarkLag)
	prometheus.MustRegister(WalSegmentsTotal)
	prometheus.MustRegister(IndexShardDepth)
	prometheus.MustRegister(CompactionBacklog)
	prometheus.MustRegister(CompactionsTotal)
	prometheus.MustRegister(TenantQuotaUsage)
	prometheus.MustRegister(RateLimitedTotal)

	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(IngestBatchDuration)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(FoldDuration)
	prometheus.MustRegister(SnapshotDuration)
	prometheus.MustRegister(FlushDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
