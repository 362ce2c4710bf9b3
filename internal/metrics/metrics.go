// Package metrics provides Prometheus metrics for the version store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics the engine exposes. Each
// instance owns its own registry rather than registering against
// prometheus.DefaultRegisterer, so multiple Metrics can coexist in the
// same process (agents under test, in particular) without colliding on
// duplicate collector names.
type Metrics struct {
	registry *prometheus.Registry

	// Protocol metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Pipeline metrics
	PipelineOperationsTotal   *prometheus.CounterVec
	PipelineOperationDuration *prometheus.HistogramVec
	PipelineBytesTotal        *prometheus.CounterVec

	// Dedup store metrics
	DedupObjectsTotal prometheus.Gauge
	DedupBytesSaved   prometheus.Gauge
	DedupHitsTotal    prometheus.Counter
	DedupMissesTotal  prometheus.Counter

	// Delta sync metrics
	DeltaTransfersTotal *prometheus.CounterVec
	DeltaTransferBytes  prometheus.Histogram
	DeltaAdoptionRatio  prometheus.Histogram

	// Catalog metrics
	CatalogQueryDuration       *prometheus.HistogramVec
	CatalogTransactionsTotal   *prometheus.CounterVec
	CatalogTransactionDuration prometheus.Histogram

	// Garbage collection metrics
	GCRunsTotal    prometheus.Counter
	GCBlobsDeleted prometheus.Counter
	GCBytesFreed   prometheus.Counter
	GCDuration     prometheus.Histogram
	GCOrphanBlobs  prometheus.Gauge
	GCLastRunTime  prometheus.Gauge

	// Retention metrics
	RetentionPrunedTotal prometheus.Counter
	RetentionRunsTotal   prometheus.Counter
	RetentionDuration    prometheus.Histogram
}

const namespace = "vstore"

// New creates a fresh registry and registers all Prometheus metrics
// against it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		CommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "commands_total",
				Help:      "Total number of protocol commands handled.",
			},
			[]string{"cmd", "status"},
		),
		CommandDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "agent",
				Name:      "command_duration_seconds",
				Help:      "Protocol command handling duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"cmd"},
		),

		PipelineOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operations_total",
				Help:      "Total number of pipeline operations (save/restore/delete).",
			},
			[]string{"operation", "status"},
		),
		PipelineOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "operation_duration_seconds",
				Help:      "Pipeline operation duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		PipelineBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "bytes_total",
				Help:      "Total plaintext bytes processed by the pipeline.",
			},
			[]string{"operation"},
		),

		DedupObjectsTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "objects_total",
				Help:      "Current number of unique objects in the dedup store.",
			},
		),
		DedupBytesSaved: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "bytes_saved",
				Help:      "Estimated bytes saved by deduplication.",
			},
		),
		DedupHitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "hits_total",
				Help:      "Total number of dedup lookups that found an existing object.",
			},
		),
		DedupMissesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "misses_total",
				Help:      "Total number of dedup lookups that found no existing object.",
			},
		),

		DeltaTransfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delta",
				Name:      "transfers_total",
				Help:      "Total number of delta transfers, by whether the delta was adopted.",
			},
			[]string{"adopted"},
		),
		DeltaTransferBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "delta",
				Name:      "transfer_bytes",
				Help:      "Size of the wire transfer for an adopted delta.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
		),
		DeltaAdoptionRatio: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "delta",
				Name:      "adoption_ratio",
				Help:      "Fraction of original size saved by an adopted delta.",
				Buckets:   []float64{.1, .25, .5, .75, .9, .95, .99},
			},
		),

		CatalogQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "query_duration_seconds",
				Help:      "Catalog query duration in seconds.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query"},
		),
		CatalogTransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "transactions_total",
				Help:      "Total number of catalog transactions.",
			},
			[]string{"status"},
		),
		CatalogTransactionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "catalog",
				Name:      "transaction_duration_seconds",
				Help:      "Catalog transaction duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		GCRunsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "runs_total",
				Help:      "Total number of garbage collection runs.",
			},
		),
		GCBlobsDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "blobs_deleted_total",
				Help:      "Total number of blobs deleted by garbage collection.",
			},
		),
		GCBytesFreed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "bytes_freed_total",
				Help:      "Total bytes freed by garbage collection.",
			},
		),
		GCDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "duration_seconds",
				Help:      "Garbage collection run duration in seconds.",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		GCOrphanBlobs: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "orphan_blobs",
				Help:      "Current number of orphan blobs found by the last GC run.",
			},
		),
		GCLastRunTime: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "last_run_timestamp_seconds",
				Help:      "Timestamp of the last garbage collection run.",
			},
		),

		RetentionPrunedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "pruned_versions_total",
				Help:      "Total number of versions pruned by retention.",
			},
		),
		RetentionRunsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "runs_total",
				Help:      "Total number of retention runs.",
			},
		),
		RetentionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retention",
				Name:      "duration_seconds",
				Help:      "Retention run duration in seconds.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler for this instance's
// registry, served on the debug listener at cfg.MetricsAddr by
// cmd/vstore-agent.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCommand records one protocol command's outcome and latency.
func (m *Metrics) RecordCommand(cmd, status string, duration float64) {
	m.CommandsTotal.WithLabelValues(cmd, status).Inc()
	m.CommandDuration.WithLabelValues(cmd).Observe(duration)
}

// RecordPipelineOperation records one pipeline operation's outcome,
// latency, and the plaintext bytes it moved.
func (m *Metrics) RecordPipelineOperation(operation, status string, duration float64, bytes int64) {
	m.PipelineOperationsTotal.WithLabelValues(operation, status).Inc()
	m.PipelineOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.PipelineBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordDedupLookup records a dedup store hit or miss.
func (m *Metrics) RecordDedupLookup(hit bool) {
	if hit {
		m.DedupHitsTotal.Inc()
	} else {
		m.DedupMissesTotal.Inc()
	}
}

// RecordDeltaTransfer records whether a computed delta was adopted, and
// if so its wire size and the fraction of the original it saved.
func (m *Metrics) RecordDeltaTransfer(adopted bool, transferBytes int64, originalSize int64) {
	label := "false"
	if adopted {
		label = "true"
		m.DeltaTransferBytes.Observe(float64(transferBytes))
		if originalSize > 0 {
			m.DeltaAdoptionRatio.Observe(1 - float64(transferBytes)/float64(originalSize))
		}
	}
	m.DeltaTransfersTotal.WithLabelValues(label).Inc()
}

// RecordGCRun records one garbage collection run's outcome.
func (m *Metrics) RecordGCRun(duration float64, blobsDeleted int, bytesFreed int64, orphansFound int) {
	m.GCRunsTotal.Inc()
	m.GCDuration.Observe(duration)
	m.GCBlobsDeleted.Add(float64(blobsDeleted))
	m.GCBytesFreed.Add(float64(bytesFreed))
	m.GCOrphanBlobs.Set(float64(orphansFound))
}

// RecordRetentionRun records one retention run's outcome.
func (m *Metrics) RecordRetentionRun(duration float64, pruned int) {
	m.RetentionRunsTotal.Inc()
	m.RetentionDuration.Observe(duration)
	m.RetentionPrunedTotal.Add(float64(pruned))
}
