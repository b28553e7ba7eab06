// Package metrics exposes Prometheus instrumentation for the indexer and
// query engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexer pipeline counters, mirroring Indexer.progress().
	MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gomu_indexer_processed_total",
		Help: "Total candidates handled by an indexer run (added, updated, skipped, or errored)",
	})

	MessagesUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gomu_indexer_updated_total",
		Help: "Total documents actually written by the committer",
	})

	MessagesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gomu_indexer_removed_total",
		Help: "Total documents removed by the cleanup pass",
	})

	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomu_parser_errors_total",
		Help: "Total per-file parse errors by error kind",
	}, []string{"kind"})

	BatchCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gomu_store_batch_commit_duration_seconds",
		Help:    "Time taken to commit one write batch to the store",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gomu_store_batch_retries_total",
		Help: "Total batch-write retries after excluding a failing document",
	})

	IndexerRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gomu_indexer_running",
		Help: "1 while an indexer run is in progress, 0 otherwise",
	})

	DocumentCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gomu_store_document_count",
		Help: "Current number of documents in the store",
	})

	// Query engine metrics.
	QueriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomu_query_executed_total",
		Help: "Total queries executed, by outcome",
	}, []string{"outcome"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gomu_query_duration_seconds",
		Help:    "Time taken to execute a query and materialize its first batch",
		Buckets: prometheus.DefBuckets,
	})

	// Errors records failures by component, for dashboards that bucket
	// across the whole pipeline.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gomu_errors_total",
		Help: "Total errors by component and type",
	}, []string{"component", "type"})
)

// RecordParseError increments the per-kind parse error counter and the
// general error counter.
func RecordParseError(kind string) {
	ParseErrors.WithLabelValues(kind).Inc()
	Errors.WithLabelValues("parser", kind).Inc()
}

// RecordQuery records a completed query execution and its duration.
func RecordQuery(outcome string, durationSeconds float64) {
	QueriesExecuted.WithLabelValues(outcome).Inc()
	QueryDuration.Observe(durationSeconds)
}

// RecordBatchCommit records a completed (possibly retried) batch commit.
func RecordBatchCommit(durationSeconds float64, retried bool) {
	BatchCommitDuration.Observe(durationSeconds)
	if retried {
		BatchRetries.Inc()
	}
}
