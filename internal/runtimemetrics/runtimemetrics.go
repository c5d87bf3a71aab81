// Package runtimemetrics exposes the dispatch pipeline and cache
// controller's internal state as Prometheus metrics.
package runtimemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LatestProcessedHeight is the dispatcher's watermark of last-indexed height.
	LatestProcessedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_latest_processed_height",
		Help: "Height of the last block the dispatcher finished indexing",
	})

	// LatestBufferedHeight is the dispatcher's watermark of last-fetched height.
	LatestBufferedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_latest_buffered_height",
		Help: "Height of the last block fetched into the dispatch queue",
	})

	// LatestFinalisedHeight is the dispatcher's watermark of last-finalised height.
	LatestFinalisedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_latest_finalised_height",
		Help: "Height of the last block considered final by the source chain",
	})

	// QueueSize tracks the block dispatch queue's occupied slots.
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_dispatch_queue_size",
		Help: "Number of blocks currently buffered in the dispatch queue",
	})

	// CachePendingRecords tracks the controller's summed flushable record count.
	CachePendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexer_cache_pending_records",
		Help: "Number of pending mutations across all cached entity and metadata models",
	})

	// FlushesTotal counts completed flush rounds.
	FlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_flushes_total",
		Help: "Total number of completed flush rounds",
	})

	// FlushDuration tracks flush round latency.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "indexer_flush_duration_seconds",
		Help:    "Duration of a flush round in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FlushedRecords tracks how many models were flushed per round.
	FlushedRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "indexer_flushed_models_per_round",
		Help:    "Number of cached models flushed in a single round",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})

	// FatalErrorsTotal counts dispatcher-fatal errors surfaced from indexing tasks.
	FatalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "indexer_fatal_errors_total",
		Help: "Total number of fatal errors surfaced from the dispatch pipeline",
	})
)

// Sink adapts the metrics above to the controller.EventSink /
// dispatch.EventSink contract, so a single Emit call keeps Prometheus
// and the Redis pub/sub sink in sync.
type Sink struct{}

// NewSink constructs a metrics-backed event sink.
func NewSink() *Sink { return &Sink{} }

// Emit updates the package-level metrics for the events the
// controller, dispatcher, and flush ticker actually publish.
func (s *Sink) Emit(event string, payload map[string]any) {
	switch event {
	case "flush.completed":
		FlushesTotal.Inc()
		if ms, ok := payload["durationMs"].(int64); ok {
			FlushDuration.Observe(float64(ms) / 1000)
		}
		if models, ok := payload["models"].(int); ok {
			FlushedRecords.Observe(float64(models))
		}
		if h, ok := payload["processedHeight"].(uint64); ok {
			LatestProcessedHeight.Set(float64(h))
		}
		if h, ok := payload["bufferedHeight"].(uint64); ok {
			LatestBufferedHeight.Set(float64(h))
		}
		if h, ok := payload["finalisedHeight"].(uint64); ok {
			LatestFinalisedHeight.Set(float64(h))
		}
	case "queue.size":
		if buffered, ok := payload["buffered"].(int); ok {
			QueueSize.Set(float64(buffered))
		}
	case "cache.pendingCount":
		if pending, ok := payload["pending"].(int); ok {
			CachePendingRecords.Set(float64(pending))
		}
	case "pipeline.fatal":
		FatalErrorsTotal.Inc()
	}
}
