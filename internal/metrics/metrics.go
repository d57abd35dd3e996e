// Package metrics exposes Prometheus metrics for the news pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for every pipeline stage.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	registry *prometheus.Registry

	rawIngestedTotal     *prometheus.CounterVec
	dedupResultsTotal    *prometheus.CounterVec
	scoreDecisionsTotal  *prometheus.CounterVec
	queueSyncedTotal     prometheus.Counter
	enrichmentsTotal     *prometheus.CounterVec
	adapterDuration      prometheus.Histogram
	publishFailuresTotal *prometheus.CounterVec
	backlogGauge         *prometheus.GaugeVec
}

// NewPipelineMetrics creates and registers new pipeline metrics
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry the metrics are registered with.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *PipelineMetrics) initMetrics() {
	m.rawIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_raw_ingested_total",
			Help: "Total number of messages written to the raw store",
		},
		[]string{"chat_id"},
	)

	m.dedupResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_dedup_results_total",
			Help: "Total number of duplicate checks by result",
		},
		[]string{"result"}, // result: duplicate, unique
	)

	m.scoreDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_score_decisions_total",
			Help: "Total number of scored messages by decision",
		},
		[]string{"decision"},
	)

	m.queueSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsdesk_queue_synced_total",
			Help: "Total number of scored items added to the enrichment queue",
		},
	)

	m.enrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_enrichments_total",
			Help: "Total number of processed queue items by outcome",
		},
		[]string{"outcome"}, // outcome: completed, failed, skipped, released
	)

	m.adapterDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "newsdesk_adapter_duration_seconds",
			Help: "Time taken by AI adapter calls",
			// 250ms to ~2 minutes
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	m.publishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_publish_failures_total",
			Help: "Total number of publication failures by step",
		},
		[]string{"step"}, // step: final, broadcast
	)

	m.backlogGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsdesk_backlog",
			Help: "Items waiting at each pipeline stage",
		},
		[]string{"stage"},
	)
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.rawIngestedTotal.Describe(ch)
	m.dedupResultsTotal.Describe(ch)
	m.scoreDecisionsTotal.Describe(ch)
	m.queueSyncedTotal.Describe(ch)
	m.enrichmentsTotal.Describe(ch)
	m.adapterDuration.Describe(ch)
	m.publishFailuresTotal.Describe(ch)
	m.backlogGauge.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.rawIngestedTotal.Collect(ch)
	m.dedupResultsTotal.Collect(ch)
	m.scoreDecisionsTotal.Collect(ch)
	m.queueSyncedTotal.Collect(ch)
	m.enrichmentsTotal.Collect(ch)
	m.adapterDuration.Collect(ch)
	m.publishFailuresTotal.Collect(ch)
	m.backlogGauge.Collect(ch)
}

func (m *PipelineMetrics) RecordRawIngested(chatID string) {
	if m == nil {
		return
	}
	m.rawIngestedTotal.WithLabelValues(chatID).Inc()
}

func (m *PipelineMetrics) RecordDedup(duplicate bool) {
	if m == nil {
		return
	}
	result := "unique"
	if duplicate {
		result = "duplicate"
	}
	m.dedupResultsTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) RecordScore(decision string) {
	if m == nil {
		return
	}
	if decision == "" {
		decision = "none"
	}
	m.scoreDecisionsTotal.WithLabelValues(decision).Inc()
}

func (m *PipelineMetrics) RecordQueueSynced(n int) {
	if m == nil {
		return
	}
	m.queueSyncedTotal.Add(float64(n))
}

// RecordEnrichment counts a processed item. A zero latency means the
// adapter was never called.
func (m *PipelineMetrics) RecordEnrichment(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.enrichmentsTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		m.adapterDuration.Observe(latency.Seconds())
	}
}

func (m *PipelineMetrics) RecordPublishFailure(step string) {
	if m == nil {
		return
	}
	m.publishFailuresTotal.WithLabelValues(step).Inc()
}

// SetBacklog updates the backlog gauges from a stage->count map.
func (m *PipelineMetrics) SetBacklog(counts map[string]int64) {
	if m == nil {
		return
	}
	for stage, n := range counts {
		m.backlogGauge.WithLabelValues(stage).Set(float64(n))
	}
}
