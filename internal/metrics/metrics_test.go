package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *PipelineMetrics
	m.RecordRawIngested("c")
	m.RecordDedup(true)
	m.RecordScore("keep")
	m.RecordQueueSynced(3)
	m.RecordEnrichment("completed", time.Second)
	m.RecordPublishFailure("broadcast")
	m.SetBacklog(map[string]int64{"ai_pending": 1})
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewPipelineMetrics(reg)
	if err != nil {
		t.Fatalf("NewPipelineMetrics: %v", err)
	}

	m.RecordDedup(true)
	m.RecordDedup(false)
	m.RecordDedup(false)
	m.RecordQueueSynced(4)
	m.RecordEnrichment("failed", 0)
	m.SetBacklog(map[string]int64{"ai_pending": 7})

	if got := testutil.ToFloat64(m.dedupResultsTotal.WithLabelValues("unique")); got != 2 {
		t.Errorf("unique = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueSyncedTotal); got != 4 {
		t.Errorf("synced = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.enrichmentsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.backlogGauge.WithLabelValues("ai_pending")); got != 7 {
		t.Errorf("backlog = %v, want 7", got)
	}

	if _, err := NewPipelineMetrics(reg); err == nil {
		t.Error("registering twice on one registry should fail")
	}
}
