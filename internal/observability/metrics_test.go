package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/tickets", "GET", 200, time.Millisecond)
	m.RecordError("/tickets", "GET", "NOT_FOUND")
	m.RecordRetry("move")
	m.RecordMove("executed")
	m.RecordAuditDivergence()
	m.RecordRepair(true)
	m.SetSLACounts(map[string]map[string]int{"Reparacion": {"ok": 1}})
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestMetricsRecordsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/tickets", "GET", 200, 5*time.Millisecond)
	m.RecordRequest("/tickets", "GET", 200, 5*time.Millisecond)
	m.RecordMove("blocked")
	m.RecordAuditDivergence()

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/tickets", "GET", "200")); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.moves.WithLabelValues("blocked")); got != 1 {
		t.Fatalf("expected 1 blocked move, got %v", got)
	}
	if got := testutil.ToFloat64(m.auditDivergence); got != 1 {
		t.Fatalf("expected 1 divergence, got %v", got)
	}
}

func TestSetSLACountsReplacesPreviousSweep(t *testing.T) {
	m := NewMetrics()
	m.SetSLACounts(map[string]map[string]int{"Reparacion": {"danger": 3}})
	m.SetSLACounts(map[string]map[string]int{"Caja Despacho": {"ok": 2}})

	if got := testutil.CollectAndCount(m.slaTickets); got != 1 {
		t.Fatalf("expected one series after reset, got %d", got)
	}
	if got := testutil.ToFloat64(m.slaTickets.WithLabelValues("Caja Despacho", "ok")); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}
