package sla

import (
	"testing"
	"time"

	"github.com/tallerflow/ticket-service/internal/domain"
)

var table = domain.SLATable{
	"Reparacion":    72 * time.Hour,
	"Caja Despacho": 24 * time.Hour,
}

func ticketIn(area domain.Area, movedAt time.Time) domain.Ticket {
	return domain.Ticket{
		CurrentArea:   area,
		CreatedAt:     movedAt.Add(-240 * time.Hour),
		MovedToAreaAt: &movedAt,
	}
}

func TestCalculateThresholds(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	limit := table["Caja Despacho"]
	ticket := ticketIn("Caja Despacho", start)

	cases := []struct {
		elapsed time.Duration
		want    Status
	}{
		{0, StatusOK},
		{time.Duration(0.5 * float64(limit)), StatusOK},
		{time.Duration(0.8 * float64(limit)), StatusOK},
		{time.Duration(0.81 * float64(limit)), StatusWarning},
		{limit, StatusWarning},
		{time.Duration(1.01 * float64(limit)), StatusDanger},
	}
	for _, tc := range cases {
		got := Calculate(ticket, table, start.Add(tc.elapsed))
		if got.Status != tc.want {
			t.Fatalf("elapsed %s: want %s, got %s", tc.elapsed, tc.want, got.Status)
		}
		if got.Limit != limit {
			t.Fatalf("unexpected limit %s", got.Limit)
		}
	}
}

func TestCalculateIsMonotonic(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	ticket := ticketIn("Reparacion", start)
	rank := map[Status]int{StatusOK: 0, StatusWarning: 1, StatusDanger: 2}

	prev := StatusOK
	for step := time.Duration(0); step <= 100*time.Hour; step += 15 * time.Minute {
		got := Calculate(ticket, table, start.Add(step)).Status
		if rank[got] < rank[prev] {
			t.Fatalf("status went from %s back to %s at %s", prev, got, step)
		}
		if rank[got]-rank[prev] > 1 {
			t.Fatalf("status skipped from %s to %s at %s", prev, got, step)
		}
		prev = got
	}
	if prev != StatusDanger {
		t.Fatalf("expected danger at the end, got %s", prev)
	}
}

func TestCalculateOverdueRemainingIsNegative(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	ticket := ticketIn("Caja Despacho", start)

	got := Calculate(ticket, table, start.Add(30*time.Hour))
	if got.Status != StatusDanger {
		t.Fatalf("expected danger, got %s", got.Status)
	}
	if got.Remaining != -6*time.Hour {
		t.Fatalf("expected -6h remaining, got %s", got.Remaining)
	}
}

func TestCalculateFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	ticket := domain.Ticket{CurrentArea: "Caja Despacho", CreatedAt: created}

	got := Calculate(ticket, table, created.Add(2*time.Hour))
	if got.Elapsed != 2*time.Hour || got.Remaining != 22*time.Hour {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestCalculateWithoutLimitIsNotApplicable(t *testing.T) {
	start := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	ticket := ticketIn("Listo Venta", start)

	got := Calculate(ticket, table, start.Add(1000*time.Hour))
	if got != (Result{Status: StatusNotApplicable}) {
		t.Fatalf("expected zero na result, got %+v", got)
	}
}
