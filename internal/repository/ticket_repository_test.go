package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/store"
)

func TestTicketRepositoryRoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC))
	s := store.NewMemory(clk)
	repo := NewTicketRepository(s)
	ctx := context.Background()

	ticket := &domain.Ticket{
		TicketID:    "25-0007",
		BatchID:     "L002",
		CurrentArea: "Reparacion",
		Status:      domain.TicketStatusActive,
		CreatedAt:   clk.Now(),
		QAProgress:  40,
		Fields:      map[string]any{"model": "T480"},
	}
	if err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return repo.Create(tx, ticket)
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.ID == "" {
		t.Fatalf("expected id to be assigned")
	}

	got, err := repo.Get(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != ticket.ID || got.TicketID != "25-0007" || got.QAProgress != 40 || got.Fields["model"] != "T480" {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	if got.History == nil || len(got.History) != 0 {
		t.Fatalf("expected empty history array, got %#v", got.History)
	}

	area := domain.Area("Reparacion")
	list, err := repo.ListWithFilter(ctx, TicketFilter{Area: &area})
	if err != nil || len(list) != 1 {
		t.Fatalf("list by area: %v %d", err, len(list))
	}
	other := domain.Area("Compras")
	list, err = repo.ListWithFilter(ctx, TicketFilter{Area: &other})
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no tickets in Compras: %v %d", err, len(list))
	}
}

func TestTicketRepositoryMissing(t *testing.T) {
	s := store.NewMemory(clock.System{})
	_, err := NewTicketRepository(s).Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestHistoryRepositoryOrdersByServerTimestamp(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC))
	s := store.NewMemory(clk)
	history := NewTicketHistoryRepository(s)
	ctx := context.Background()

	// client clocks disagree with commit order; the server timestamp wins
	clientTimes := []time.Time{clk.Now().Add(time.Hour), clk.Now().Add(-time.Hour)}
	for i, id := range []string{"b", "a"} {
		ct := clientTimes[i]
		err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			return history.Create(tx, "t1", domain.HistoryEntry{ID: id, Action: domain.ActionUpdate, ClientTimestamp: &ct})
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		clk.Advance(time.Second)
	}

	entries, err := history.ListByTicket(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "b" || entries[1].ID != "a" {
		t.Fatalf("unexpected order: %+v", entries)
	}
	if entries[0].Details == nil {
		t.Fatalf("expected non-nil details")
	}
}

func TestSortHistoryTieBreaks(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	early, late := ts.Add(-time.Second), ts.Add(time.Second)
	entries := []domain.HistoryEntry{
		{ID: "c", Timestamp: ts, ClientTimestamp: &late},
		{ID: "b", Timestamp: ts, ClientTimestamp: &early},
		{ID: "a", Timestamp: ts, ClientTimestamp: &early},
	}
	SortHistory(entries)
	if entries[0].ID != "a" || entries[1].ID != "b" || entries[2].ID != "c" {
		t.Fatalf("unexpected order: %s %s %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestTranslateError(t *testing.T) {
	exhausted := &store.RetriesExhaustedError{Attempts: 3, Err: store.ErrConflict}
	err := TranslateError(exhausted)
	if !errors.Is(err, domain.ErrTransactionConflict) || !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict chain, got %v", err)
	}
	if TranslateError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	plain := errors.New("boom")
	if TranslateError(plain) != plain {
		t.Fatalf("unrelated errors pass through")
	}
}
