package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tallerflow/ticket-service/internal/clock"
)

func newTestMemory() (*Memory, *clock.Fake) {
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemory(c), c
}

func TestMemorySetGetNormalisesValues(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	ref := Doc("tickets", "a")

	type payload struct {
		Count int `json:"count"`
	}
	if err := m.Set(ctx, ref, Document{"n": 3, "nested": payload{Count: 2}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, err := m.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !snap.Exists {
		t.Fatalf("expected document to exist")
	}
	if snap.Data["n"] != float64(3) {
		t.Fatalf("expected float64 3, got %#v", snap.Data["n"])
	}
	nested, ok := snap.Data["nested"].(map[string]any)
	if !ok || nested["count"] != float64(2) {
		t.Fatalf("expected nested map, got %#v", snap.Data["nested"])
	}
}

func TestMemoryGetMissing(t *testing.T) {
	m, _ := newTestMemory()
	snap, err := m.Get(context.Background(), Doc("tickets", "missing"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Exists {
		t.Fatalf("expected missing document")
	}
}

func TestMemoryUpdateDotPath(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	ref := Doc("tickets", "a")
	if err := m.Set(ctx, ref, Document{"fields": map[string]any{"brand": "acme"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Update(ctx, ref, map[string]any{"fields.price": 120, "status": "Active"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := m.Get(ctx, ref)
	fields := snap.Data["fields"].(map[string]any)
	if fields["brand"] != "acme" || fields["price"] != float64(120) {
		t.Fatalf("unexpected fields: %#v", fields)
	}
	if snap.Data["status"] != "Active" {
		t.Fatalf("unexpected status: %#v", snap.Data["status"])
	}
}

func TestMemoryUpdateMissingDocument(t *testing.T) {
	m, _ := newTestMemory()
	err := m.Update(context.Background(), Doc("tickets", "nope"), map[string]any{"a": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryServerTimestamp(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory()
	ref := Doc("tickets", "a")
	if err := m.Set(ctx, ref, Document{"at": ServerTimestamp}); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, _ := m.Get(ctx, ref)
	if snap.Data["at"] != FormatTimestamp(c.Now()) {
		t.Fatalf("expected server timestamp %s, got %#v", FormatTimestamp(c.Now()), snap.Data["at"])
	}
}

func TestMemoryTransactionConflict(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	ref := Doc("counters", "tickets")
	if err := m.Set(ctx, ref, Document{"count": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		// a concurrent writer commits between our read and our commit
		if err := m.Set(ctx, ref, Document{"count": 5}); err != nil {
			return err
		}
		return tx.Update(ref, map[string]any{"count": 2})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	snap, _ := m.Get(ctx, ref)
	if snap.Data["count"] != float64(5) {
		t.Fatalf("conflicting commit must not apply, got %#v", snap.Data["count"])
	}
}

func TestMemoryTransactionConflictOnCreatedDocument(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	ref := Doc("counters", "batches")

	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if snap.Exists {
			t.Fatalf("expected missing counter")
		}
		if err := m.Set(ctx, ref, Document{"count": 1}); err != nil {
			return err
		}
		return tx.Set(ref, Document{"count": 1})
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when a read-absent document appears, got %v", err)
	}
}

func TestMemoryReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	ref := Doc("tickets", "a")
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Set(ref, Document{"a": 1}); err != nil {
			return err
		}
		_, err := tx.Get(ctx, ref)
		return err
	})
	if !errors.Is(err, ErrReadAfterWrite) {
		t.Fatalf("expected ErrReadAfterWrite, got %v", err)
	}
}

func TestMemoryTransactionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	err := m.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Set(Doc("tickets", "a"), Document{"a": 1}); err != nil {
			return err
		}
		return tx.Update(Doc("tickets", "missing"), map[string]any{"b": 2})
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snap, _ := m.Get(ctx, Doc("tickets", "a"))
	if snap.Exists {
		t.Fatalf("partial transaction must not be visible")
	}
}

func TestMemoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory()
	docs := map[string]Document{
		"1": {"currentArea": "Compras", "status": "Active", "qa": 10},
		"2": {"currentArea": "Reparacion", "status": "Active", "qa": 10},
		"3": {"currentArea": "Compras", "status": "Deleted", "qa": 10},
	}
	for id, doc := range docs {
		if err := m.Set(ctx, Doc("tickets", id), doc); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	got, err := m.Query(ctx, "tickets", Where("currentArea", "Compras"), Where("status", "Active"), Where("qa", 10))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Ref.ID != "1" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestMemorySubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m, _ := newTestMemory()

	var (
		mu      sync.Mutex
		changes []Change
	)
	stop, err := m.Subscribe(ctx, "tickets", func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = m.Set(ctx, Doc("tickets", "a"), Document{"a": 1})
	_ = m.Set(ctx, Doc("counters", "tickets"), Document{"count": 1})
	stop()
	_ = m.Set(ctx, Doc("tickets", "b"), Document{"b": 1})

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].Ref.ID != "a" || changes[0].Kind != ChangeSet {
		t.Fatalf("unexpected changes: %+v", changes)
	}
}

func TestRefChild(t *testing.T) {
	ref := Doc("tickets", "abc").Child("history", "h1")
	if ref.Collection != "tickets/abc/history" || ref.ID != "h1" {
		t.Fatalf("unexpected child ref: %+v", ref)
	}
}
