package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgErrorConflicts(t *testing.T) {
	for _, code := range []string{sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateUniqueViolation} {
		err := mapPgError(&pgconn.PgError{Code: code, Message: "could not serialize access"})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected %s to map to ErrConflict, got %v", code, err)
		}
	}
	other := &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}
	if err := mapPgError(other); errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected conflict mapping for %s", other.Code)
	}
	if mapPgError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

type fakeListener struct {
	notes    chan *pgconn.Notification
	released chan struct{}
}

func (l *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-l.notes:
		return n, nil
	}
}

func (l *fakeListener) Release() {
	close(l.released)
}

func TestPostgresSubscribersShareOneListener(t *testing.T) {
	p := NewPostgres(nil, nil)
	var (
		mu        sync.Mutex
		listeners []*fakeListener
	)
	p.listen = func(context.Context) (changeListener, error) {
		mu.Lock()
		defer mu.Unlock()
		l := &fakeListener{notes: make(chan *pgconn.Notification), released: make(chan struct{})}
		listeners = append(listeners, l)
		return l, nil
	}

	const subscribers = 25
	var (
		wg       sync.WaitGroup
		received atomic.Int32
		others   atomic.Int32
		cancels  []func()
	)
	wg.Add(subscribers)
	for i := 0; i < subscribers; i++ {
		cancel, err := p.Subscribe(context.Background(), "tickets", func(Change) {
			received.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		cancels = append(cancels, cancel)
	}
	cancelOther, err := p.Subscribe(context.Background(), "counters", func(Change) { others.Add(1) })
	if err != nil {
		t.Fatalf("subscribe counters: %v", err)
	}

	mu.Lock()
	if len(listeners) != 1 {
		mu.Unlock()
		t.Fatalf("expected one listening connection, got %d", len(listeners))
	}
	feed := listeners[0]
	mu.Unlock()

	feed.notes <- &pgconn.Notification{Channel: NotifyChannel, Payload: `{"ref":{"collection":"tickets","id":"t1"},"kind":"update"}`}
	wg.Wait()
	if received.Load() != subscribers || others.Load() != 0 {
		t.Fatalf("unexpected fan-out: tickets=%d counters=%d", received.Load(), others.Load())
	}

	for _, cancel := range cancels {
		cancel()
	}
	select {
	case <-feed.released:
		t.Fatalf("listener released while a subscriber remains")
	case <-time.After(20 * time.Millisecond):
	}
	cancelOther()
	select {
	case <-feed.released:
	case <-time.After(time.Second):
		t.Fatalf("listener not released after the last subscriber left")
	}

	cancel, err := p.Subscribe(context.Background(), "tickets", func(Change) {})
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer cancel()
	mu.Lock()
	defer mu.Unlock()
	if len(listeners) != 2 {
		t.Fatalf("expected a fresh listener after the feed stopped, got %d", len(listeners))
	}
}
