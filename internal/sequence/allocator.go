// Package sequence mints human-readable ticket and batch identifiers from
// counters held in the document store.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/store"
)

// CountersCollection holds one document per allocation domain.
const CountersCollection = "counters"

// Allocator issues identifiers. It keeps no state of its own: every call reads
// and rewrites the counter inside the caller's transaction, so concurrent
// callers are serialized by the store's conflict detection.
type Allocator struct {
	clock    clock.Clock
	location *time.Location
}

// NewAllocator builds an allocator. loc decides which calendar year a ticket
// prefix belongs to; nil means UTC.
func NewAllocator(c clock.Clock, loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{clock: c, location: loc}
}

// CounterRef addresses the counter document for d.
func CounterRef(d domain.CounterDomain) store.Ref {
	return store.Doc(CountersCollection, string(d))
}

// Allocate reserves count consecutive identifiers for d. It must run before
// any write in tx.
func (a *Allocator) Allocate(ctx context.Context, tx store.Tx, d domain.CounterDomain, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: allocation count must be at least 1, got %d", domain.ErrValidation, count)
	}

	ref := CounterRef(d)
	snap, err := tx.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var current domain.Counter
	if snap.Exists {
		if err := snap.DataTo(&current); err != nil {
			return nil, fmt.Errorf("sequence: decode %s counter: %w", d, err)
		}
	}

	var (
		ids  []string
		next domain.Counter
	)
	switch d {
	case domain.CounterTickets:
		prefix := a.YearPrefix()
		start := current.Count
		if !snap.Exists || current.Prefix != prefix {
			start = 0
		}
		next = domain.Counter{Count: start + int64(count), Prefix: prefix}
		ids = make([]string, 0, count)
		for seq := start + 1; seq <= next.Count; seq++ {
			ids = append(ids, FormatTicketID(prefix, seq))
		}
	case domain.CounterBatches:
		next = domain.Counter{Count: current.Count + int64(count)}
		ids = make([]string, 0, count)
		for seq := current.Count + 1; seq <= next.Count; seq++ {
			ids = append(ids, FormatBatchID(seq))
		}
	default:
		return nil, fmt.Errorf("%w: unknown counter domain %q", domain.ErrValidation, d)
	}

	doc, err := store.Encode(next)
	if err != nil {
		return nil, err
	}
	if err := tx.Set(ref, doc); err != nil {
		return nil, err
	}
	return ids, nil
}

// YearPrefix is the two-digit year of the allocator's current time.
func (a *Allocator) YearPrefix() string {
	return fmt.Sprintf("%02d", a.clock.Now().In(a.location).Year()%100)
}

// FormatTicketID renders "YY-NNNN".
func FormatTicketID(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%04d", prefix, seq)
}

// FormatBatchID renders "LNNN".
func FormatBatchID(seq int64) string {
	return fmt.Sprintf("L%03d", seq)
}
