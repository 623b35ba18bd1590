package repository

import (
	"context"
	"sort"
	"time"

	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/store"
)

// HistoryCollection is the per-ticket subcollection holding audit entries.
const HistoryCollection = "history"

// TicketHistoryRepository stores audit entries in each ticket's history
// subcollection.
type TicketHistoryRepository interface {
	Create(tx store.Tx, ticketID string, entry domain.HistoryEntry) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error)
}

type ticketHistoryRepository struct {
	store store.Store
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(s store.Store) TicketHistoryRepository {
	return &ticketHistoryRepository{store: s}
}

// Create stages entry with a server-assigned timestamp. entry.Timestamp is
// ignored; entry.ClientTimestamp is kept for reconciliation.
func (r *ticketHistoryRepository) Create(tx store.Tx, ticketID string, entry domain.HistoryEntry) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	doc := store.Document{
		"id":        entry.ID,
		"action":    string(entry.Action),
		"area":      string(entry.Area),
		"userId":    entry.UserID,
		"timestamp": store.ServerTimestamp,
		"details":   details,
	}
	if entry.ClientTimestamp != nil {
		doc["clientTimestamp"] = store.FormatTimestamp(*entry.ClientTimestamp)
	}
	ref := store.Doc(TicketsCollection, ticketID).Child(HistoryCollection, entry.ID)
	return tx.Set(ref, doc)
}

// ListByTicket returns the ticket's entries ordered by server timestamp, then
// client timestamp, then id.
func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	collection := store.Doc(TicketsCollection, ticketID).ChildCollection(HistoryCollection)
	snaps, err := r.store.Query(ctx, collection)
	if err != nil {
		return nil, err
	}

	result := make([]domain.HistoryEntry, 0, len(snaps))
	for _, snap := range snaps {
		var entry domain.HistoryEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, err
		}
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		result = append(result, entry)
	}
	SortHistory(result)
	return result, nil
}

// SortHistory orders entries chronologically with deterministic tie-breaks.
func SortHistory(entries []domain.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		ac, bc := clientTime(a), clientTime(b)
		if !ac.Equal(bc) {
			return ac.Before(bc)
		}
		return a.ID < b.ID
	})
}

func clientTime(e domain.HistoryEntry) time.Time {
	if e.ClientTimestamp == nil {
		return time.Time{}
	}
	return *e.ClientTimestamp
}
