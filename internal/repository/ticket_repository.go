package repository

import (
	"context"
	"fmt"

	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/store"
)

// TicketsCollection holds one document per ticket.
const TicketsCollection = "tickets"

// Ticket document field paths used in partial updates and queries.
const (
	FieldTicketID               = "ticketId"
	FieldBatchID                = "batchId"
	FieldCurrentArea            = "currentArea"
	FieldStatus                 = "status"
	FieldMovedToAreaAt          = "movedToAreaAt"
	FieldAdditionalInfoComplete = "additionalInfoComplete"
	FieldQAProgress             = "qaProgress"
	FieldFields                 = "fields"
	FieldHistory                = "history"
)

// TicketFilter captures board listing parameters.
type TicketFilter struct {
	Area    *domain.Area
	Status  *domain.TicketStatus
	BatchID *string
}

// TicketRepository is the ticket persistence facade over the document store.
type TicketRepository interface {
	NewID() string
	Ref(id string) store.Ref
	Create(tx store.Tx, ticket *domain.Ticket) error
	Get(ctx context.Context, id string) (*domain.Ticket, error)
	GetTx(ctx context.Context, tx store.Tx, id string) (*domain.Ticket, error)
	Update(tx store.Tx, id string, fields map[string]any) error
	Delete(tx store.Tx, id string) error
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	store store.Store
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(s store.Store) TicketRepository {
	return &ticketRepository{store: s}
}

func (r *ticketRepository) NewID() string {
	return r.store.NewID()
}

func (r *ticketRepository) Ref(id string) store.Ref {
	return store.Doc(TicketsCollection, id)
}

func (r *ticketRepository) Create(tx store.Tx, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = r.store.NewID()
	}
	if ticket.History == nil {
		ticket.History = []domain.HistoryEntry{}
	}
	doc, err := store.Encode(ticket)
	if err != nil {
		return err
	}
	return tx.Set(r.Ref(ticket.ID), doc)
}

func (r *ticketRepository) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	snap, err := r.store.Get(ctx, r.Ref(id))
	if err != nil {
		return nil, err
	}
	return decodeTicket(snap)
}

func (r *ticketRepository) GetTx(ctx context.Context, tx store.Tx, id string) (*domain.Ticket, error) {
	snap, err := tx.Get(ctx, r.Ref(id))
	if err != nil {
		return nil, err
	}
	return decodeTicket(snap)
}

func (r *ticketRepository) Update(tx store.Tx, id string, fields map[string]any) error {
	return tx.Update(r.Ref(id), fields)
}

func (r *ticketRepository) Delete(tx store.Tx, id string) error {
	return tx.Delete(r.Ref(id))
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	var filters []store.Filter
	if filter.Area != nil {
		filters = append(filters, store.Where(FieldCurrentArea, string(*filter.Area)))
	}
	if filter.Status != nil {
		filters = append(filters, store.Where(FieldStatus, string(*filter.Status)))
	}
	if filter.BatchID != nil {
		filters = append(filters, store.Where(FieldBatchID, *filter.BatchID))
	}

	snaps, err := r.store.Query(ctx, TicketsCollection, filters...)
	if err != nil {
		return nil, err
	}
	result := make([]domain.Ticket, 0, len(snaps))
	for _, snap := range snaps {
		ticket, err := decodeTicket(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func decodeTicket(snap store.Snapshot) (*domain.Ticket, error) {
	if !snap.Exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrTicketNotFound, snap.Ref.ID)
	}
	var ticket domain.Ticket
	if err := snap.DataTo(&ticket); err != nil {
		return nil, err
	}
	ticket.ID = snap.Ref.ID
	if ticket.History == nil {
		ticket.History = []domain.HistoryEntry{}
	}
	return &ticket, nil
}
