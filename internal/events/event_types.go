package events

import (
	"time"

	"github.com/tallerflow/ticket-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketMoved     EventType = "ticket_moved"
	EventTicketUpdated   EventType = "ticket_updated"
	EventTicketQAUpdated EventType = "ticket_qa_updated"
	EventTicketDeleted   EventType = "ticket_deleted"
	EventTicketRestored  EventType = "ticket_restored"
)

// AllEventTypes lists every event the ticket service publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketMoved,
	EventTicketUpdated,
	EventTicketQAUpdated,
	EventTicketDeleted,
	EventTicketRestored,
}

// Actor identifies the operator behind an event.
type Actor struct {
	OperatorID string `json:"operator_id"`
}

// Event represents a domain event emitted by services. Origin is empty for
// events raised in this process and set to the sending instance for events
// received from other instances.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
	Origin    string      `json:"origin,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketNumber string      `json:"ticket_number"`
	BatchID      string      `json:"batch_id"`
	Area         domain.Area `json:"area"`
}

// TicketMovedPayload payload.
type TicketMovedPayload struct {
	From    domain.Area `json:"from"`
	To      domain.Area `json:"to"`
	EntryID string      `json:"entry_id"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	Changed []string            `json:"changed"`
	Status  domain.TicketStatus `json:"status"`
}

// TicketQAUpdatedPayload payload.
type TicketQAUpdatedPayload struct {
	OldProgress int `json:"old_progress"`
	NewProgress int `json:"new_progress"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	Hard bool `json:"hard"`
}

// TicketRestoredPayload payload.
type TicketRestoredPayload struct {
	Area domain.Area `json:"area"`
}
