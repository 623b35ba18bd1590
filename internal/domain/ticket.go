package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusActive  TicketStatus = "Active"
	TicketStatusClosed  TicketStatus = "Closed"
	TicketStatusDeleted TicketStatus = "Deleted"
)

// Area names a workflow area of the shop floor.
type Area string

// Ticket is the aggregate for a physical device moving through the shop.
type Ticket struct {
	ID                     string         `json:"-"`
	TicketID               string         `json:"ticketId"`
	BatchID                string         `json:"batchId"`
	CurrentArea            Area           `json:"currentArea"`
	Status                 TicketStatus   `json:"status"`
	MovedToAreaAt          *time.Time     `json:"movedToAreaAt,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
	CreatedBy              string         `json:"createdBy,omitempty"`
	AdditionalInfoComplete bool           `json:"additionalInfoComplete"`
	QAProgress             int            `json:"qaProgress"`
	Fields                 map[string]any `json:"fields,omitempty"`
	History                []HistoryEntry `json:"history"`
}

// SLAClockStart is the instant the ticket's SLA timer for its current area
// started.
func (t *Ticket) SLAClockStart() time.Time {
	if t.MovedToAreaAt != nil && !t.MovedToAreaAt.IsZero() {
		return *t.MovedToAreaAt
	}
	return t.CreatedAt
}

// IsTerminal reports whether the ticket no longer accepts moves.
func (t *Ticket) IsTerminal() bool {
	return t.Status == TicketStatusClosed || t.Status == TicketStatusDeleted
}

// Snapshot captures workflow state prior to a change for audit details.
func (t *Ticket) Snapshot() map[string]any {
	snap := map[string]any{
		"currentArea":            string(t.CurrentArea),
		"status":                 string(t.Status),
		"additionalInfoComplete": t.AdditionalInfoComplete,
		"qaProgress":             t.QAProgress,
		"movedToAreaAt":          t.SLAClockStart().UTC().Format(time.RFC3339Nano),
	}
	if len(t.Fields) > 0 {
		fields := make(map[string]any, len(t.Fields))
		for k, v := range t.Fields {
			fields[k] = v
		}
		snap["fields"] = fields
	}
	return snap
}

// Counter is the persisted state of one sequence allocation domain.
type Counter struct {
	Count  int64  `json:"count"`
	Prefix string `json:"prefix,omitempty"`
}

// CounterDomain selects which counter an allocation draws from.
type CounterDomain string

const (
	CounterTickets CounterDomain = "tickets"
	CounterBatches CounterDomain = "batches"
)
