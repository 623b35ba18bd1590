package dto

import (
	"time"

	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/workflow"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	AdditionalInfoComplete bool           `json:"additionalInfoComplete"`
	QAProgress             int            `json:"qaProgress" validate:"min=0,max=100"`
	Fields                 map[string]any `json:"fields"`
}

// Input converts the payload for the service.
func (r CreateTicketRequest) Input() service.TicketCreateInput {
	return service.TicketCreateInput{
		AdditionalInfoComplete: r.AdditionalInfoComplete,
		QAProgress:             r.QAProgress,
		Fields:                 r.Fields,
	}
}

// CreateBatchRequest mints several tickets under one batch id.
type CreateBatchRequest struct {
	Tickets []CreateTicketRequest `json:"tickets" validate:"required,min=1,max=200,dive"`
}

// UpdateTicketRequest patches business data. Omitted members are untouched.
type UpdateTicketRequest struct {
	AdditionalInfoComplete *bool          `json:"additionalInfoComplete"`
	Fields                 map[string]any `json:"fields"`
}

// QAProgressRequest sets the QA checklist completion percentage.
type QAProgressRequest struct {
	Progress *int `json:"progress" validate:"required,min=0,max=100"`
}

// MoveTicketRequest asks for a move into Target. InputData is required when
// the transition carries a form rule.
type MoveTicketRequest struct {
	Target    string         `json:"target" validate:"required"`
	InputData map[string]any `json:"inputData"`
	Updates   map[string]any `json:"updates"`
}

// Form returns the form payload, or nil when the caller sent none.
func (r MoveTicketRequest) Form() *workflow.FormData {
	if r.InputData == nil && r.Updates == nil {
		return nil
	}
	return &workflow.FormData{Input: r.InputData, Updates: r.Updates}
}

// DeleteTicketRequest optionally explains a deletion.
type DeleteTicketRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                     string                `json:"id"`
	TicketID               string                `json:"ticketId"`
	BatchID                string                `json:"batchId"`
	CurrentArea            domain.Area           `json:"currentArea"`
	Status                 domain.TicketStatus   `json:"status"`
	MovedToAreaAt          *time.Time            `json:"movedToAreaAt,omitempty"`
	CreatedAt              time.Time             `json:"createdAt"`
	CreatedBy              string                `json:"createdBy,omitempty"`
	AdditionalInfoComplete bool                  `json:"additionalInfoComplete"`
	QAProgress             int                   `json:"qaProgress"`
	Fields                 map[string]any        `json:"fields"`
	History                []domain.HistoryEntry `json:"history"`
}

// TicketSummary omits the embedded history for list views.
type TicketSummary struct {
	ID            string              `json:"id"`
	TicketID      string              `json:"ticketId"`
	BatchID       string              `json:"batchId"`
	CurrentArea   domain.Area         `json:"currentArea"`
	Status        domain.TicketStatus `json:"status"`
	MovedToAreaAt *time.Time          `json:"movedToAreaAt,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	QAProgress    int                 `json:"qaProgress"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	fields := t.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	history := t.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	return TicketResponse{
		ID:                     t.ID,
		TicketID:               t.TicketID,
		BatchID:                t.BatchID,
		CurrentArea:            t.CurrentArea,
		Status:                 t.Status,
		MovedToAreaAt:          t.MovedToAreaAt,
		CreatedAt:              t.CreatedAt,
		CreatedBy:              t.CreatedBy,
		AdditionalInfoComplete: t.AdditionalInfoComplete,
		QAProgress:             t.QAProgress,
		Fields:                 fields,
		History:                history,
	}
}

// NewTicketSummary maps a domain ticket for list responses.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:            t.ID,
		TicketID:      t.TicketID,
		BatchID:       t.BatchID,
		CurrentArea:   t.CurrentArea,
		Status:        t.Status,
		MovedToAreaAt: t.MovedToAreaAt,
		CreatedAt:     t.CreatedAt,
		QAProgress:    t.QAProgress,
	}
}
