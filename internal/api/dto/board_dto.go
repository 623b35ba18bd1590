package dto

import (
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/sla"
)

// SLAResponse expresses SLA durations in whole seconds.
type SLAResponse struct {
	Status           sla.Status `json:"status"`
	ElapsedSeconds   int64      `json:"elapsedSeconds"`
	RemainingSeconds *int64     `json:"remainingSeconds,omitempty"`
	LimitSeconds     *int64     `json:"limitSeconds,omitempty"`
}

// NewSLAResponse maps a calculator result. Limit and remaining are omitted
// for areas without an SLA.
func NewSLAResponse(r sla.Result) SLAResponse {
	resp := SLAResponse{Status: r.Status, ElapsedSeconds: int64(r.Elapsed.Seconds())}
	if r.Status != sla.StatusNotApplicable {
		remaining := int64(r.Remaining.Seconds())
		limit := int64(r.Limit.Seconds())
		resp.RemainingSeconds = &remaining
		resp.LimitSeconds = &limit
	}
	return resp
}

// BoardItem is one row of the SLA board.
type BoardItem struct {
	ID          string              `json:"id"`
	TicketID    string              `json:"ticketId"`
	CurrentArea domain.Area         `json:"currentArea"`
	Status      domain.TicketStatus `json:"status"`
	SLA         SLAResponse         `json:"sla"`
}

// NewBoardItem maps a service board row.
func NewBoardItem(item service.TicketSLA) BoardItem {
	return BoardItem{
		ID:          item.ID,
		TicketID:    item.TicketID,
		CurrentArea: item.CurrentArea,
		Status:      item.Status,
		SLA:         NewSLAResponse(item.SLA),
	}
}

// AreaResponse describes one configured area.
type AreaResponse struct {
	Name            domain.Area           `json:"name"`
	Tags            []domain.AreaTag      `json:"tags"`
	Requires        []domain.Prerequisite `json:"requires"`
	SLASeconds      int64                 `json:"slaSeconds,omitempty"`
	ForbiddenTarget bool                  `json:"forbiddenTarget"`
}

// NewAreaResponse reads area from the workflow.
func NewAreaResponse(wf *domain.Workflow, area domain.Area) AreaResponse {
	tags := []domain.AreaTag{}
	for _, tag := range []domain.AreaTag{domain.TagPublicidad, domain.TagDespacho} {
		if wf.HasTag(area, tag) {
			tags = append(tags, tag)
		}
	}
	requires := wf.Requirements(area)
	if requires == nil {
		requires = []domain.Prerequisite{}
	}
	return AreaResponse{
		Name:            area,
		Tags:            tags,
		Requires:        requires,
		SLASeconds:      int64(wf.SLATable()[area].Seconds()),
		ForbiddenTarget: wf.IsForbiddenTarget(area),
	}
}
