package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/tallerflow/ticket-service/internal/api/dto"
	"github.com/tallerflow/ticket-service/internal/auth"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/service"
	apperrors "github.com/tallerflow/ticket-service/pkg/util/errorutil"
)

// TicketsHandler manages operator ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	created, err := h.service.CreateTicket(c.UserContext(), principal.OperatorID, req.Input())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": created})
}

// CreateBatch POST /batches.
func (h *TicketsHandler) CreateBatch(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateBatchRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	inputs := make([]service.TicketCreateInput, 0, len(req.Tickets))
	for _, t := range req.Tickets {
		inputs = append(inputs, t.Input())
	}
	result, err := h.service.CreateBatch(c.UserContext(), principal.OperatorID, inputs)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": result})
}

// ListTickets GET /tickets?area=&status=&batch=.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter, err := parseTicketFilter(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.UpdateTicket(c.UserContext(), c.Params("id"), principal.OperatorID, service.TicketPatch{
		AdditionalInfoComplete: req.AdditionalInfoComplete,
		Fields:                 req.Fields,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// SetQAProgress POST /tickets/:id/qa.
func (h *TicketsHandler) SetQAProgress(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.QAProgressRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.SetQAProgress(c.UserContext(), c.Params("id"), principal.OperatorID, *req.Progress)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// MoveTicket POST /tickets/:id/move.
func (h *TicketsHandler) MoveTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.MoveTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.service.MoveTicket(c.UserContext(), c.Params("id"), domain.Area(req.Target), principal.OperatorID, req.Form())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

// PreviewMove POST /tickets/:id/move/preview. Always 200; the decision says
// whether the move would go through.
func (h *TicketsHandler) PreviewMove(c *fiber.Ctx) error {
	var req dto.MoveTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	decision, err := h.service.PreviewMove(c.UserContext(), c.Params("id"), domain.Area(req.Target), req.Form())
	if err != nil {
		return err
	}
	resp := fiber.Map{"decision": decision}
	if decision.Err != nil {
		de := apperrors.ToDomainError(decision.Err)
		resp["blockedBy"] = fiber.Map{"code": de.Code, "details": de.Details}
	}
	return c.JSON(fiber.Map{"data": resp})
}

// CloseTicket POST /tickets/:id/close.
func (h *TicketsHandler) CloseTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.CloseTicket(c.UserContext(), c.Params("id"), principal.OperatorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DeleteTicket DELETE /tickets/:id. ?hard=true removes the document and is
// limited to supervisors.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.DeleteTicketRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	if c.QueryBool("hard") {
		if principal.Role != auth.RoleSupervisor {
			return apperrors.NewForbidden("hard delete requires supervisor role")
		}
		if err := h.service.HardDeleteTicket(c.UserContext(), c.Params("id"), principal.OperatorID, req.Reason); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	}

	ticket, err := h.service.DeleteTicket(c.UserContext(), c.Params("id"), principal.OperatorID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// RestoreTicket POST /tickets/:id/restore.
func (h *TicketsHandler) RestoreTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.RestoreTicket(c.UserContext(), c.Params("id"), principal.OperatorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetSLA GET /tickets/:id/sla.
func (h *TicketsHandler) GetSLA(c *fiber.Ctx) error {
	result, err := h.service.GetSLAStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSLAResponse(result)})
}

// GetHistory GET /tickets/:id/history.
func (h *TicketsHandler) GetHistory(c *fiber.Ctx) error {
	entries, err := h.service.GetHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return c.JSON(fiber.Map{"data": entries})
}

// VerifyHistory GET /tickets/:id/history/verify.
func (h *TicketsHandler) VerifyHistory(c *fiber.Ctx) error {
	report, err := h.service.VerifyHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// ResyncHistory POST /tickets/:id/history/resync.
func (h *TicketsHandler) ResyncHistory(c *fiber.Ctx) error {
	entries, err := h.service.ResyncHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// BoardSLA GET /board/sla.
func (h *TicketsHandler) BoardSLA(c *fiber.Ctx) error {
	board, err := h.service.BoardSLA(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.BoardItem, 0, len(board))
	for _, item := range board {
		items = append(items, dto.NewBoardItem(item))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Workflow GET /workflow lists configured areas in board order.
func (h *TicketsHandler) Workflow(c *fiber.Ctx) error {
	wf := h.service.Workflow()
	areas := make([]dto.AreaResponse, 0)
	for _, area := range wf.Areas() {
		areas = append(areas, dto.NewAreaResponse(wf, area))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"initialArea": wf.InitialArea(), "areas": areas}})
}

func parseTicketFilter(c *fiber.Ctx) (repository.TicketFilter, error) {
	var filter repository.TicketFilter
	if area := strings.TrimSpace(c.Query("area")); area != "" {
		a := domain.Area(area)
		filter.Area = &a
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		s := domain.TicketStatus(status)
		switch s {
		case domain.TicketStatusActive, domain.TicketStatusClosed, domain.TicketStatusDeleted:
		default:
			return filter, apperrors.NewValidationError("invalid status filter", map[string]any{"status": status})
		}
		filter.Status = &s
	}
	if batch := strings.TrimSpace(c.Query("batch")); batch != "" {
		filter.BatchID = &batch
	}
	return filter, nil
}
