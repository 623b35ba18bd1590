// Package workflow implements the guarded area-transition state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/audit"
	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/observability"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/store"
)

// Move outcomes recorded in metrics and returned as MoveResult.Reason
// prefixes.
const (
	ResultExecuted     = "executed"
	ResultBlocked      = "blocked"
	ResultRejected     = "rejected"
	ResultFormRequired = "form_required"
	ResultConflict     = "conflict"
)

// FormData is what a caller submits with a move. Input is recorded verbatim
// in the audit entry when the transition has a rule; Updates are merged into
// the ticket's fields.
type FormData struct {
	Input   map[string]any `json:"inputData,omitempty"`
	Updates map[string]any `json:"updates,omitempty"`
}

// Decision is the outcome of evaluating a move against a ticket's current
// state. Err is nil when the move may proceed.
type Decision struct {
	From     domain.Area            `json:"from"`
	To       domain.Area            `json:"to"`
	Allowed  bool                   `json:"allowed"`
	FreePass bool                   `json:"freePass"`
	Rule     *domain.TransitionRule `json:"rule,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Err      error                  `json:"-"`
}

// MoveResult reports what RequestMove did.
type MoveResult struct {
	Executed bool                `json:"executed"`
	Reason   string              `json:"reason,omitempty"`
	From     domain.Area         `json:"from"`
	To       domain.Area         `json:"to"`
	MovedAt  time.Time           `json:"movedAt"`
	Entry    domain.HistoryEntry `json:"entry"`
}

// Engine executes moves.
type Engine struct {
	workflow *domain.Workflow
	store    store.Store
	tickets  repository.TicketRepository
	audit    *audit.Log
	clock    clock.Clock
	retry    store.RetryPolicy
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewEngine builds the engine.
func NewEngine(w *domain.Workflow, s store.Store, tickets repository.TicketRepository, log *audit.Log, c clock.Clock, retry store.RetryPolicy, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		workflow: w,
		store:    s,
		tickets:  tickets,
		audit:    log,
		clock:    c,
		retry:    retry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Workflow returns the configuration the engine enforces.
func (e *Engine) Workflow() *domain.Workflow {
	return e.workflow
}

// CheckTarget rejects targets no ticket may be moved into. It needs no
// ticket state.
func (e *Engine) CheckTarget(from, target domain.Area) error {
	switch {
	case !e.workflow.HasArea(target):
		return &domain.TransitionError{From: from, To: target, Reason: "unknown area"}
	case e.workflow.IsForbiddenTarget(target):
		return &domain.TransitionError{From: from, To: target, Reason: "manual moves into this area are not allowed"}
	}
	return nil
}

// Evaluate decides whether ticket may move to target. It never mutates
// anything.
func (e *Engine) Evaluate(ticket *domain.Ticket, target domain.Area, form *FormData) Decision {
	d := Decision{From: ticket.CurrentArea, To: target}
	deny := func(err error) Decision {
		d.Err = err
		d.Reason = err.Error()
		return d
	}

	if err := e.CheckTarget(ticket.CurrentArea, target); err != nil {
		return deny(err)
	}
	if ticket.IsTerminal() {
		return deny(&domain.TransitionError{From: ticket.CurrentArea, To: target, Reason: fmt.Sprintf("ticket is %s", strings.ToLower(string(ticket.Status)))})
	}
	if ticket.CurrentArea == target {
		return deny(&domain.TransitionError{From: ticket.CurrentArea, To: target, Reason: "ticket is already in this area"})
	}

	d.FreePass = e.workflow.IsFreePass(ticket.CurrentArea, target)
	if !d.FreePass {
		for _, req := range e.workflow.Requirements(target) {
			if !satisfied(ticket, req) {
				return deny(&domain.BlockedError{Target: target, Prerequisite: req})
			}
		}
	}

	if rule, ok := e.workflow.Rule(ticket.CurrentArea, target); ok {
		d.Rule = &rule
		if form == nil || form.Input == nil {
			return deny(fmt.Errorf("%w: %s needs form %q", domain.ErrFormRequired, rule.Key(), rule.Form))
		}
	}

	d.Allowed = true
	return d
}

func satisfied(ticket *domain.Ticket, req domain.Prerequisite) bool {
	switch req {
	case domain.PrerequisiteAdditionalInfo:
		return ticket.AdditionalInfoComplete
	case domain.PrerequisiteQAComplete:
		return ticket.QAProgress == 100
	default:
		return false
	}
}

// Preview evaluates a move against the ticket's stored state.
func (e *Engine) Preview(ctx context.Context, ticketID string, target domain.Area, form *FormData) (Decision, error) {
	ticket, err := e.tickets.Get(ctx, ticketID)
	if err != nil {
		return Decision{}, err
	}
	return e.Evaluate(ticket, target, form), nil
}

// RequestMove moves the ticket to target. The ticket is re-read and
// re-evaluated on every attempt, so a retry after a conflict sees the state
// that won. A rejected move returns a result with Executed false and the
// typed error; nothing is written.
func (e *Engine) RequestMove(ctx context.Context, ticketID string, target domain.Area, userID string, form *FormData) (MoveResult, error) {
	result := MoveResult{To: target}
	if err := e.CheckTarget("", target); err != nil {
		return e.reject(result, err)
	}
	if form != nil {
		for key := range form.Updates {
			if strings.TrimSpace(key) == "" {
				return e.reject(result, fmt.Errorf("%w: empty field name in form updates", domain.ErrValidation))
			}
		}
	}

	policy := e.retry
	policy.OnRetry = func(attempt int, err error) {
		e.metrics.RecordRetry("move")
		e.logger.Debug("retrying move", zap.String("ticket_id", ticketID), zap.Int("attempt", attempt), zap.Error(err))
	}

	var decision Decision
	err := policy.Transaction(ctx, e.store, func(ctx context.Context, tx store.Tx) error {
		ticket, err := e.tickets.GetTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		decision = e.Evaluate(ticket, target, form)
		if decision.Err != nil {
			return decision.Err
		}

		now := e.clock.Now().UTC()
		updates := map[string]any{
			repository.FieldCurrentArea:   string(target),
			repository.FieldMovedToAreaAt: store.FormatTimestamp(now),
		}
		details := map[string]any{}
		if form != nil {
			for key, value := range form.Updates {
				updates[repository.FieldFields+"."+key] = value
			}
		}
		if decision.Rule != nil {
			details["inputData"] = form.Input
			details["snapshot"] = ticket.Snapshot()
			details["form"] = decision.Rule.Form
		}
		if err := e.tickets.Update(tx, ticketID, updates); err != nil {
			return err
		}
		entry, err := e.audit.Stage(tx, ticketID, domain.ActionMove, target, userID, details)
		if err != nil {
			return err
		}
		result.From = ticket.CurrentArea
		result.MovedAt = now
		result.Entry = entry
		return nil
	})
	if err != nil {
		if decision.Err != nil && errors.Is(err, decision.Err) {
			result.From = decision.From
			return e.reject(result, err)
		}
		err = repository.TranslateError(err)
		if errors.Is(err, domain.ErrTransactionConflict) {
			e.metrics.RecordMove(ResultConflict)
		}
		return result, err
	}

	result.Executed = true
	e.metrics.RecordMove(ResultExecuted)
	e.logger.Info("ticket moved",
		zap.String("ticket_id", ticketID),
		zap.String("from", string(result.From)),
		zap.String("to", string(target)),
		zap.String("user_id", userID))

	if err := e.audit.Mirror(ctx, ticketID, result.Entry); err != nil {
		// the move is committed; the array is repaired by resync
		e.logger.Warn("move history not mirrored", zap.String("ticket_id", ticketID), zap.Error(err))
	}
	return result, nil
}

func (e *Engine) reject(result MoveResult, err error) (MoveResult, error) {
	outcome := ResultRejected
	switch {
	case errors.Is(err, domain.ErrPreconditionBlocked):
		outcome = ResultBlocked
	case errors.Is(err, domain.ErrFormRequired):
		outcome = ResultFormRequired
	}
	e.metrics.RecordMove(outcome)
	result.Executed = false
	result.Reason = outcome + ": " + err.Error()
	return result, err
}
