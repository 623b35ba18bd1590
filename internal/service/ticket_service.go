package service

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/audit"
	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/events"
	"github.com/tallerflow/ticket-service/internal/observability"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/sequence"
	"github.com/tallerflow/ticket-service/internal/sla"
	"github.com/tallerflow/ticket-service/internal/store"
	"github.com/tallerflow/ticket-service/internal/workflow"
)

// MaxBatchSize bounds how many tickets one CreateBatch call may mint.
const MaxBatchSize = 200

// TicketService coordinates ticket workflows.
type TicketService struct {
	store      store.Store
	tickets    repository.TicketRepository
	audit      *audit.Log
	allocator  *sequence.Allocator
	engine     *workflow.Engine
	clock      clock.Clock
	retry      store.RetryPolicy
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      store.Store
	TicketRepo repository.TicketRepository
	Audit      *audit.Log
	Allocator  *sequence.Allocator
	Engine     *workflow.Engine
	Clock      clock.Clock
	Retry      store.RetryPolicy
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload. Fields is opaque
// business data (pricing, specs, client info).
type TicketCreateInput struct {
	AdditionalInfoComplete bool
	QAProgress             int
	Fields                 map[string]any
}

// TicketPatch describes an in-place update. Nil members are left alone.
type TicketPatch struct {
	AdditionalInfoComplete *bool
	Fields                 map[string]any
}

// CreatedTicket identifies a freshly minted ticket.
type CreatedTicket struct {
	ID       string `json:"id"`
	TicketID string `json:"ticketId"`
	BatchID  string `json:"batchId"`
}

// BatchResult is the outcome of CreateBatch.
type BatchResult struct {
	BatchID string          `json:"batchId"`
	Tickets []CreatedTicket `json:"tickets"`
}

// TicketSLA pairs a ticket with its SLA status.
type TicketSLA struct {
	ID          string              `json:"id"`
	TicketID    string              `json:"ticketId"`
	CurrentArea domain.Area         `json:"currentArea"`
	Status      domain.TicketStatus `json:"status"`
	SLA         sla.Result          `json:"sla"`
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		store:      deps.Store,
		tickets:    deps.TicketRepo,
		audit:      deps.Audit,
		allocator:  deps.Allocator,
		engine:     deps.Engine,
		clock:      deps.Clock,
		retry:      deps.Retry,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// Workflow exposes the area configuration.
func (s *TicketService) Workflow() *domain.Workflow {
	return s.engine.Workflow()
}

// CreateTicket creates a single ticket under a batch of its own.
func (s *TicketService) CreateTicket(ctx context.Context, userID string, input TicketCreateInput) (CreatedTicket, error) {
	result, err := s.CreateBatch(ctx, userID, []TicketCreateInput{input})
	if err != nil {
		return CreatedTicket{}, err
	}
	return result.Tickets[0], nil
}

// CreateBatch creates tickets that share one batch id. Counters, tickets and
// CREATE history entries commit together or not at all.
func (s *TicketService) CreateBatch(ctx context.Context, userID string, inputs []TicketCreateInput) (BatchResult, error) {
	if len(inputs) == 0 {
		return BatchResult{}, fmt.Errorf("%w: at least one ticket is required", domain.ErrValidation)
	}
	if len(inputs) > MaxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: batch exceeds %d tickets", domain.ErrValidation, MaxBatchSize)
	}
	for i, in := range inputs {
		if err := validateProgress(in.QAProgress); err != nil {
			return BatchResult{}, fmt.Errorf("ticket %d: %w", i, err)
		}
	}

	initial := s.engine.Workflow().InitialArea()
	var (
		result  BatchResult
		entries []domain.HistoryEntry
	)
	err := s.policy("create").Transaction(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		result = BatchResult{}
		entries = entries[:0]

		batchIDs, err := s.allocator.Allocate(ctx, tx, domain.CounterBatches, 1)
		if err != nil {
			return err
		}
		ticketIDs, err := s.allocator.Allocate(ctx, tx, domain.CounterTickets, len(inputs))
		if err != nil {
			return err
		}
		result.BatchID = batchIDs[0]

		now := s.clock.Now().UTC()
		for i, in := range inputs {
			ticket := &domain.Ticket{
				ID:                     s.tickets.NewID(),
				TicketID:               ticketIDs[i],
				BatchID:                result.BatchID,
				CurrentArea:            initial,
				Status:                 domain.TicketStatusActive,
				CreatedAt:              now,
				CreatedBy:              userID,
				AdditionalInfoComplete: in.AdditionalInfoComplete,
				QAProgress:             in.QAProgress,
				Fields:                 in.Fields,
			}
			if err := s.tickets.Create(tx, ticket); err != nil {
				return err
			}
			entry, err := s.audit.Stage(tx, ticket.ID, domain.ActionCreate, initial, userID, map[string]any{
				"ticketId": ticket.TicketID,
				"batchId":  ticket.BatchID,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			result.Tickets = append(result.Tickets, CreatedTicket{ID: ticket.ID, TicketID: ticket.TicketID, BatchID: ticket.BatchID})
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, repository.TranslateError(err)
	}

	for i, created := range result.Tickets {
		s.mirror(ctx, created.ID, entries[i])
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketCreated,
			TicketID: created.ID,
			Actor:    operatorActor(userID),
			Payload: events.TicketCreatedPayload{
				TicketNumber: created.TicketID,
				BatchID:      created.BatchID,
				Area:         initial,
			},
		})
	}
	s.logger.Info("tickets created", zap.String("batch_id", result.BatchID), zap.Int("count", len(result.Tickets)), zap.String("user_id", userID))
	return result, nil
}

// MoveTicket moves a ticket to target. Rejections come back as typed errors
// together with the unexecuted result.
func (s *TicketService) MoveTicket(ctx context.Context, ticketID string, target domain.Area, userID string, form *workflow.FormData) (workflow.MoveResult, error) {
	result, err := s.engine.RequestMove(ctx, ticketID, target, userID, form)
	if err != nil {
		return result, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketMoved,
		TicketID: ticketID,
		Actor:    operatorActor(userID),
		Payload: events.TicketMovedPayload{
			From:    result.From,
			To:      result.To,
			EntryID: result.Entry.ID,
		},
	})
	return result, nil
}

// PreviewMove reports whether a move would be allowed right now.
func (s *TicketService) PreviewMove(ctx context.Context, ticketID string, target domain.Area, form *workflow.FormData) (workflow.Decision, error) {
	return s.engine.Preview(ctx, ticketID, target, form)
}

// UpdateTicket patches completion flags and business fields without moving
// the ticket. Unchanged values are not recorded.
func (s *TicketService) UpdateTicket(ctx context.Context, ticketID, userID string, patch TicketPatch) (*domain.Ticket, error) {
	for key := range patch.Fields {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: empty field name", domain.ErrValidation)
		}
	}

	var changedNames []string
	ticket, _, err := s.mutate(ctx, "update", ticketID, userID, func(t *domain.Ticket) (*mutation, error) {
		if t.Status == domain.TicketStatusDeleted {
			return nil, &domain.TransitionError{From: t.CurrentArea, To: t.CurrentArea, Reason: "ticket is deleted"}
		}
		updates := map[string]any{}
		changes := map[string]any{}
		if patch.AdditionalInfoComplete != nil && *patch.AdditionalInfoComplete != t.AdditionalInfoComplete {
			updates[repository.FieldAdditionalInfoComplete] = *patch.AdditionalInfoComplete
			changes[repository.FieldAdditionalInfoComplete] = change(t.AdditionalInfoComplete, *patch.AdditionalInfoComplete)
		}
		for key, value := range patch.Fields {
			old, had := t.Fields[key]
			if had && sameValue(old, value) {
				continue
			}
			path := repository.FieldFields + "." + key
			updates[path] = value
			changes[path] = change(old, value)
		}
		if len(updates) == 0 {
			return nil, nil
		}
		changedNames = sortedKeys(changes)
		return &mutation{
			action:  domain.ActionUpdate,
			updates: updates,
			details: map[string]any{"changes": changes},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(changedNames) > 0 {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketUpdated,
			TicketID: ticketID,
			Actor:    operatorActor(userID),
			Payload:  events.TicketUpdatedPayload{Changed: changedNames, Status: ticket.Status},
		})
	}
	return ticket, nil
}

// SetQAProgress records quality-control progress (0-100).
func (s *TicketService) SetQAProgress(ctx context.Context, ticketID, userID string, progress int) (*domain.Ticket, error) {
	if err := validateProgress(progress); err != nil {
		return nil, err
	}
	var old int
	ticket, entry, err := s.mutate(ctx, "qa_update", ticketID, userID, func(t *domain.Ticket) (*mutation, error) {
		if t.IsTerminal() {
			return nil, &domain.TransitionError{From: t.CurrentArea, To: t.CurrentArea, Reason: fmt.Sprintf("ticket is %s", strings.ToLower(string(t.Status)))}
		}
		old = t.QAProgress
		if old == progress {
			return nil, nil
		}
		return &mutation{
			action:  domain.ActionQAUpdate,
			updates: map[string]any{repository.FieldQAProgress: progress},
			details: map[string]any{"previous": old, "qaProgress": progress},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketQAUpdated,
			TicketID: ticketID,
			Actor:    operatorActor(userID),
			Payload:  events.TicketQAUpdatedPayload{OldProgress: old, NewProgress: progress},
		})
	}
	return ticket, nil
}

// CloseTicket marks an active ticket as closed.
func (s *TicketService) CloseTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	ticket, _, err := s.mutate(ctx, "close", ticketID, userID, func(t *domain.Ticket) (*mutation, error) {
		if t.Status != domain.TicketStatusActive {
			return nil, &domain.TransitionError{From: t.CurrentArea, To: t.CurrentArea, Reason: fmt.Sprintf("only active tickets can be closed, ticket is %s", strings.ToLower(string(t.Status)))}
		}
		return &mutation{
			action:  domain.ActionUpdate,
			updates: map[string]any{repository.FieldStatus: string(domain.TicketStatusClosed)},
			details: map[string]any{"changes": map[string]any{
				repository.FieldStatus: change(string(t.Status), string(domain.TicketStatusClosed)),
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketUpdated,
		TicketID: ticketID,
		Actor:    operatorActor(userID),
		Payload:  events.TicketUpdatedPayload{Changed: []string{repository.FieldStatus}, Status: ticket.Status},
	})
	return ticket, nil
}

// DeleteTicket soft-deletes a ticket. It stays readable and can be restored.
func (s *TicketService) DeleteTicket(ctx context.Context, ticketID, userID, reason string) (*domain.Ticket, error) {
	ticket, _, err := s.mutate(ctx, "delete", ticketID, userID, func(t *domain.Ticket) (*mutation, error) {
		if t.Status == domain.TicketStatusDeleted {
			return nil, &domain.TransitionError{From: t.CurrentArea, To: t.CurrentArea, Reason: "ticket is already deleted"}
		}
		details := map[string]any{"previousStatus": string(t.Status)}
		if reason != "" {
			details["reason"] = reason
		}
		return &mutation{
			action:  domain.ActionDelete,
			updates: map[string]any{repository.FieldStatus: string(domain.TicketStatusDeleted)},
			details: details,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeleted,
		TicketID: ticketID,
		Actor:    operatorActor(userID),
		Payload:  events.TicketDeletedPayload{Hard: false},
	})
	return ticket, nil
}

// RestoreTicket brings a soft-deleted ticket back to Active.
func (s *TicketService) RestoreTicket(ctx context.Context, ticketID, userID string) (*domain.Ticket, error) {
	ticket, _, err := s.mutate(ctx, "restore", ticketID, userID, func(t *domain.Ticket) (*mutation, error) {
		if t.Status != domain.TicketStatusDeleted {
			return nil, &domain.TransitionError{From: t.CurrentArea, To: t.CurrentArea, Reason: "only deleted tickets can be restored"}
		}
		return &mutation{
			action:  domain.ActionRestore,
			updates: map[string]any{repository.FieldStatus: string(domain.TicketStatusActive)},
			details: map[string]any{},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRestored,
		TicketID: ticketID,
		Actor:    operatorActor(userID),
		Payload:  events.TicketRestoredPayload{Area: ticket.CurrentArea},
	})
	return ticket, nil
}

// HardDeleteTicket permanently removes the ticket document. A final DELETE
// entry is written to its history log, which is left behind orphaned.
func (s *TicketService) HardDeleteTicket(ctx context.Context, ticketID, userID, reason string) error {
	err := s.policy("hard_delete").Transaction(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		ticket, err := s.tickets.GetTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		details := map[string]any{"hard": true, "snapshot": ticket.Snapshot()}
		if reason != "" {
			details["reason"] = reason
		}
		if _, err := s.audit.Stage(tx, ticketID, domain.ActionDelete, ticket.CurrentArea, userID, details); err != nil {
			return err
		}
		return s.tickets.Delete(tx, ticketID)
	})
	if err != nil {
		return repository.TranslateError(err)
	}
	s.logger.Info("ticket hard deleted", zap.String("ticket_id", ticketID), zap.String("user_id", userID))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeleted,
		TicketID: ticketID,
		Actor:    operatorActor(userID),
		Payload:  events.TicketDeletedPayload{Hard: true},
	})
	return nil
}

// GetTicket loads one ticket.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.tickets.Get(ctx, ticketID)
}

// ListTickets returns tickets matching the filter ordered by ticket number.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	list, err := s.tickets.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].TicketID < list[j].TicketID })
	return list, nil
}

// GetHistory returns the ticket's history log in ascending order. Entries
// of hard-deleted tickets are still returned.
func (s *TicketService) GetHistory(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	return s.audit.Entries(ctx, ticketID)
}

// ResyncHistory rebuilds the ticket's history array from its log.
func (s *TicketService) ResyncHistory(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	entries, err := s.audit.Resync(ctx, ticketID)
	return entries, repository.TranslateError(err)
}

// VerifyHistory compares the ticket's history array with its log.
func (s *TicketService) VerifyHistory(ctx context.Context, ticketID string) (audit.Report, error) {
	return s.audit.Verify(ctx, ticketID)
}

// GetSLAStatus computes the ticket's SLA status as of now.
func (s *TicketService) GetSLAStatus(ctx context.Context, ticketID string) (sla.Result, error) {
	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return sla.Result{}, err
	}
	return sla.Calculate(*ticket, s.engine.Workflow().SLATable(), s.clock.Now()), nil
}

// BoardSLA computes SLA status for every active ticket, most urgent first.
func (s *TicketService) BoardSLA(ctx context.Context) ([]TicketSLA, error) {
	active := domain.TicketStatusActive
	list, err := s.tickets.ListWithFilter(ctx, repository.TicketFilter{Status: &active})
	if err != nil {
		return nil, err
	}
	table := s.engine.Workflow().SLATable()
	now := s.clock.Now()
	board := make([]TicketSLA, 0, len(list))
	for _, t := range list {
		board = append(board, TicketSLA{
			ID:          t.ID,
			TicketID:    t.TicketID,
			CurrentArea: t.CurrentArea,
			Status:      t.Status,
			SLA:         sla.Calculate(t, table, now),
		})
	}
	sort.SliceStable(board, func(i, j int) bool {
		a, b := board[i].SLA, board[j].SLA
		if (a.Status == sla.StatusNotApplicable) != (b.Status == sla.StatusNotApplicable) {
			return b.Status == sla.StatusNotApplicable
		}
		if a.Remaining != b.Remaining {
			return a.Remaining < b.Remaining
		}
		return board[i].TicketID < board[j].TicketID
	})
	return board, nil
}

// Subscribe pushes every committed change to the tickets collection to fn
// until ctx is done or cancel is called.
func (s *TicketService) Subscribe(ctx context.Context, fn func(store.Change)) (cancel func(), err error) {
	return s.store.Subscribe(ctx, repository.TicketsCollection, fn)
}

type mutation struct {
	action  domain.HistoryAction
	updates map[string]any
	details map[string]any
}

// mutate applies fn's changes and its history entry in one transaction,
// mirrors the entry, then returns the stored ticket. A nil mutation is a
// no-op and writes nothing.
func (s *TicketService) mutate(ctx context.Context, op, ticketID, userID string, fn func(*domain.Ticket) (*mutation, error)) (*domain.Ticket, *domain.HistoryEntry, error) {
	var entry *domain.HistoryEntry
	err := s.policy(op).Transaction(ctx, s.store, func(ctx context.Context, tx store.Tx) error {
		entry = nil
		ticket, err := s.tickets.GetTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		m, err := fn(ticket)
		if err != nil || m == nil {
			return err
		}
		if err := s.tickets.Update(tx, ticketID, m.updates); err != nil {
			return err
		}
		staged, err := s.audit.Stage(tx, ticketID, m.action, ticket.CurrentArea, userID, m.details)
		if err != nil {
			return err
		}
		entry = &staged
		return nil
	})
	if err != nil {
		return nil, nil, repository.TranslateError(err)
	}
	if entry != nil {
		s.mirror(ctx, ticketID, *entry)
	}
	ticket, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return ticket, entry, nil
}

func (s *TicketService) mirror(ctx context.Context, ticketID string, entry domain.HistoryEntry) {
	if err := s.audit.Mirror(ctx, ticketID, entry); err != nil {
		s.logger.Warn("history not mirrored", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) policy(op string) store.RetryPolicy {
	p := s.retry
	p.OnRetry = func(attempt int, err error) {
		s.metrics.RecordRetry(op)
		s.logger.Debug("retrying transaction", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return p
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func operatorActor(userID string) events.Actor {
	return events.Actor{OperatorID: userID}
}

func validateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: qaProgress must be between 0 and 100, got %d", domain.ErrValidation, progress)
	}
	return nil
}

func change(before, after any) map[string]any {
	return map[string]any{"old": before, "new": after}
}

// sameValue compares values in their stored JSON shape.
func sameValue(a, b any) bool {
	na, errA := store.Encode(map[string]any{"v": a})
	nb, errB := store.Encode(map[string]any{"v": b})
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
