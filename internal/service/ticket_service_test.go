package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/tallerflow/ticket-service/internal/audit"
	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/config"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/events"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/sequence"
	"github.com/tallerflow/ticket-service/internal/sla"
	"github.com/tallerflow/ticket-service/internal/store"
	"github.com/tallerflow/ticket-service/internal/workflow"
)

type harness struct {
	clk     *clock.Fake
	store   *store.Memory
	svc     *TicketService
	mu      sync.Mutex
	events  []events.Event
	retries int
}

func newHarness(t *testing.T, attempts int) *harness {
	t.Helper()
	wf, err := config.LoadWorkflow("")
	if err != nil {
		t.Fatalf("load workflow: %v", err)
	}
	h := &harness{clk: clock.NewFake(time.Date(2025, 9, 8, 8, 30, 0, 0, time.UTC))}
	h.store = store.NewMemory(h.clk)
	tickets := repository.NewTicketRepository(h.store)
	retry := store.RetryPolicy{MaxAttempts: attempts}
	log := audit.NewLog(h.store, tickets, repository.NewTicketHistoryRepository(h.store), h.clk, audit.Options{Retry: retry, MaxSkew: 5 * time.Second})
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.SubscribeAll(func(_ context.Context, e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
		return nil
	})
	h.svc = NewTicketService(TicketDependencies{
		Store:      h.store,
		TicketRepo: tickets,
		Audit:      log,
		Allocator:  sequence.NewAllocator(h.clk, time.UTC),
		Engine:     workflow.NewEngine(wf, h.store, tickets, log, h.clk, retry, nil, nil),
		Clock:      h.clk,
		Retry:      retry,
		Dispatcher: dispatcher,
	})
	return h
}

func (h *harness) eventTypes() []events.EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.EventType, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

var ticketIDPattern = regexp.MustCompile(`^\d{2}-\d{4}$`)

func TestTicketLifecycleScenario(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	created, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{QAProgress: 40, Fields: map[string]any{"model": "ThinkPad"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ticketIDPattern.MatchString(created.TicketID) || created.TicketID != "25-0001" || created.BatchID != "L001" {
		t.Fatalf("unexpected ids: %+v", created)
	}
	ticket, _ := h.svc.GetTicket(ctx, created.ID)
	if ticket.CurrentArea != "Compras" || ticket.Status != domain.TicketStatusActive {
		t.Fatalf("unexpected new ticket: %+v", ticket)
	}

	h.clk.Advance(time.Hour)
	if _, err := h.svc.MoveTicket(ctx, created.ID, "Servicio Rapido", "op-1", nil); err != nil {
		t.Fatalf("move to Servicio Rapido: %v", err)
	}
	history, _ := h.svc.GetHistory(ctx, created.ID)
	if len(history) != 2 || history[1].Action != domain.ActionMove {
		t.Fatalf("expected CREATE then MOVE, got %+v", history)
	}

	h.clk.Advance(time.Minute)
	if _, err := h.svc.UpdateTicket(ctx, created.ID, "op-1", TicketPatch{AdditionalInfoComplete: boolPtr(true)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	h.clk.Advance(time.Hour)
	_, err = h.svc.MoveTicket(ctx, created.ID, "Caja Despacho", "op-1", nil)
	var blocked *domain.BlockedError
	if !errors.As(err, &blocked) || blocked.Prerequisite != domain.PrerequisiteQAComplete {
		t.Fatalf("expected qaProgress block, got %v", err)
	}
	if ticket, _ = h.svc.GetTicket(ctx, created.ID); ticket.CurrentArea != "Servicio Rapido" {
		t.Fatalf("blocked move changed area to %s", ticket.CurrentArea)
	}

	if _, err := h.svc.SetQAProgress(ctx, created.ID, "op-1", 100); err != nil {
		t.Fatalf("qa: %v", err)
	}
	h.clk.Advance(10 * time.Minute)
	retryAt := h.clk.Now()
	if _, err := h.svc.MoveTicket(ctx, created.ID, "Caja Despacho", "op-1", nil); err != nil {
		t.Fatalf("retry move: %v", err)
	}
	ticket, _ = h.svc.GetTicket(ctx, created.ID)
	if ticket.CurrentArea != "Caja Despacho" || ticket.MovedToAreaAt == nil || !ticket.MovedToAreaAt.Equal(retryAt) {
		t.Fatalf("unexpected ticket after retry: area=%s movedAt=%v", ticket.CurrentArea, ticket.MovedToAreaAt)
	}

	status, err := h.svc.GetSLAStatus(ctx, created.ID)
	if err != nil || status.Elapsed != 0 || status.Status != sla.StatusOK {
		t.Fatalf("expected fresh SLA after move, got %+v %v", status, err)
	}

	history, _ = h.svc.GetHistory(ctx, created.ID)
	actions := []domain.HistoryAction{domain.ActionCreate, domain.ActionMove, domain.ActionUpdate, domain.ActionQAUpdate, domain.ActionMove}
	if len(history) != len(actions) {
		t.Fatalf("expected %d entries, got %d", len(actions), len(history))
	}
	for i, a := range actions {
		if history[i].Action != a {
			t.Fatalf("entry %d: want %s, got %s", i, a, history[i].Action)
		}
	}
	report, err := h.svc.VerifyHistory(ctx, created.ID)
	if err != nil || report.Divergent {
		t.Fatalf("history array diverged: %+v %v", report, err)
	}

	want := []events.EventType{events.EventTicketCreated, events.EventTicketMoved, events.EventTicketUpdated, events.EventTicketQAUpdated, events.EventTicketMoved}
	got := h.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConcurrentCreatesYieldDistinctSequentialIDs(t *testing.T) {
	const n = 20
	h := newHarness(t, n)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
		errs = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			seen[created.TicketID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create failed: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ids, got %d", n, len(seen))
	}
	for seq := int64(1); seq <= n; seq++ {
		if id := sequence.FormatTicketID("25", seq); !seen[id] {
			t.Fatalf("gap: %s missing", id)
		}
	}
}

func TestCreateBatchSharesBatchID(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	first, err := h.svc.CreateBatch(ctx, "op-1", []TicketCreateInput{{}, {}, {}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if first.BatchID != "L001" || len(first.Tickets) != 3 {
		t.Fatalf("unexpected batch: %+v", first)
	}
	for i, c := range first.Tickets {
		if c.BatchID != "L001" || c.TicketID != sequence.FormatTicketID("25", int64(i+1)) {
			t.Fatalf("unexpected ticket %d: %+v", i, c)
		}
	}
	second, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	if err != nil || second.BatchID != "L002" || second.TicketID != "25-0004" {
		t.Fatalf("unexpected follow-up ticket: %+v %v", second, err)
	}

	batch := "L001"
	list, err := h.svc.ListTickets(ctx, repository.TicketFilter{BatchID: &batch})
	if err != nil || len(list) != 3 {
		t.Fatalf("list by batch: %d %v", len(list), err)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	if _, err := h.svc.CreateBatch(ctx, "op-1", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty batch: %v", err)
	}
	if _, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{QAProgress: 101}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad progress: %v", err)
	}
	// nothing was allocated
	created, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	if err != nil || created.TicketID != "25-0001" {
		t.Fatalf("validation failures must not consume ids: %+v %v", created, err)
	}
}

func TestYearRolloverThroughService(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.clk.Set(time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		if _, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	h.clk.Advance(2 * time.Minute)
	created, err := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	if err != nil || created.TicketID != "25-0001" || created.BatchID != "L004" {
		t.Fatalf("expected 25-0001 in batch L004, got %+v %v", created, err)
	}
}

func TestUpdateTicketRecordsOnlyChanges(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	created, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{Fields: map[string]any{"price": 100}})
	h.clk.Advance(time.Minute)

	ticket, err := h.svc.UpdateTicket(ctx, created.ID, "op-2", TicketPatch{Fields: map[string]any{"price": 100, "color": "black"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ticket.Fields["color"] != "black" || ticket.CurrentArea != "Compras" || ticket.MovedToAreaAt != nil {
		t.Fatalf("unexpected ticket: %+v", ticket)
	}
	history, _ := h.svc.GetHistory(ctx, created.ID)
	last := history[len(history)-1]
	changes, _ := last.Details["changes"].(map[string]any)
	if last.Action != domain.ActionUpdate || len(changes) != 1 || changes["fields.color"] == nil {
		t.Fatalf("unexpected update entry: %+v", last)
	}

	if _, err := h.svc.UpdateTicket(ctx, created.ID, "op-2", TicketPatch{Fields: map[string]any{"color": "black"}}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if again, _ := h.svc.GetHistory(ctx, created.ID); len(again) != len(history) {
		t.Fatalf("no-op update must not write history")
	}
}

func TestSoftDeleteRestoreAndClose(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	created, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})

	h.clk.Advance(time.Minute)
	ticket, err := h.svc.DeleteTicket(ctx, created.ID, "op-1", "duplicate")
	if err != nil || ticket.Status != domain.TicketStatusDeleted {
		t.Fatalf("delete: %+v %v", ticket, err)
	}
	if _, err := h.svc.MoveTicket(ctx, created.ID, "Reparacion", "op-1", nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("deleted tickets must not move: %v", err)
	}
	if _, err := h.svc.DeleteTicket(ctx, created.ID, "op-1", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double delete: %v", err)
	}

	h.clk.Advance(time.Minute)
	ticket, err = h.svc.RestoreTicket(ctx, created.ID, "op-1")
	if err != nil || ticket.Status != domain.TicketStatusActive {
		t.Fatalf("restore: %+v %v", ticket, err)
	}
	h.clk.Advance(time.Minute)
	ticket, err = h.svc.CloseTicket(ctx, created.ID, "op-1")
	if err != nil || ticket.Status != domain.TicketStatusClosed {
		t.Fatalf("close: %+v %v", ticket, err)
	}
	if _, err := h.svc.CloseTicket(ctx, created.ID, "op-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double close: %v", err)
	}

	history, _ := h.svc.GetHistory(ctx, created.ID)
	want := []domain.HistoryAction{domain.ActionCreate, domain.ActionDelete, domain.ActionRestore, domain.ActionUpdate}
	if len(history) != len(want) {
		t.Fatalf("unexpected history: %+v", history)
	}
	for i := range want {
		if history[i].Action != want[i] {
			t.Fatalf("entry %d: want %s got %s", i, want[i], history[i].Action)
		}
	}
}

func TestHardDeleteOrphansHistory(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	created, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})

	h.clk.Advance(time.Minute)
	if err := h.svc.HardDeleteTicket(ctx, created.ID, "op-1", "scrapped"); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, err := h.svc.GetTicket(ctx, created.ID); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Fatalf("expected ticket gone, got %v", err)
	}
	history, err := h.svc.GetHistory(ctx, created.ID)
	if err != nil || len(history) != 2 || history[1].Action != domain.ActionDelete || history[1].Details["hard"] != true {
		t.Fatalf("expected orphaned CREATE+DELETE log, got %+v %v", history, err)
	}
	if err := h.svc.HardDeleteTicket(ctx, created.ID, "op-1", ""); !errors.Is(err, domain.ErrTicketNotFound) {
		t.Fatalf("second hard delete: %v", err)
	}
}

func TestBoardSLAOrdersMostUrgentFirst(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	slow, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	h.clk.Advance(20 * time.Hour)
	fresh, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	parked, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{QAProgress: 100})
	if _, err := h.svc.MoveTicket(ctx, parked.ID, "Caja Reciclaje", "op-1", nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	closed, _ := h.svc.CreateTicket(ctx, "op-1", TicketCreateInput{})
	if _, err := h.svc.CloseTicket(ctx, closed.ID, "op-1"); err != nil {
		t.Fatalf("close: %v", err)
	}

	board, err := h.svc.BoardSLA(ctx)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 active tickets, got %d", len(board))
	}
	if board[0].ID != slow.ID || board[0].SLA.Status != sla.StatusWarning {
		t.Fatalf("expected slow ticket first in warning, got %+v", board[0])
	}
	if board[1].ID != fresh.ID || board[2].ID != parked.ID || board[2].SLA.Status != sla.StatusNotApplicable {
		t.Fatalf("unexpected order: %+v", board)
	}
}

func TestSubscribeReceivesTicketChanges(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		changes []store.Change
	)
	stop, err := h.svc.Subscribe(ctx, func(c store.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	created, _ := h.svc.CreateTicket(context.Background(), "op-1", TicketCreateInput{})
	stop()
	if _, err := h.svc.MoveTicket(context.Background(), created.ID, "Reparacion", "op-1", nil); err != nil {
		t.Fatalf("move: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Fatalf("expected ticket changes before cancel")
	}
	for _, c := range changes {
		if c.Ref.Collection != repository.TicketsCollection {
			t.Fatalf("unexpected collection %s", c.Ref.Collection)
		}
	}
	// creation set + history mirror update
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
}

func boolPtr(b bool) *bool { return &b }
