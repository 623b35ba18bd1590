// Package audit keeps the per-ticket history log and its denormalized copy on
// the ticket document.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/observability"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/store"
)

// DivergenceError reports a history array write that failed after the
// history log entry was committed.
type DivergenceError struct {
	TicketID string
	EntryID  string
	Err      error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("audit: history array for ticket %s missing entry %s: %v", e.TicketID, e.EntryID, e.Err)
}

func (e *DivergenceError) Unwrap() error {
	return e.Err
}

// Is lets callers match with errors.Is(err, domain.ErrAuditDivergence).
func (e *DivergenceError) Is(target error) bool {
	return target == domain.ErrAuditDivergence
}

// Options tunes a Log.
type Options struct {
	Retry   store.RetryPolicy
	Queue   RepairQueue
	MaxSkew time.Duration
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Log writes history entries. The history collection is the record of truth;
// the array on the ticket is a cache that Resync can rebuild at any time.
type Log struct {
	store   store.Store
	tickets repository.TicketRepository
	history repository.TicketHistoryRepository
	clock   clock.Clock
	retry   store.RetryPolicy
	queue   RepairQueue
	maxSkew time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewLog builds the audit log.
func NewLog(s store.Store, tickets repository.TicketRepository, history repository.TicketHistoryRepository, c clock.Clock, opts Options) *Log {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewMemoryRepairQueue()
	}
	return &Log{
		store:   s,
		tickets: tickets,
		history: history,
		clock:   c,
		retry:   opts.Retry,
		queue:   queue,
		maxSkew: opts.MaxSkew,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Queue returns the repair queue divergent tickets are pushed to.
func (l *Log) Queue() RepairQueue {
	return l.queue
}

// Stage buffers a history log entry in tx. The entry commits or aborts with
// the rest of tx; call Mirror once tx has committed.
func (l *Log) Stage(tx store.Tx, ticketID string, action domain.HistoryAction, area domain.Area, userID string, details map[string]any) (domain.HistoryEntry, error) {
	if details == nil {
		details = map[string]any{}
	}
	now := l.clock.Now().UTC()
	entry := domain.HistoryEntry{
		ID:              l.store.NewID(),
		Action:          action,
		Area:            area,
		UserID:          userID,
		Timestamp:       now,
		ClientTimestamp: &now,
		Details:         details,
	}
	if err := l.history.Create(tx, ticketID, entry); err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, nil
}

// Mirror inserts entry into the ticket's history array, in time order, in its
// own transaction. Entries already present are skipped. A failure leaves the history log
// intact, queues the ticket for repair and returns a *DivergenceError.
func (l *Log) Mirror(ctx context.Context, ticketID string, entry domain.HistoryEntry) error {
	err := l.retry.Transaction(ctx, l.store, func(ctx context.Context, tx store.Tx) error {
		ticket, err := l.tickets.GetTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		for _, existing := range ticket.History {
			if existing.ID == entry.ID {
				return nil
			}
		}
		next := make([]domain.HistoryEntry, 0, len(ticket.History)+1)
		next = append(next, ticket.History...)
		next = append(next, entry)
		// mirrors can land out of commit order; keep the array chronological
		repository.SortHistory(next)
		return l.tickets.Update(tx, ticketID, map[string]any{repository.FieldHistory: next})
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTicketNotFound) {
		// hard-deleted tickets keep an orphaned history log and no array
		return nil
	}

	l.metrics.RecordAuditDivergence()
	divergence := &DivergenceError{TicketID: ticketID, EntryID: entry.ID, Err: err}
	l.logger.Warn("history array write failed",
		zap.String("ticket_id", ticketID),
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.Error(err))
	if qerr := l.queue.Enqueue(context.WithoutCancel(ctx), ticketID); qerr != nil {
		l.logger.Error("enqueue history repair", zap.String("ticket_id", ticketID), zap.Error(qerr))
	}
	return divergence
}

// Record writes a standalone entry: the history log first, then the array.
// Only an error from the first write is fatal; a divergence is reported but
// the entry is durable.
func (l *Log) Record(ctx context.Context, ticketID string, action domain.HistoryAction, area domain.Area, userID string, details map[string]any) (domain.HistoryEntry, error) {
	var entry domain.HistoryEntry
	err := l.retry.Transaction(ctx, l.store, func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, err = l.Stage(tx, ticketID, action, area, userID, details)
		return err
	})
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	return entry, l.Mirror(ctx, ticketID, entry)
}

// Entries returns the ticket's history log in ascending order.
func (l *Log) Entries(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	return l.history.ListByTicket(ctx, ticketID)
}

// Resync overwrites the ticket's history array with the history log. Array
// timestamps are replaced by the server timestamps. Idempotent.
func (l *Log) Resync(ctx context.Context, ticketID string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := l.retry.Transaction(ctx, l.store, func(ctx context.Context, tx store.Tx) error {
		if _, err := l.tickets.GetTx(ctx, tx, ticketID); err != nil {
			return err
		}
		var err error
		entries, err = l.history.ListByTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		return l.tickets.Update(tx, ticketID, map[string]any{repository.FieldHistory: entries})
	})
	l.metrics.RecordRepair(err == nil)
	if err != nil {
		return nil, err
	}
	l.logger.Info("history resynced", zap.String("ticket_id", ticketID), zap.Int("entries", len(entries)))
	return entries, nil
}

// Report describes how a ticket's history array differs from its log.
type Report struct {
	TicketID   string   `json:"ticketId"`
	Divergent  bool     `json:"divergent"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
	OutOfOrder bool     `json:"outOfOrder"`
	Skewed     []string `json:"skewed,omitempty"`
}

// Verify compares the ticket's history array with its log. An array entry is
// skewed when its timestamp is further than the configured tolerance from the
// log's server timestamp. Divergent tickets are queued for repair.
func (l *Log) Verify(ctx context.Context, ticketID string) (Report, error) {
	report := Report{TicketID: ticketID}
	ticket, err := l.tickets.Get(ctx, ticketID)
	if err != nil {
		return report, err
	}
	entries, err := l.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return report, err
	}

	logged := make(map[string]domain.HistoryEntry, len(entries))
	for _, e := range entries {
		logged[e.ID] = e
	}
	mirrored := make(map[string]bool, len(ticket.History))
	var order []string
	for _, e := range ticket.History {
		source, ok := logged[e.ID]
		if !ok || mirrored[e.ID] {
			report.Unexpected = append(report.Unexpected, e.ID)
			continue
		}
		mirrored[e.ID] = true
		order = append(order, e.ID)
		if skew := e.Timestamp.Sub(source.Timestamp); skew > l.maxSkew || -skew > l.maxSkew {
			report.Skewed = append(report.Skewed, e.ID)
		}
	}
	var expected []string
	for _, e := range entries {
		if !mirrored[e.ID] {
			report.Missing = append(report.Missing, e.ID)
			continue
		}
		expected = append(expected, e.ID)
	}
	for i := range order {
		if order[i] != expected[i] {
			report.OutOfOrder = true
			break
		}
	}

	report.Divergent = len(report.Missing) > 0 || len(report.Unexpected) > 0 || report.OutOfOrder || len(report.Skewed) > 0
	if report.Divergent {
		if err := l.queue.Enqueue(ctx, ticketID); err != nil {
			return report, err
		}
	}
	return report, nil
}
