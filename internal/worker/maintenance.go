package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/audit"
	"github.com/tallerflow/ticket-service/internal/domain"
	"github.com/tallerflow/ticket-service/internal/observability"
	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/sla"
)

// DefaultRepairBatch bounds how many tickets one repair sweep resyncs.
const DefaultRepairBatch = 100

// Maintenance runs the background repair and SLA sweeps.
type Maintenance struct {
	tickets   *service.TicketService
	queue     audit.RepairQueue
	metrics   *observability.Metrics
	logger    *zap.Logger
	batchSize int
}

// NewMaintenance builds the job set.
func NewMaintenance(tickets *service.TicketService, queue audit.RepairQueue, metrics *observability.Metrics, logger *zap.Logger) *Maintenance {
	return &Maintenance{
		tickets:   tickets,
		queue:     queue,
		metrics:   metrics,
		logger:    logger,
		batchSize: DefaultRepairBatch,
	}
}

// RepairSweep resyncs the history array of queued tickets. Failed tickets
// are queued again; tickets that no longer exist are dropped.
func (m *Maintenance) RepairSweep(ctx context.Context) (int, error) {
	ids, err := m.queue.Drain(ctx, m.batchSize)
	if err != nil {
		return 0, err
	}
	repaired := 0
	var errs []error
	for _, id := range ids {
		_, err := m.tickets.ResyncHistory(ctx, id)
		switch {
		case err == nil:
			repaired++
		case errors.Is(err, domain.ErrTicketNotFound):
			m.logger.Debug("dropping repair for missing ticket", zap.String("ticket_id", id))
		default:
			errs = append(errs, err)
			m.logger.Warn("history repair failed", zap.String("ticket_id", id), zap.Error(err))
			if qerr := m.queue.Enqueue(ctx, id); qerr != nil {
				errs = append(errs, qerr)
			}
		}
	}
	if len(ids) > 0 {
		m.logger.Info("repair sweep finished", zap.Int("queued", len(ids)), zap.Int("repaired", repaired))
	}
	return repaired, errors.Join(errs...)
}

// SLASweep computes SLA status for all active tickets, publishes the counts
// as metrics and logs overdue tickets.
func (m *Maintenance) SLASweep(ctx context.Context) (map[string]map[string]int, error) {
	board, err := m.tickets.BoardSLA(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[string]map[string]int{}
	for _, entry := range board {
		area := string(entry.CurrentArea)
		if counts[area] == nil {
			counts[area] = map[string]int{}
		}
		counts[area][string(entry.SLA.Status)]++
		if entry.SLA.Status == sla.StatusDanger {
			m.logger.Warn("ticket overdue",
				zap.String("ticket_id", entry.TicketID),
				zap.String("area", area),
				zap.Duration("overdue", -entry.SLA.Remaining))
		}
	}
	m.metrics.SetSLACounts(counts)
	return counts, nil
}
