package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/config"
)

const jobTimeout = 2 * time.Minute

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler registers the repair and SLA sweeps. An empty schedule
// disables its job.
func NewScheduler(cfg config.JobsConfig, m *Maintenance, logger *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) error
	}{
		{"repair_sweep", cfg.RepairSchedule, func(ctx context.Context) error {
			_, err := m.RepairSweep(ctx)
			return err
		}},
		{"sla_sweep", cfg.SLASweepSchedule, func(ctx context.Context) error {
			_, err := m.SLASweep(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			logger.Info("job disabled", zap.String("job", job.name))
			continue
		}
		job := job
		if _, err := c.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				logger.Warn("job failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("worker: schedule %s %q: %w", job.name, job.schedule, err)
		}
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
