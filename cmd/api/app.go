package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tallerflow/ticket-service/internal/api/http/handlers"
	"github.com/tallerflow/ticket-service/internal/audit"
	"github.com/tallerflow/ticket-service/internal/clock"
	"github.com/tallerflow/ticket-service/internal/config"
	"github.com/tallerflow/ticket-service/internal/events"
	"github.com/tallerflow/ticket-service/internal/observability"
	"github.com/tallerflow/ticket-service/internal/persistence"
	"github.com/tallerflow/ticket-service/internal/repository"
	"github.com/tallerflow/ticket-service/internal/sequence"
	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/store"
	"github.com/tallerflow/ticket-service/internal/workflow"
)

// application holds the wired service graph shared by every subcommand.
type application struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
	dispatcher events.Dispatcher
	queue      audit.RepairQueue
	tickets    *service.TicketService
	auth       *service.AuthService
	pg         *persistence.Postgres
	redis      *persistence.Redis
	bridge     *events.RedisBridge
	checks     map[string]handlers.Pinger
}

func loadApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	a := &application{
		cfg:        cfg,
		logger:     logger,
		metrics:    observability.NewMetrics(),
		dispatcher: events.NewInMemoryDispatcher(),
		checks:     map[string]handlers.Pinger{},
	}

	wf, err := config.LoadWorkflow(cfg.Workflow.File)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	clk := clock.System{}
	var docs store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pg = pg
		a.checks["postgres"] = pg
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
				a.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		docs = store.NewPostgres(pg.PoolHandle(), logger)
	default:
		logger.Warn("using in-memory document store; data is lost on restart")
		docs = store.NewMemory(clk)
	}

	if cfg.Redis.Enabled {
		a.redis = persistence.NewRedis(cfg.Redis, logger)
		a.checks["redis"] = a.redis
		a.bridge = events.NewRedisBridge(a.redis.Client, cfg.Redis.EventChannel, a.dispatcher, logger)
	}
	if a.redis != nil && cfg.Store.UseRedisForRepair {
		a.queue = audit.NewRedisRepairQueue(a.redis.Client, cfg.Redis.RepairSetKey)
	} else {
		a.queue = audit.NewMemoryRepairQueue()
	}

	retry := store.RetryPolicy{MaxAttempts: cfg.Store.TxMaxAttempts, BaseBackoff: cfg.Store.BaseBackoff()}
	tickets := repository.NewTicketRepository(docs)
	auditLog := audit.NewLog(docs, tickets, repository.NewTicketHistoryRepository(docs), clk, audit.Options{
		Retry:   retry,
		Queue:   a.queue,
		MaxSkew: cfg.Store.MaxClockSkew(),
		Metrics: a.metrics,
		Logger:  logger,
	})
	engine := workflow.NewEngine(wf, docs, tickets, auditLog, clk, retry, a.metrics, logger)

	a.tickets = service.NewTicketService(service.TicketDependencies{
		Store:      docs,
		TicketRepo: tickets,
		Audit:      auditLog,
		Allocator:  sequence.NewAllocator(clk, cfg.Workflow.Location()),
		Engine:     engine,
		Clock:      clk,
		Retry:      retry,
		Dispatcher: a.dispatcher,
		Metrics:    a.metrics,
		Logger:     logger,
	})
	a.auth = service.NewAuthService(*cfg, logger)

	logger.Info("service wired",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", a.redis != nil),
		zap.Int("areas", len(wf.Areas())),
		zap.String("timezone", cfg.Workflow.Timezone),
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *application) Close() {
	a.redis.Close()
	a.pg.Close()
	_ = a.logger.Sync()
}
