package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/tallerflow/ticket-service/internal/api/http"
	"github.com/tallerflow/ticket-service/internal/api/http/handlers"
	"github.com/tallerflow/ticket-service/internal/auth"
	"github.com/tallerflow/ticket-service/internal/service"
	"github.com/tallerflow/ticket-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := loadApplication(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	worker.StartNotificationWorker(service.NewNotificationService(a.dispatcher, logger, cfg.Notification))
	if a.bridge != nil {
		go func() {
			if err := a.bridge.Run(ctx); err != nil {
				logger.Error("event bridge stopped", zap.Error(err))
			}
		}()
	}

	scheduler, err := worker.NewScheduler(cfg.Jobs, worker.NewMaintenance(a.tickets, a.queue, a.metrics, logger), logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, a.metrics, cfg.App.RequestTimeout())
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, cfg.Store.Driver, a.checks),
		Auth:           handlers.NewAuthHandler(a.auth),
		Tickets:        handlers.NewTicketsHandler(a.tickets),
		Stream:         handlers.NewStreamHandler(a.tickets, 15*time.Second, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        a.metrics,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		if err != nil {
			logger.Error("fiber listen", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
