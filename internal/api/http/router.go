package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tallerflow/ticket-service/internal/api/http/handlers"
	"github.com/tallerflow/ticket-service/internal/auth"
	"github.com/tallerflow/ticket-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	app.Post("/auth/login", cfg.Auth.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleOperator, auth.RoleSupervisor))
	protected.Get("/workflow", cfg.Tickets.Workflow)
	protected.Get("/board/sla", cfg.Tickets.BoardSLA)
	protected.Post("/batches", cfg.Tickets.CreateBatch)

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	if cfg.Stream != nil {
		tickets.Get("/stream", cfg.Stream.Stream)
	}
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
	tickets.Post("/:id/qa", cfg.Tickets.SetQAProgress)
	tickets.Post("/:id/move", cfg.Tickets.MoveTicket)
	tickets.Post("/:id/move/preview", cfg.Tickets.PreviewMove)
	tickets.Post("/:id/close", cfg.Tickets.CloseTicket)
	tickets.Post("/:id/restore", cfg.Tickets.RestoreTicket)
	tickets.Get("/:id/sla", cfg.Tickets.GetSLA)
	tickets.Get("/:id/history", cfg.Tickets.GetHistory)
	tickets.Get("/:id/history/verify", cfg.Tickets.VerifyHistory)
	tickets.Post("/:id/history/resync", auth.RequireSupervisor(), cfg.Tickets.ResyncHistory)
}
