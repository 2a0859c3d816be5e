package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/api/http/handlers"
	"github.com/campus-care/counseling-service/internal/auth"
	"github.com/campus-care/counseling-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Schedules      *handlers.SchedulesHandler
	Notifications  *handlers.NotificationsHandler
	Counselors     *handlers.CounselorsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := api.Group("/tickets")
	tickets.Post("/", auth.RequireRole(domain.RoleStudent), cfg.Tickets.CreateTicket)
	tickets.Get("/my-tickets", cfg.Tickets.ListMyTickets)
	tickets.Get("/available", auth.RequireCounselor(), cfg.Tickets.ListAvailable)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/messages", cfg.Tickets.ListMessages)
	tickets.Get("/:id/history", auth.RequireCounselor(), cfg.Tickets.ListHistory)
	tickets.Patch("/:id", auth.RequireCounselor(), cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/assign-to-me", auth.RequireCounselor(), cfg.Tickets.AssignToMe)

	schedules := api.Group("/schedules")
	schedules.Post("/", auth.RequireRole(domain.RoleStudent), cfg.Schedules.CreateSchedule)
	schedules.Get("/", cfg.Schedules.ListSchedules)
	schedules.Get("/upcoming", cfg.Schedules.ListUpcoming)
	schedules.Patch("/:id/cancel", cfg.Schedules.CancelSchedule)
	schedules.Patch("/:id/complete", cfg.Schedules.CompleteSchedule)
	schedules.Patch("/:id/confirm", cfg.Schedules.ConfirmSchedule)

	api.Get("/counselors/available", cfg.Counselors.ListAvailable)

	notifications := api.Group("/notifications")
	notifications.Post("/broadcast", auth.RequireRole(domain.RoleAdmin), cfg.Notifications.Broadcast)
}
