package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Server.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.app.Get("/api/metrics", s.handleMetricsJSON)

	api := s.app.Group("/api")

	api.Get("/badge", s.handleBadge)
	api.Get("/calendar.ics", s.handleCalendarFeed)

	api.Get("/schedules", s.handleListSchedules)
	api.Get("/schedules/:id", s.handleGetSchedule)
	api.Put("/schedules/:id", s.handleReschedule)
	api.Delete("/schedules/:id", s.handleCancelSchedule)
	api.Get("/schedules/:id/reminders", s.handleListReminders)
	api.Get("/schedules/:id/calendar.ics", s.handleScheduleCalendar)
	api.Post("/schedules/:id/reminders/:handle/trigger", s.handleTriggerReminder)
	api.Post("/schedules/:id/reminders/:handle/complete", s.handleCompleteReminder)

	api.Get("/reminders/pending", s.handlePendingReminders)

	api.Get("/adherence", s.handleGetTaken)
	api.Put("/adherence", s.handleSetTaken)
	api.Post("/adherence/toggle", s.handleToggleTaken)
	api.Get("/adherence/records", s.handleListRecords)
	api.Get("/adherence/percentage", s.handlePercentage)
	api.Get("/adherence/streak", s.handleStreak)

	api.Get("/days/:date", s.handleDay)
	api.Get("/calendar/:year/:month", s.handleCalendar)
}

func (s *Server) Start() error {
	return s.app.Listen(s.config.ListenAddr())
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
