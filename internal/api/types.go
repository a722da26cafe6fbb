package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/adherence"
	"github.com/gmsas95/dosewise/internal/config"
	"github.com/gmsas95/dosewise/internal/cron"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/reminders"
)

// BadgeSource exposes the latest badge poll
type BadgeSource interface {
	Badge() cron.Badge
}

// Deps are the domain services behind the HTTP surface
type Deps struct {
	Scheduler  *reminders.Scheduler
	Ledger     *adherence.Ledger
	Aggregator *adherence.Aggregator
	Badges     BadgeSource
	Metrics    *metrics.Metrics
}

type Server struct {
	app        *fiber.App
	config     *config.Config
	scheduler  *reminders.Scheduler
	ledger     *adherence.Ledger
	aggregator *adherence.Aggregator
	badges     BadgeSource
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	logger     *zap.Logger
	now        func() time.Time
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}

	s := &Server{
		config:     cfg,
		scheduler:  deps.Scheduler,
		ledger:     deps.Ledger,
		aggregator: deps.Aggregator,
		badges:     deps.Badges,
		metrics:    deps.Metrics,
		registry:   deps.Metrics.Registry(),
		logger:     logger,
		now:        time.Now,
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})

	s.setupRoutes()
	return s
}

// WithClock overrides the clock used for pending and status answers
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// App exposes the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

type scheduleRequest struct {
	MedicineID string `json:"medicine_id"`
	DoseIndex  int    `json:"dose_index"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	// DTStart is RFC 3339, or "YYYY-MM-DDTHH:MM" read in Timezone
	DTStart  string `json:"dtstart"`
	Timezone string `json:"timezone"`
	// RRule wins over Frequency when both are set
	RRule           string `json:"rrule"`
	Frequency       string `json:"frequency"`
	OccurrenceCount int    `json:"occurrence_count"`
}

type completeRequest struct {
	Taken *bool `json:"taken"`
}

type adherenceRequest struct {
	MedicineID string `json:"medicine_id"`
	Date       string `json:"date"`
	// Time is a clock string or a date-time; see adherence.ParseTimeInput
	Time  string `json:"time"`
	Taken bool   `json:"taken"`
}
