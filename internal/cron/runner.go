// Package cron runs the periodic badge poll that counts pending reminders
// and today's dose status. It only reads; all writes go through the
// scheduler and the ledger.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/adherence"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/model"
)

// DefaultSpec polls twice a minute
const DefaultSpec = "@every 30s"

// pollTimeout bounds a single poll
const pollTimeout = 10 * time.Second

// ReminderSource is the read side of the reminder scheduler
type ReminderSource interface {
	Pending(ctx context.Context, now time.Time) []model.IssuedReminder
	ActiveSpecs(ctx context.Context) []model.ScheduleSpec
}

// DaySource lists the expected doses of a day
type DaySource interface {
	Today() string
	DayDetail(ctx context.Context, date string, specs []model.ScheduleSpec, now time.Time) ([]adherence.DoseView, error)
}

// Config holds cron runner configuration
type Config struct {
	// Spec is a cron expression or descriptor such as "@every 30s"
	Spec     string
	Location *time.Location
}

// Badge is the result of the latest poll
type Badge struct {
	Pending     int       `json:"pending"`
	Date        string    `json:"date"`
	DueToday    int       `json:"due_today"`
	TakenToday  int       `json:"taken_today"`
	MissedToday int       `json:"missed_today"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Runner manages the badge poll
type Runner struct {
	config    Config
	reminders ReminderSource
	days      DaySource
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	cron    *robfigcron.Cron
	running bool
	badge   Badge
	mu      sync.RWMutex
}

// NewRunner creates a runner. The spec is validated here so a bad
// expression fails at startup rather than on Start.
func NewRunner(config Config, reminders ReminderSource, days DaySource, logger *zap.Logger) (*Runner, error) {
	if config.Spec == "" {
		config.Spec = DefaultSpec
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if _, err := robfigcron.ParseStandard(config.Spec); err != nil {
		return nil, fmt.Errorf("invalid poll spec %q: %w", config.Spec, err)
	}

	return &Runner{
		config:    config,
		reminders: reminders,
		days:      days,
		metrics:   metrics.Default(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// WithMetrics sets the metrics sink
func (r *Runner) WithMetrics(m *metrics.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithClock overrides the poll clock
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Start polls once and then on every tick of the cron expression
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	log := zapLogger{r.logger}
	c := robfigcron.New(
		robfigcron.WithLocation(r.config.Location),
		robfigcron.WithLogger(log),
		robfigcron.WithChain(robfigcron.Recover(log), robfigcron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(r.config.Spec, r.tick); err != nil {
		return fmt.Errorf("failed to add poll job: %w", err)
	}

	r.cron = c
	r.running = true
	c.Start()
	go r.tick()

	r.logger.Info("Cron runner started", zap.String("spec", r.config.Spec))
	return nil
}

// Stop stops the schedule and waits for a running poll to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	<-c.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Badge returns the result of the latest poll
func (r *Runner) Badge() Badge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.badge
}

func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	r.Poll(ctx)
}

// Poll runs one check and stores the resulting badge
func (r *Runner) Poll(ctx context.Context) Badge {
	now := r.now()
	badge := Badge{
		Pending:   len(r.reminders.Pending(ctx, now)),
		Date:      r.days.Today(),
		CheckedAt: now,
	}

	doses, err := r.days.DayDetail(ctx, badge.Date, r.reminders.ActiveSpecs(ctx), now)
	if err != nil {
		r.logger.Warn("Failed to list today's doses", zap.String("date", badge.Date), zap.Error(err))
	}
	for _, d := range doses {
		if !d.Scheduled {
			continue
		}
		badge.DueToday++
		switch d.Status {
		case model.DoseTaken:
			badge.TakenToday++
		case model.DoseMissed:
			badge.MissedToday++
		}
	}

	r.metrics.RecordPoll()
	r.metrics.SetPendingReminders(int64(badge.Pending))

	r.mu.Lock()
	r.badge = badge
	r.mu.Unlock()

	if badge.Pending > 0 {
		r.logger.Debug("Pending reminders",
			zap.Int("pending", badge.Pending),
			zap.Int("due_today", badge.DueToday),
			zap.Int("taken_today", badge.TakenToday),
		)
	}
	return badge
}

// zapLogger adapts zap to the cron library's logger
type zapLogger struct {
	l *zap.Logger
}

func (z zapLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Sugar().Debugw(msg, keysAndValues...)
}

func (z zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
