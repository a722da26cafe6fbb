package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gmsas95/dosewise/internal/adherence"
	"github.com/gmsas95/dosewise/internal/api"
	"github.com/gmsas95/dosewise/internal/config"
	"github.com/gmsas95/dosewise/internal/cron"
	"github.com/gmsas95/dosewise/internal/dispatch"
	"github.com/gmsas95/dosewise/internal/kv"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/plan"
	"github.com/gmsas95/dosewise/internal/reminders"
)

type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Version string

	Store      kv.Store
	Timers     *dispatch.TimerDispatcher
	Breaker    *dispatch.Breaker
	Scheduler  *reminders.Scheduler
	Ledger     *adherence.Ledger
	Aggregator *adherence.Aggregator
	CronRunner *cron.Runner
	Server     *api.Server
}

func New(cfg *config.Config, logger *zap.Logger, version string) *App {
	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.Default(),
		Version: version,
	}
}

// OpenStore opens the configured key-value backend
func OpenStore(cfg config.StorageConfig) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.BackendBadger, "":
		st, err := kv.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Init wires storage, dispatch, scheduling, the ledger and the HTTP surface.
// An already set Store is kept, which lets tests run on an in-memory one.
func (app *App) Init() error {
	if app.Store == nil {
		st, err := OpenStore(app.Config.Storage)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		app.Store = st
	}

	dcfg := app.Config.Dispatch
	app.Timers = dispatch.NewTimerDispatcher(app.Logger)
	app.Breaker = dispatch.NewBreaker(app.Timers, dispatch.BreakerConfig{
		ConsecutiveFailures: uint32(dcfg.BreakerFailures),
		OpenTimeout:         time.Duration(dcfg.BreakerTimeout) * time.Second,
	}, app.Logger)
	dispatcher := dispatch.NewRateLimited(app.Breaker, dcfg.RatePerMinute, dcfg.Burst)

	loc := app.Config.Location()
	app.Ledger = adherence.NewLedger(app.Store, loc, app.Logger).WithMetrics(app.Metrics)
	app.Aggregator = adherence.NewAggregator(app.Ledger, app.Logger)

	app.Scheduler = reminders.NewScheduler(app.Store, dispatcher, app.Logger).
		WithRecorder(app.Ledger).
		WithMetrics(app.Metrics).
		WithOccurrenceCap(app.Config.Schedule.OccurrenceCap)
	app.Timers.OnDeliver(app.Scheduler.HandleDelivery)

	runner, err := cron.NewRunner(cron.Config{
		Spec:     app.Config.Schedule.PollInterval,
		Location: loc,
	}, app.Scheduler, app.Aggregator, app.Logger)
	if err != nil {
		return err
	}
	app.CronRunner = runner.WithMetrics(app.Metrics)

	app.Server = api.New(app.Config, api.Deps{
		Scheduler:  app.Scheduler,
		Ledger:     app.Ledger,
		Aggregator: app.Aggregator,
		Badges:     app.CronRunner,
		Metrics:    app.Metrics,
	}, app.Logger)

	return nil
}

// ApplyPlan reschedules every dose time of the plan file. Schedules of a
// planned medicine that the plan no longer lists are cancelled. It returns
// the schedule ids it issued.
func (app *App) ApplyPlan(ctx context.Context) (map[string]bool, error) {
	p, err := plan.Load(app.Config.Schedule.PlanFile)
	if err != nil {
		return nil, err
	}

	specs, err := p.Specs(app.Config.Location().String(), time.Now())
	if err != nil {
		return nil, err
	}

	planned := make(map[string]bool, len(specs))
	medicines := make(map[string]bool)
	for _, spec := range specs {
		planned[spec.ScheduleID] = true
		medicines[spec.MedicineID] = true
	}

	for _, active := range app.Scheduler.ActiveSpecs(ctx) {
		if medicines[active.MedicineID] && !planned[active.ScheduleID] {
			if err := app.Scheduler.Cancel(ctx, active.ScheduleID); err != nil {
				app.Logger.Warn("Failed to cancel dropped dose time",
					zap.String("schedule_id", active.ScheduleID), zap.Error(err))
			}
		}
	}

	for _, spec := range specs {
		issued, err := app.Scheduler.Reschedule(ctx, spec)
		if err != nil {
			return planned, fmt.Errorf("schedule %s: %w", spec.ScheduleID, err)
		}
		app.Logger.Debug("Plan schedule issued",
			zap.String("schedule_id", spec.ScheduleID),
			zap.Int("reminders", len(issued)),
		)
	}

	app.Logger.Info("Medication plan applied",
		zap.String("plan", app.Config.Schedule.PlanFile),
		zap.Int("medicines", len(p.Medicines)),
		zap.Int("schedules", len(specs)),
	)
	return planned, nil
}

// restoreWorkers bounds concurrent re-expansion on startup
const restoreWorkers = 4

// Restore re-arms the stored schedules that skip lists, since in-process
// timers do not survive a restart. Schedules are independent, so they are
// reissued concurrently.
func (app *App) Restore(ctx context.Context, skip map[string]bool) int {
	var restored atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreWorkers)
	for _, spec := range app.Scheduler.ActiveSpecs(ctx) {
		if skip[spec.ScheduleID] {
			continue
		}
		spec := spec
		g.Go(func() error {
			if _, err := app.Scheduler.Reschedule(gctx, spec); err != nil {
				app.Logger.Warn("Failed to restore schedule",
					zap.String("schedule_id", spec.ScheduleID), zap.Error(err))
				return nil
			}
			restored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(restored.Load())
}

// Start applies the plan, restores stored schedules and starts the poller
func (app *App) Start(ctx context.Context) error {
	planned, err := app.ApplyPlan(ctx)
	if err != nil {
		return err
	}

	if n := app.Restore(ctx, planned); n > 0 {
		app.Logger.Info("Restored schedules", zap.Int("count", n))
	}

	return app.CronRunner.Start()
}

// Shutdown stops background work and closes the store
func (app *App) Shutdown() {
	if app.CronRunner != nil {
		app.CronRunner.Stop()
	}
	if app.Server != nil {
		if err := app.Server.Shutdown(); err != nil {
			app.Logger.Error("Server shutdown error", zap.Error(err))
		}
	}
	if app.Timers != nil {
		app.Timers.Stop()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Error("Failed to close store", zap.Error(err))
		}
	}
}

// RunServer starts everything and blocks until SIGINT or SIGTERM
func (app *App) RunServer() {
	if err := app.Start(context.Background()); err != nil {
		app.Logger.Fatal("Failed to start", zap.Error(err))
	}

	go func() {
		if err := app.Server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("version", app.Version),
		zap.String("address", app.Config.ListenAddr()),
		zap.String("storage", app.Config.Storage.Backend),
		zap.String("timezone", app.Config.Location().String()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")
	app.Shutdown()
}
