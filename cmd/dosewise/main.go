package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/app"
	"github.com/gmsas95/dosewise/internal/config"
	"github.com/gmsas95/dosewise/internal/ics"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/plan"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	version    = "dev"
)

func main() {
	flag.Usage = printHelp
	flag.Parse()

	switch flag.Arg(0) {
	case "", "serve":
		runServer()
	case "check":
		runCheck()
	case "ics":
		runExport()
	case "version":
		fmt.Printf("dosewise version %s\n", version)
	case "help":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		printHelp()
		os.Exit(2)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `dosewise - medication reminders and adherence tracking

Usage:
  dosewise [flags] [command]

Commands:
  serve     Run the scheduler and HTTP API (default)
  check     Validate the config and plan file and list the schedules
  ics       Print the plan as an iCalendar feed
  version   Print the version

Flags:
`)
	flag.PrintDefaults()
}

func loadConfig() *config.Config {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Failed to load .env files: %v", err)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

func runServer() {
	cfg := loadConfig()
	logger := newLogger()
	defer logger.Sync()

	logger.Info("Starting dosewise",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	application := app.New(cfg, logger, version)
	if err := application.Init(); err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	application.RunServer()
}

func planSpecs(cfg *config.Config) []model.ScheduleSpec {
	p, err := plan.Load(cfg.Schedule.PlanFile)
	if err != nil {
		log.Fatalf("Failed to load plan: %v", err)
	}
	specs, err := p.Specs(cfg.Location().String(), time.Now())
	if err != nil {
		log.Fatalf("Invalid plan: %v", err)
	}
	return specs
}

func runCheck() {
	cfg := loadConfig()
	specs := planSpecs(cfg)

	fmt.Printf("Config OK (storage: %s, timezone: %s)\n", cfg.Storage.Backend, cfg.Location())
	fmt.Printf("Plan: %s\n\n", cfg.Schedule.PlanFile)
	if len(specs) == 0 {
		fmt.Println("No medicines planned.")
		return
	}
	for _, s := range specs {
		fmt.Printf("  %-20s %s %-18s %s\n", s.ScheduleID, s.TimeOfDay, s.Timezone, s.RRule)
	}
}

func runExport() {
	cfg := loadConfig()
	fmt.Print(ics.Export(planSpecs(cfg), time.Now()))
}
