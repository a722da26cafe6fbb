package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
)

// Storage backends
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for dosewise
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StorageConfig selects the key-value backend
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// ScheduleConfig holds reminder expansion settings
type ScheduleConfig struct {
	// DefaultTimezone is used by the ledger and by plan entries without a zone
	DefaultTimezone string `mapstructure:"default_timezone"`
	OccurrenceCap   int    `mapstructure:"occurrence_cap"`
	// PollInterval is a cron expression or descriptor for the badge poll
	PollInterval string `mapstructure:"poll_interval"`
	PlanFile     string `mapstructure:"plan_file"`
}

// DispatchConfig guards the reminder dispatcher
type DispatchConfig struct {
	RatePerMinute   int `mapstructure:"rate_per_minute"`
	Burst           int `mapstructure:"burst"`
	BreakerFailures int `mapstructure:"breaker_failures"`
	BreakerTimeout  int `mapstructure:"breaker_timeout"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}
	dataDir = expandPath(dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "dosewise.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("schedule.plan_file", filepath.Join(dataDir, "plan.yaml"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "dosewise.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "failed to read config")
		}
	}

	// DOSEWISE_SERVER_PORT, DOSEWISE_SCHEDULE_DEFAULT_TIMEZONE, ...
	v.SetEnvPrefix("DOSEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("storage.backend", BackendBadger)

	v.SetDefault("schedule.default_timezone", "Local")
	v.SetDefault("schedule.occurrence_cap", 30)
	v.SetDefault("schedule.poll_interval", "@every 30s")

	v.SetDefault("dispatch.rate_per_minute", 0)
	v.SetDefault("dispatch.burst", 10)
	v.SetDefault("dispatch.breaker_failures", 5)
	v.SetDefault("dispatch.breaker_timeout", 30)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dosewise")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "dosewise")
}

// loadEnvOverrides applies the short env aliases that AutomaticEnv cannot see
func loadEnvOverrides(cfg *Config) {
	if val := ResolveEnvWithAliases("DOSEWISE_SERVER_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Schedule.DefaultTimezone = firstSet(ResolveEnvWithAliases("DOSEWISE_SCHEDULE_DEFAULT_TIMEZONE"), cfg.Schedule.DefaultTimezone)
	cfg.Schedule.PlanFile = firstSet(ResolveEnvWithAliases("DOSEWISE_SCHEDULE_PLAN_FILE"), cfg.Schedule.PlanFile)
	cfg.Storage.Backend = firstSet(ResolveEnvWithAliases("DOSEWISE_STORAGE_BACKEND"), cfg.Storage.Backend)

	cfg.Schedule.PlanFile = expandPath(cfg.Schedule.PlanFile)
	cfg.Storage.SQLitePath = expandPath(cfg.Storage.SQLitePath)
	cfg.Storage.BadgerPath = expandPath(cfg.Storage.BadgerPath)
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return apperrors.Detail(apperrors.ErrConfigInvalid, "storage.backend must be %q or %q, got %q",
			BackendBadger, BackendSQLite, cfg.Storage.Backend)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return apperrors.Detail(apperrors.ErrConfigInvalid, "server.port %d out of range", cfg.Server.Port)
	}

	if _, err := time.LoadLocation(cfg.Schedule.DefaultTimezone); err != nil {
		return apperrors.Detail(apperrors.ErrConfigInvalid, "schedule.default_timezone %q is not an IANA zone", cfg.Schedule.DefaultTimezone)
	}

	if cfg.Schedule.OccurrenceCap <= 0 {
		return apperrors.Detail(apperrors.ErrConfigInvalid, "schedule.occurrence_cap must be positive")
	}

	if cfg.Dispatch.RatePerMinute < 0 || cfg.Dispatch.Burst < 0 {
		return apperrors.Detail(apperrors.ErrConfigInvalid, "dispatch rate and burst must not be negative")
	}

	return nil
}

// Location resolves the default schedule zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.DefaultTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ListenAddr is the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
