package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files without overriding variables already set
func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".dosewise", ".env"),
			filepath.Join(home, ".config", "dosewise", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := loadEnvFile(path); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadEnvFile sets the variables of one .env file that are not already set
func loadEnvFile(path string) error {
	return godotenv.Load(path)
}

var envAliases = map[string][]string{
	"DOSEWISE_SERVER_PORT":               {"PORT"},
	"DOSEWISE_SCHEDULE_DEFAULT_TIMEZONE": {"DOSEWISE_TIMEZONE"},
	"DOSEWISE_SCHEDULE_PLAN_FILE":        {"DOSEWISE_PLAN"},
	"DOSEWISE_STORAGE_BACKEND":           {"DOSEWISE_STORE"},
}

// ResolveEnvWithAliases reads the canonical key and then its short aliases
func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		for _, alias := range aliases {
			if val := os.Getenv(alias); val != "" {
				return val
			}
		}
	}

	return ""
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
