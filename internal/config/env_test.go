package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// unsetEnv clears keys for the test and restores them afterwards
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeEnvFile(t, `# dosewise overrides
DOSEWISE_TIMEZONE=Europe/Berlin
DOSEWISE_PLAN="/srv/dosewise/plan.yaml"
DOSEWISE_STORE='sqlite'
export PORT=9090
`)
	unsetEnv(t, "DOSEWISE_TIMEZONE", "DOSEWISE_PLAN", "DOSEWISE_STORE", "PORT")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}

	want := map[string]string{
		"DOSEWISE_TIMEZONE": "Europe/Berlin",
		"DOSEWISE_PLAN":     "/srv/dosewise/plan.yaml",
		"DOSEWISE_STORE":    "sqlite",
		"PORT":              "9090",
	}
	for key, value := range want {
		if got := os.Getenv(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
}

func TestLoadEnvFileKeepsProcessEnv(t *testing.T) {
	path := writeEnvFile(t, "DOSEWISE_TIMEZONE=Asia/Tokyo\n")
	t.Setenv("DOSEWISE_TIMEZONE", "America/Chicago")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("DOSEWISE_TIMEZONE"); got != "America/Chicago" {
		t.Errorf("process env overwritten: %q", got)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	unsetEnv(t, "DOSEWISE_STORAGE_BACKEND", "DOSEWISE_STORE", "DOSEWISE_SERVER_PORT", "PORT")

	if got := ResolveEnvWithAliases("DOSEWISE_STORAGE_BACKEND"); got != "" {
		t.Errorf("unset key resolved to %q", got)
	}

	t.Setenv("DOSEWISE_STORE", "sqlite")
	if got := ResolveEnvWithAliases("DOSEWISE_STORAGE_BACKEND"); got != "sqlite" {
		t.Errorf("alias not used: %q", got)
	}

	t.Setenv("DOSEWISE_STORAGE_BACKEND", "badger")
	if got := ResolveEnvWithAliases("DOSEWISE_STORAGE_BACKEND"); got != "badger" {
		t.Errorf("canonical key should win over alias: %q", got)
	}

	t.Setenv("PORT", "7000")
	if got := ResolveEnvWithAliases("DOSEWISE_SERVER_PORT"); got != "7000" {
		t.Errorf("PORT alias not used: %q", got)
	}

	if got := ResolveEnvWithAliases("DOSEWISE_UNKNOWN"); got != "" {
		t.Errorf("key without aliases resolved to %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cases := map[string]string{
		"~":                  home,
		"~/.dosewise/plan":   filepath.Join(home, ".dosewise", "plan"),
		"/var/lib/dosewise":  "/var/lib/dosewise",
		"data/dosewise.db":   "data/dosewise.db",
		"~other/dosewise.db": "~other/dosewise.db",
	}
	for in, want := range cases {
		if got := expandPath(in); got != want {
			t.Errorf("expandPath(%q) = %q, want %q", in, got, want)
		}
	}
}
