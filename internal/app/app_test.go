package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/config"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/model"
)

const twoDosePlan = `
timezone: UTC
medicines:
  - id: aspirin
    name: Aspirin
    dosage: 1 tablet
    frequency: daily
    times: ["08:00", "20:00"]
    start: 2030-01-01
    occurrence_count: 3
`

const oneDosePlan = `
timezone: UTC
medicines:
  - id: aspirin
    name: Aspirin
    frequency: daily
    times: ["08:00"]
    start: 2030-01-01
    occurrence_count: 3
`

func testConfig(dir string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:      "127.0.0.1",
			Port:         8088,
			ReadTimeout:  30,
			WriteTimeout: 30,
			AllowOrigins: []string{"*"},
		},
		Storage: config.StorageConfig{
			Backend:    config.BackendSQLite,
			SQLitePath: ":memory:",
			BadgerPath: filepath.Join(dir, "badger"),
		},
		Schedule: config.ScheduleConfig{
			DefaultTimezone: "UTC",
			OccurrenceCap:   5,
			PollInterval:    "@every 1h",
			PlanFile:        filepath.Join(dir, "plan.yaml"),
		},
		Dispatch: config.DispatchConfig{
			Burst:           10,
			BreakerFailures: 5,
			BreakerTimeout:  30,
		},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	a := New(testConfig(t.TempDir()), zap.NewNop(), "test")
	a.Metrics = metrics.New()
	require.NoError(t, a.Init())
	t.Cleanup(a.Shutdown)
	return a
}

func writePlan(t *testing.T, a *App, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(a.Config.Schedule.PlanFile, []byte(content), 0o600))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		version string
	}{
		{"create app with version", "1.0.0"},
		{"create app with dev version", "dev"},
		{"create app with empty version", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := New(nil, nil, tt.version)
			if app == nil {
				t.Fatal("expected app to be created, got nil")
			}
			if app.Version != tt.version {
				t.Errorf("expected version %q, got %q", tt.version, app.Version)
			}
			if app.Metrics == nil {
				t.Error("expected default metrics")
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	st, err := OpenStore(config.StorageConfig{Backend: config.BackendBadger, BadgerPath: filepath.Join(dir, "badger")})
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, st.Close())

	st, err = OpenStore(config.StorageConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(dir, "kv.db")})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = OpenStore(config.StorageConfig{Backend: "redis"})
	assert.Error(t, err)
}

func TestInitRejectsBadPollSpec(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Schedule.PollInterval = "whenever"

	a := New(cfg, zap.NewNop(), "test")
	a.Metrics = metrics.New()
	err := a.Init()
	assert.Error(t, err)
	a.Shutdown()
}

func TestApplyPlan(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	planned, err := a.ApplyPlan(ctx)
	require.NoError(t, err)
	assert.Empty(t, planned, "missing plan file is an empty plan")

	writePlan(t, a, twoDosePlan)
	planned, err = a.ApplyPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"aspirin-0": true, "aspirin-1": true}, planned)

	specs := a.Scheduler.ActiveSpecs(ctx)
	require.Len(t, specs, 2)
	assert.Equal(t, "20:00", specs[1].TimeOfDay)
	assert.Len(t, a.Scheduler.Issued(ctx, "aspirin-0"), 3)
	assert.Equal(t, 6, a.Timers.Pending())

	// reapplying is idempotent
	_, err = a.ApplyPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, a.Timers.Pending())

	writePlan(t, a, oneDosePlan)
	_, err = a.ApplyPlan(ctx)
	require.NoError(t, err)

	specs = a.Scheduler.ActiveSpecs(ctx)
	require.Len(t, specs, 1)
	assert.Equal(t, "aspirin-0", specs[0].ScheduleID)
	assert.Empty(t, a.Scheduler.Issued(ctx, "aspirin-1"))
	assert.Equal(t, 3, a.Timers.Pending())
}

func TestApplyPlanInvalid(t *testing.T) {
	a := newTestApp(t)
	writePlan(t, a, "medicines:\n  - id: a\n    frequency: hourly\n    times: [\"08:00\"]\n")

	_, err := a.ApplyPlan(context.Background())
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	spec := model.ScheduleSpec{
		ScheduleID: "vitd-0",
		MedicineID: "vitd",
		DTStart:    time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
		RRule:      "FREQ=WEEKLY;BYDAY=TU,FR",
	}
	_, err := a.Scheduler.Reschedule(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Timers.Pending())

	assert.Equal(t, 0, a.Restore(ctx, map[string]bool{"vitd-0": true}))
	assert.Equal(t, 1, a.Restore(ctx, nil))
	assert.Equal(t, 5, a.Timers.Pending())
	assert.Len(t, a.Scheduler.Issued(ctx, "vitd-0"), 5)
}

func TestStart(t *testing.T) {
	a := newTestApp(t)
	writePlan(t, a, twoDosePlan)

	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.CronRunner.IsRunning())

	assert.Eventually(t, func() bool {
		return !a.CronRunner.Badge().CheckedAt.IsZero()
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := a.Server.App().Test(httptest.NewRequest("GET", "/api/schedules", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRestoreKeepsDeliveredReminders(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	spec := model.ScheduleSpec{
		ScheduleID: "vitd-0",
		MedicineID: "vitd",
		DTStart:    time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
		Timezone:   "UTC",
		RRule:      "FREQ=WEEKLY;BYDAY=TU,FR",
	}
	issued, err := a.Scheduler.Reschedule(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, a.Scheduler.MarkTriggered(ctx, "vitd-0", issued[0].ID))

	after := issued[0].TriggerAt.Add(time.Hour)
	require.Len(t, a.Scheduler.Pending(ctx, after), 1)

	assert.Equal(t, 1, a.Restore(ctx, nil))

	pending := a.Scheduler.Pending(ctx, after)
	require.Len(t, pending, 1)
	assert.Equal(t, issued[0].ID, pending[0].ID)
	assert.Len(t, a.Scheduler.Issued(ctx, "vitd-0"), 5)
}
