package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/adherence"
	"github.com/gmsas95/dosewise/internal/config"
	"github.com/gmsas95/dosewise/internal/cron"
	"github.com/gmsas95/dosewise/internal/dispatch"
	"github.com/gmsas95/dosewise/internal/kv"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/recurrence"
	"github.com/gmsas95/dosewise/internal/reminders"
)

type countingDispatcher struct {
	mu  sync.Mutex
	seq int
}

func (d *countingDispatcher) Schedule(context.Context, dispatch.Content, time.Time) (dispatch.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return dispatch.Handle(fmt.Sprintf("h%d", d.seq)), nil
}

func (d *countingDispatcher) Cancel(context.Context, dispatch.Handle) error {
	return nil
}

type staticBadge struct{ badge cron.Badge }

func (s staticBadge) Badge() cron.Badge { return s.badge }

type testEnv struct {
	server *Server
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store, err := kv.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{now: time.Date(2024, 3, 4, 7, 0, 0, 0, ny)}
	clock := func() time.Time { return env.now }

	m := metrics.New()
	ledger := adherence.NewLedger(store, ny, zap.NewNop()).WithMetrics(m).WithClock(clock)
	scheduler := reminders.NewScheduler(store, &countingDispatcher{}, zap.NewNop()).
		WithExpander(&recurrence.Expander{Now: clock}).
		WithRecorder(ledger).
		WithMetrics(m)
	aggregator := adherence.NewAggregator(ledger, zap.NewNop()).WithClock(clock)

	cfg := &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:  30,
			WriteTimeout: 30,
			AllowOrigins: []string{"*"},
		},
		Schedule: config.ScheduleConfig{DefaultTimezone: "America/New_York"},
	}

	env.server = New(cfg, Deps{
		Scheduler:  scheduler,
		Ledger:     ledger,
		Aggregator: aggregator,
		Badges:     staticBadge{cron.Badge{Pending: 2, Date: "2024-03-04"}},
		Metrics:    m,
	}, zap.NewNop()).WithClock(clock)

	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

const aspirinSchedule = `{
	"medicine_id": "med1",
	"title": "Aspirin",
	"body": "Take 1 tablet",
	"dtstart": "2024-03-04T08:00",
	"timezone": "America/New_York",
	"frequency": "daily",
	"occurrence_count": 3
}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "America/New_York", body["timezone"])
}

func TestReminderLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/schedules/med1-0", aspirinSchedule)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issued struct {
		ScheduleID string                 `json:"schedule_id"`
		RRule      string                 `json:"rrule"`
		Issued     int                    `json:"issued"`
		Reminders  []model.IssuedReminder `json:"reminders"`
	}
	decode(t, resp, &issued)
	assert.Equal(t, "med1-0", issued.ScheduleID)
	assert.Equal(t, "FREQ=DAILY;INTERVAL=1", issued.RRule)
	require.Equal(t, 3, issued.Issued)
	first := issued.Reminders[0].ID

	var specs []model.ScheduleSpec
	decode(t, env.do(t, http.MethodGet, "/api/schedules", ""), &specs)
	require.Len(t, specs, 1)
	assert.Equal(t, "08:00", specs[0].TimeOfDay)

	var listed []model.IssuedReminder
	decode(t, env.do(t, http.MethodGet, "/api/schedules/med1-0/reminders", ""), &listed)
	assert.Len(t, listed, 3)

	resp = env.do(t, http.MethodPost, "/api/schedules/med1-0/reminders/"+first+"/trigger", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	env.now = env.now.Add(2 * time.Hour)

	var pending []model.IssuedReminder
	decode(t, env.do(t, http.MethodGet, "/api/reminders/pending", ""), &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, first, pending[0].ID)

	resp = env.do(t, http.MethodPost, "/api/schedules/med1-0/reminders/"+first+"/complete", `{"taken": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done model.IssuedReminder
	decode(t, resp, &done)
	assert.True(t, done.Completed)

	var taken struct {
		Taken bool `json:"taken"`
		Known bool `json:"known"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/adherence?medicine_id=med1&date=2024-03-04&time=08:00", ""), &taken)
	assert.True(t, taken.Taken)
	assert.True(t, taken.Known)

	var day struct {
		Status model.DayStatus       `json:"status"`
		Doses  []adherence.DoseView `json:"doses"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/days/2024-03-04", ""), &day)
	assert.Equal(t, model.DayComplete, day.Status)
	require.Len(t, day.Doses, 1)
	assert.Equal(t, model.DoseTaken, day.Doses[0].Status)

	resp = env.do(t, http.MethodGet, "/api/schedules/med1-0/calendar.ics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	ics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(ics), "UID:med1-0@dosewise")
	assert.Contains(t, string(ics), "RRULE:FREQ=DAILY;INTERVAL=1")

	resp = env.do(t, http.MethodDelete, "/api/schedules/med1-0", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/schedules/med1-0", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCompleteDefaultsToTaken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/schedules/med1-0", aspirinSchedule)
	var issued struct {
		Reminders []model.IssuedReminder `json:"reminders"`
	}
	decode(t, resp, &issued)
	require.NotEmpty(t, issued.Reminders)

	resp = env.do(t, http.MethodPost, "/api/schedules/med1-0/reminders/"+issued.Reminders[1].ID+"/complete", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var taken struct {
		Taken bool `json:"taken"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/adherence?medicine_id=med1&date=2024-03-05&time=8:00%20AM", ""), &taken)
	assert.True(t, taken.Taken)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"missing medicine", http.MethodPut, "/api/schedules/x-0", `{"dtstart":"2024-03-04T08:00","frequency":"daily"}`, 400, "GEN_002"},
		{"id mismatch", http.MethodPut, "/api/schedules/aspirin", `{"medicine_id":"aspirin","dtstart":"2024-03-04T08:00","frequency":"daily"}`, 400, "GEN_002"},
		{"dose index mismatch", http.MethodPut, "/api/schedules/x-0", `{"medicine_id":"x","dose_index":1,"dtstart":"2024-03-04T08:00","frequency":"daily"}`, 400, "GEN_002"},
		{"unknown frequency", http.MethodPut, "/api/schedules/x-0", `{"medicine_id":"x","dtstart":"2024-03-04T08:00","frequency":"hourly"}`, 400, "SCHED_002"},
		{"bad zone", http.MethodPut, "/api/schedules/x-0", `{"medicine_id":"x","dtstart":"2024-03-04T08:00","timezone":"Mars/Base","frequency":"daily"}`, 400, "RRULE_002"},
		{"bad start", http.MethodPut, "/api/schedules/x-0", `{"medicine_id":"x","dtstart":"tomorrow","frequency":"daily"}`, 400, "RRULE_003"},
		{"bad rule", http.MethodPut, "/api/schedules/x-0", `{"medicine_id":"x","dtstart":"2024-03-04T08:00","rrule":"INTERVAL=2"}`, 400, "RRULE_001"},
		{"unknown reminder", http.MethodPost, "/api/schedules/x-0/reminders/nope/complete", "", 404, "SCHED_003"},
		{"bad day", http.MethodGet, "/api/days/03-04-2024", "", 400, "LEDGER_002"},
		{"bad time", http.MethodGet, "/api/adherence?medicine_id=a&date=2024-03-04&time=25:00", "", 400, "LEDGER_001"},
		{"bad month", http.MethodGet, "/api/calendar/2024/13", "", 400, "GEN_002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			decode(t, resp, &body)
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAdherenceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var record model.AdherenceRecord
	resp := env.do(t, http.MethodPut, "/api/adherence", `{"medicine_id":"med1","date":"2024-03-03","time":"8:00 PM","taken":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &record)
	assert.Equal(t, "20:00", record.TimeOfDay)
	assert.False(t, record.Taken)

	decode(t, env.do(t, http.MethodPost, "/api/adherence/toggle", `{"medicine_id":"med1","date":"2024-03-03","time":"08:00"}`), &record)
	assert.True(t, record.Taken, "unrecorded dose toggles to taken")

	decode(t, env.do(t, http.MethodPost, "/api/adherence/toggle", `{"medicine_id":"med2","date":"2024-03-03","time":"2024-03-03T09:00"}`), &record)
	assert.True(t, record.Taken)
	assert.Equal(t, "09:00", record.TimeOfDay)

	var pct struct {
		Percentage int            `json:"percentage"`
		ByMedicine map[string]int `json:"by_medicine"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/adherence/percentage?start=2024-03-01&end=2024-03-31", ""), &pct)
	assert.Equal(t, 67, pct.Percentage)
	assert.Equal(t, 50, pct.ByMedicine["med1"])
	assert.Equal(t, 100, pct.ByMedicine["med2"])

	var records []model.AdherenceRecord
	decode(t, env.do(t, http.MethodGet, "/api/adherence/records?start=2024-03-03&end=2024-03-03", ""), &records)
	assert.Len(t, records, 3)

	// today (03-04) has no data, so the streak is broken
	var streak struct {
		Today  string `json:"today"`
		Streak int    `json:"streak"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/adherence/streak", ""), &streak)
	assert.Equal(t, "2024-03-04", streak.Today)
	assert.Equal(t, 0, streak.Streak)
}

func TestCalendarEndpoint(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/schedules/med1-0", aspirinSchedule).StatusCode)

	var cal struct {
		Year  int                        `json:"year"`
		Month int                        `json:"month"`
		Days  map[string][]adherence.Dot `json:"days"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/calendar/2024/3", ""), &cal)
	assert.Equal(t, 2024, cal.Year)
	assert.Equal(t, 3, cal.Month)
	require.Len(t, cal.Days["2024-03-04"], 1)
	assert.Equal(t, model.DosePending, cal.Days["2024-03-04"][0].Status)
	assert.Empty(t, cal.Days["2024-03-03"])
}

func TestBadgeAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	var badge cron.Badge
	decode(t, env.do(t, http.MethodGet, "/api/badge", ""), &badge)
	assert.Equal(t, 2, badge.Pending)

	resp := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "dosewise_requests_total")
	assert.Contains(t, string(text), `dosewise_route_calls_total{route="GET /api/badge"} 1`)

	var snap metrics.Snapshot
	decode(t, env.do(t, http.MethodGet, "/api/metrics", ""), &snap)
	assert.GreaterOrEqual(t, snap.RequestsTotal, int64(2))
}
