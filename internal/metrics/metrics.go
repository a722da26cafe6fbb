package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const namespace = "dosewise"

type Metrics struct {
	startTime time.Time

	requestsTotal   atomic.Int64
	requestsSuccess atomic.Int64
	requestsFailed  atomic.Int64

	reschedules       atomic.Int64
	cancellations     atomic.Int64
	remindersIssued   atomic.Int64
	dispatchFailures  atomic.Int64
	cancelFailures    atomic.Int64
	remindersFired    atomic.Int64
	remindersDone     atomic.Int64
	pendingReminders  atomic.Int64
	dosesTaken        atomic.Int64
	dosesMissed       atomic.Int64
	storeReadFailures atomic.Int64
	pollRuns          atomic.Int64

	responseTimes     []time.Duration
	responseTimesLock sync.Mutex

	routeCalls map[string]*atomic.Int64
	routeLock  sync.Mutex
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	return &Metrics{
		startTime:     time.Now(),
		responseTimes: make([]time.Duration, 0, 1000),
		routeCalls:    make(map[string]*atomic.Int64),
	}
}

func (m *Metrics) RecordRequest(success bool) {
	m.requestsTotal.Add(1)
	if success {
		m.requestsSuccess.Add(1)
	} else {
		m.requestsFailed.Add(1)
	}
}

func (m *Metrics) RecordRoute(route string) {
	m.routeLock.Lock()
	defer m.routeLock.Unlock()

	if m.routeCalls[route] == nil {
		m.routeCalls[route] = &atomic.Int64{}
	}
	m.routeCalls[route].Add(1)
}

func (m *Metrics) RecordResponseTime(d time.Duration) {
	m.responseTimesLock.Lock()
	defer m.responseTimesLock.Unlock()

	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
}

// RecordReschedule counts one reschedule with its issued and failed occurrences
func (m *Metrics) RecordReschedule(issued, failed int) {
	m.reschedules.Add(1)
	m.remindersIssued.Add(int64(issued))
	m.dispatchFailures.Add(int64(failed))
}

func (m *Metrics) RecordCancel(failed int) {
	m.cancellations.Add(1)
	m.cancelFailures.Add(int64(failed))
}

func (m *Metrics) RecordTriggered() {
	m.remindersFired.Add(1)
}

func (m *Metrics) RecordCompleted() {
	m.remindersDone.Add(1)
}

func (m *Metrics) RecordDose(taken bool) {
	if taken {
		m.dosesTaken.Add(1)
	} else {
		m.dosesMissed.Add(1)
	}
}

func (m *Metrics) RecordStoreReadFailure() {
	m.storeReadFailures.Add(1)
}

func (m *Metrics) RecordPoll() {
	m.pollRuns.Add(1)
}

func (m *Metrics) SetPendingReminders(count int64) {
	m.pendingReminders.Store(count)
}

type Snapshot struct {
	Uptime            time.Duration    `json:"uptime"`
	RequestsTotal     int64            `json:"requests_total"`
	RequestsSuccess   int64            `json:"requests_success"`
	RequestsFailed    int64            `json:"requests_failed"`
	Reschedules       int64            `json:"reschedules"`
	Cancellations     int64            `json:"cancellations"`
	RemindersIssued   int64            `json:"reminders_issued"`
	DispatchFailures  int64            `json:"dispatch_failures"`
	CancelFailures    int64            `json:"cancel_failures"`
	RemindersFired    int64            `json:"reminders_fired"`
	RemindersDone     int64            `json:"reminders_completed"`
	PendingReminders  int64            `json:"pending_reminders"`
	DosesTaken        int64            `json:"doses_taken"`
	DosesMissed       int64            `json:"doses_missed"`
	StoreReadFailures int64            `json:"store_read_failures"`
	PollRuns          int64            `json:"poll_runs"`
	AvgResponseTime   time.Duration    `json:"avg_response_time"`
	P99ResponseTime   time.Duration    `json:"p99_response_time"`
	RouteCalls        map[string]int64 `json:"route_calls"`
	SuccessRate       float64          `json:"success_rate"`
}

func (m *Metrics) Snapshot() *Snapshot {
	s := &Snapshot{
		Uptime:            time.Since(m.startTime),
		RequestsTotal:     m.requestsTotal.Load(),
		RequestsSuccess:   m.requestsSuccess.Load(),
		RequestsFailed:    m.requestsFailed.Load(),
		Reschedules:       m.reschedules.Load(),
		Cancellations:     m.cancellations.Load(),
		RemindersIssued:   m.remindersIssued.Load(),
		DispatchFailures:  m.dispatchFailures.Load(),
		CancelFailures:    m.cancelFailures.Load(),
		RemindersFired:    m.remindersFired.Load(),
		RemindersDone:     m.remindersDone.Load(),
		PendingReminders:  m.pendingReminders.Load(),
		DosesTaken:        m.dosesTaken.Load(),
		DosesMissed:       m.dosesMissed.Load(),
		StoreReadFailures: m.storeReadFailures.Load(),
		PollRuns:          m.pollRuns.Load(),
		RouteCalls:        make(map[string]int64),
	}

	if s.RequestsTotal > 0 {
		s.SuccessRate = float64(s.RequestsSuccess) / float64(s.RequestsTotal) * 100
	}

	m.responseTimesLock.Lock()
	if len(m.responseTimes) > 0 {
		var total time.Duration
		for _, rt := range m.responseTimes {
			total += rt
		}
		s.AvgResponseTime = total / time.Duration(len(m.responseTimes))

		sorted := make([]time.Duration, len(m.responseTimes))
		copy(sorted, m.responseTimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		p99Index := int(float64(len(sorted)) * 0.99)
		if p99Index >= len(sorted) {
			p99Index = len(sorted) - 1
		}
		s.P99ResponseTime = sorted[p99Index]
	}
	m.responseTimesLock.Unlock()

	m.routeLock.Lock()
	for k, v := range m.routeCalls {
		s.RouteCalls[k] = v.Load()
	}
	m.routeLock.Unlock()

	return s
}
