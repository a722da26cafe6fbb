package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type counterDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *Snapshot) float64
}

func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

var (
	routeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "route_calls_total"),
		"Requests per route", []string{"route"}, nil,
	)

	snapshotDescs = []counterDesc{
		{newDesc("uptime_seconds", "Time since server start"), prometheus.GaugeValue,
			func(s *Snapshot) float64 { return s.Uptime.Seconds() }},
		{newDesc("requests_total", "Total number of requests"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.RequestsTotal) }},
		{newDesc("requests_failed_total", "Failed requests"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.RequestsFailed) }},
		{newDesc("reschedules_total", "Schedule reissues"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.Reschedules) }},
		{newDesc("cancellations_total", "Schedule cancellations"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.Cancellations) }},
		{newDesc("reminders_issued_total", "Reminders accepted by the dispatcher"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.RemindersIssued) }},
		{newDesc("dispatch_failures_total", "Occurrences the dispatcher rejected"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.DispatchFailures) }},
		{newDesc("cancel_failures_total", "Handles the dispatcher failed to cancel"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.CancelFailures) }},
		{newDesc("reminders_fired_total", "Reminders delivered"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.RemindersFired) }},
		{newDesc("reminders_completed_total", "Reminders acted on"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.RemindersDone) }},
		{newDesc("pending_reminders", "Delivered reminders awaiting action"), prometheus.GaugeValue,
			func(s *Snapshot) float64 { return float64(s.PendingReminders) }},
		{newDesc("doses_taken_total", "Doses recorded as taken"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.DosesTaken) }},
		{newDesc("doses_missed_total", "Doses recorded as missed"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.DosesMissed) }},
		{newDesc("store_read_failures_total", "Storage reads degraded to empty"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.StoreReadFailures) }},
		{newDesc("poll_runs_total", "Badge poll executions"), prometheus.CounterValue,
			func(s *Snapshot) float64 { return float64(s.PollRuns) }},
	}
)

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range snapshotDescs {
		ch <- d.desc
	}
	ch <- routeDesc
}

// Collect implements prometheus.Collector from a fresh snapshot
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.Snapshot()
	for _, d := range snapshotDescs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, d.value(s))
	}
	for route, count := range s.RouteCalls {
		ch <- prometheus.MustNewConstMetric(routeDesc, prometheus.CounterValue, float64(count), route)
	}
}

// Registry returns a registry exposing m plus the Go runtime collectors
func (m *Metrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
