// Package ics exports active dose schedules as an iCalendar feed so the
// reminders also show up in ordinary calendar apps.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/gmsas95/dosewise/internal/model"
)

const (
	productID = "-//dosewise//dose schedule//EN"
	uidDomain = "dosewise"

	// doseDuration is how long each dose event spans in the calendar
	doseDuration = 15 * time.Minute

	localLayout = "20060102T150405"
)

// Export renders one recurring VEVENT per schedule. DTSTART carries the
// schedule zone as TZID so the recurrence keeps its wall-clock time across
// DST changes.
func Export(specs []model.ScheduleSpec, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, spec := range specs {
		addEvent(cal, spec, stamp)
	}
	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, spec model.ScheduleSpec, stamp time.Time) {
	ev := cal.AddEvent(spec.ScheduleID + "@" + uidDomain)
	ev.SetDtStampTime(stamp)
	ev.SetSummary(summary(spec))
	if spec.Body != "" {
		ev.SetDescription(spec.Body)
	}

	start := spec.DTStart
	zone := spec.Timezone
	if loc, err := time.LoadLocation(zone); err == nil && zone != "" {
		start = start.In(loc)
		tzid := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{zone}}
		ev.SetProperty(ical.ComponentPropertyDtStart, start.Format(localLayout), tzid)
		ev.SetProperty(ical.ComponentPropertyDtEnd, start.Add(doseDuration).Format(localLayout), tzid)
	} else {
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(doseDuration))
	}

	if rule := strings.TrimPrefix(strings.TrimSpace(spec.RRule), "RRULE:"); rule != "" {
		ev.AddRrule(rule)
	}
}

func summary(spec model.ScheduleSpec) string {
	if spec.Title != "" {
		return spec.Title
	}
	return spec.MedicineID
}
