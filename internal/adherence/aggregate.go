package adherence

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/recurrence"
)

// DoseView is one expected or recorded dose of a day with its status
type DoseView struct {
	ScheduleID string           `json:"schedule_id,omitempty"`
	MedicineID string           `json:"medicine_id"`
	Title      string           `json:"title,omitempty"`
	Date       string           `json:"date"`
	TimeOfDay  string           `json:"time_of_day"`
	Status     model.DoseStatus `json:"status"`
	Scheduled  bool             `json:"scheduled"`
}

// Dot is the calendar marker of one dose
type Dot struct {
	MedicineID string           `json:"medicine_id"`
	TimeOfDay  string           `json:"time_of_day"`
	Status     model.DoseStatus `json:"status"`
}

// Aggregator answers status questions from the ledger and the active
// schedules. Every method is a read; none of them fails for missing data.
type Aggregator struct {
	ledger *Ledger
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(ledger *Ledger, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock sets the clock that defines "today" for Streak
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Today is the current date in the ledger zone
func (a *Aggregator) Today() string {
	return a.now().In(a.ledger.Location()).Format(model.DateLayout)
}

// Percentage is round(100*taken/total) over records dated in [start, end],
// or 0 when there are none
func (a *Aggregator) Percentage(ctx context.Context, start, end string) int {
	return Percentage(a.ledger.Records(ctx, start, end))
}

// AdherenceByMedicine is Percentage split per medicine
func (a *Aggregator) AdherenceByMedicine(ctx context.Context, start, end string) map[string]int {
	byMedicine := make(map[string][]model.AdherenceRecord)
	for _, r := range a.ledger.Records(ctx, start, end) {
		byMedicine[r.MedicineID] = append(byMedicine[r.MedicineID], r)
	}

	out := make(map[string]int, len(byMedicine))
	for id, records := range byMedicine {
		out[id] = Percentage(records)
	}
	return out
}

// Streak counts consecutive complete days walking back from today. Today
// breaks the streak when it has no records yet.
func (a *Aggregator) Streak(ctx context.Context) int {
	today := a.Today()
	return Streak(groupByDate(a.ledger.Records(ctx, "", today)), today)
}

// DayStatus classifies the records of date
func (a *Aggregator) DayStatus(ctx context.Context, date string) model.DayStatus {
	return DayStatus(a.ledger.RecordsOn(ctx, date))
}

// DoseStatus reports one expected dose slot. An empty timeOfDay falls back
// to the schedule's own time.
func (a *Aggregator) DoseStatus(ctx context.Context, date string, spec model.ScheduleSpec, timeOfDay string, now time.Time) (model.DoseStatus, error) {
	if timeOfDay == "" {
		timeOfDay = spec.TimeOfDay
	}
	loc := a.specLocation(spec)

	clock, err := Normalize(Clock(timeOfDay), loc)
	if err != nil {
		return "", err
	}
	taken, known, err := a.ledger.GetTaken(ctx, spec.MedicineID, date, Clock(clock))
	if err != nil {
		return "", err
	}

	due, err := time.ParseInLocation(model.DateLayout+" "+model.ClockLayout, date+" "+clock, loc)
	if err != nil {
		return "", apperrors.Detail(apperrors.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}
	return DoseStatus(taken, known, due, now), nil
}

// DayDetail lists every dose expected on date by specs plus any recorded
// dose no active spec accounts for, ordered by time.
func (a *Aggregator) DayDetail(ctx context.Context, date string, specs []model.ScheduleSpec, now time.Time) ([]DoseView, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, a.ledger.Location())
	if err != nil {
		return nil, apperrors.Detail(apperrors.ErrInvalidDate, "%q is not YYYY-MM-DD", date)
	}

	slots := a.expectedSlots(specs, day, day.AddDate(0, 0, 1))
	records := a.ledger.RecordsOn(ctx, date)
	return buildDay(date, slots[date], records, now), nil
}

// Calendar returns the dots of every day of a month that has expected or
// recorded doses
func (a *Aggregator) Calendar(ctx context.Context, year int, month time.Month, specs []model.ScheduleSpec, now time.Time) map[string][]Dot {
	first := time.Date(year, month, 1, 0, 0, 0, 0, a.ledger.Location())
	next := first.AddDate(0, 1, 0)

	slots := a.expectedSlots(specs, first, next)
	byDate := groupByDate(a.ledger.Records(ctx,
		first.Format(model.DateLayout),
		next.AddDate(0, 0, -1).Format(model.DateLayout),
	))

	out := make(map[string][]Dot)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		date := d.Format(model.DateLayout)
		views := buildDay(date, slots[date], byDate[date], now)
		if len(views) == 0 {
			continue
		}
		dots := make([]Dot, 0, len(views))
		for _, v := range views {
			dots = append(dots, Dot{MedicineID: v.MedicineID, TimeOfDay: v.TimeOfDay, Status: v.Status})
		}
		out[date] = dots
	}
	return out
}

type slot struct {
	spec model.ScheduleSpec
	due  time.Time
}

// expectedSlots expands specs over the calendar dates [from, to) and groups
// the occurrences by local date. The dates are taken in each spec's own zone.
func (a *Aggregator) expectedSlots(specs []model.ScheduleSpec, from, to time.Time) map[string][]slot {
	out := make(map[string][]slot)
	for _, spec := range specs {
		loc := a.specLocation(spec)
		start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
		end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
		occurrences, err := recurrence.OccurrencesBetween(spec.DTStart, loc.String(), spec.RRule,
			start, end.Add(-time.Nanosecond))
		if err != nil {
			a.logger.Warn("Skipping schedule with invalid rule",
				zap.String("schedule_id", spec.ScheduleID),
				zap.Error(err),
			)
			continue
		}
		for _, t := range occurrences {
			local := t.In(loc)
			date := local.Format(model.DateLayout)
			out[date] = append(out[date], slot{spec: spec, due: local})
		}
	}
	return out
}

func (a *Aggregator) specLocation(spec model.ScheduleSpec) *time.Location {
	if spec.Timezone == "" {
		return a.ledger.Location()
	}
	loc, err := recurrence.LoadLocation(spec.Timezone)
	if err != nil {
		return a.ledger.Location()
	}
	return loc
}

// buildDay merges expected slots with the day's records. Recorded slots take
// their status from the record; the rest are pending or missed by time.
func buildDay(date string, slots []slot, records []model.AdherenceRecord, now time.Time) []DoseView {
	recorded := make(map[string]model.AdherenceRecord, len(records))
	for _, r := range records {
		recorded[model.RecordKey(r.MedicineID, r.Date, r.TimeOfDay)] = r
	}

	views := make([]DoseView, 0, len(slots)+len(records))
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		clock := s.due.Format(model.ClockLayout)
		key := model.RecordKey(s.spec.MedicineID, date, clock)
		if seen[key] {
			continue
		}
		seen[key] = true

		rec, known := recorded[key]
		views = append(views, DoseView{
			ScheduleID: s.spec.ScheduleID,
			MedicineID: s.spec.MedicineID,
			Title:      s.spec.Title,
			Date:       date,
			TimeOfDay:  clock,
			Status:     DoseStatus(rec.Taken, known, s.due, now),
			Scheduled:  true,
		})
	}

	for _, r := range records {
		key := model.RecordKey(r.MedicineID, r.Date, r.TimeOfDay)
		if seen[key] {
			continue
		}
		seen[key] = true
		views = append(views, DoseView{
			MedicineID: r.MedicineID,
			Date:       date,
			TimeOfDay:  r.TimeOfDay,
			Status:     DoseStatus(r.Taken, true, time.Time{}, now),
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		if views[i].TimeOfDay != views[j].TimeOfDay {
			return views[i].TimeOfDay < views[j].TimeOfDay
		}
		return views[i].MedicineID < views[j].MedicineID
	})
	return views
}

// Percentage is round(100*taken/total), 0 for no records
func Percentage(records []model.AdherenceRecord) int {
	if len(records) == 0 {
		return 0
	}
	taken := 0
	for _, r := range records {
		if r.Taken {
			taken++
		}
	}
	return int(math.Round(100 * float64(taken) / float64(len(records))))
}

// DayStatus classifies one day's records
func DayStatus(records []model.AdherenceRecord) model.DayStatus {
	if len(records) == 0 {
		return model.DayNoData
	}
	taken := 0
	for _, r := range records {
		if r.Taken {
			taken++
		}
	}
	switch taken {
	case len(records):
		return model.DayComplete
	case 0:
		return model.DayMissed
	default:
		return model.DayPartial
	}
}

// DoseStatus resolves a slot: a record wins, otherwise the slot is pending
// while due is still after now and missed from then on
func DoseStatus(taken, known bool, due, now time.Time) model.DoseStatus {
	if known {
		if taken {
			return model.DoseTaken
		}
		return model.DoseMissed
	}
	if due.After(now) {
		return model.DosePending
	}
	return model.DoseMissed
}

// Streak walks back from today over records grouped by date
func Streak(byDate map[string][]model.AdherenceRecord, today string) int {
	day, err := time.Parse(model.DateLayout, today)
	if err != nil {
		return 0
	}

	streak := 0
	for {
		if DayStatus(byDate[day.Format(model.DateLayout)]) != model.DayComplete {
			return streak
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
}

func groupByDate(records []model.AdherenceRecord) map[string][]model.AdherenceRecord {
	out := make(map[string][]model.AdherenceRecord)
	for _, r := range records {
		out[r.Date] = append(out[r.Date], r)
	}
	return out
}
