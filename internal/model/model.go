package model

import (
	"fmt"
	"time"
)

// Date and clock layouts used for ledger keys
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ScheduleSpec describes one recurring dose-time slot of a medicine.
// A spec is superseded, never mutated: editing timing produces a new spec
// for the same ScheduleID and the scheduler cancels the prior reminders.
type ScheduleSpec struct {
	ScheduleID      string    `json:"schedule_id" yaml:"schedule_id"`
	MedicineID      string    `json:"medicine_id" yaml:"medicine_id"`
	DoseIndex       int       `json:"dose_index" yaml:"dose_index"`
	Title           string    `json:"title" yaml:"title"`
	Body            string    `json:"body" yaml:"body"`
	DTStart         time.Time `json:"dtstart" yaml:"dtstart"`
	Timezone        string    `json:"timezone" yaml:"timezone"`
	RRule           string    `json:"rrule" yaml:"rrule"`
	OccurrenceCount int       `json:"occurrence_count" yaml:"occurrence_count"`

	// TimeOfDay is the canonical HH:MM of DTStart in Timezone
	TimeOfDay string `json:"time_of_day" yaml:"time_of_day"`
}

// ScheduleIDFor builds the stable identity of a medicine's dose slot
func ScheduleIDFor(medicineID string, doseIndex int) string {
	return fmt.Sprintf("%s-%d", medicineID, doseIndex)
}

// ReminderState is derived from the delivered/completed flags
type ReminderState string

const (
	ReminderScheduled ReminderState = "scheduled"
	ReminderTriggered ReminderState = "triggered"
	ReminderCompleted ReminderState = "completed"
)

// IssuedReminder is one dispatched occurrence of a schedule.
// Cancelled reminders are removed from the persisted set entirely.
type IssuedReminder struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	TriggerAt  time.Time `json:"trigger_at"`
	Delivered  bool      `json:"delivered"`
	Completed  bool      `json:"completed"`
}

// State returns the lifecycle position of the reminder
func (r *IssuedReminder) State() ReminderState {
	switch {
	case r.Completed:
		return ReminderCompleted
	case r.Delivered:
		return ReminderTriggered
	default:
		return ReminderScheduled
	}
}

// IsActionable reports a delivered reminder still waiting for the user
func (r *IssuedReminder) IsActionable() bool {
	return r.State() == ReminderTriggered
}

// AdherenceRecord is one dose outcome. (MedicineID, Date, TimeOfDay) is unique.
type AdherenceRecord struct {
	MedicineID string    `json:"medicine_id"`
	Date       string    `json:"date"`
	TimeOfDay  string    `json:"time_of_day"`
	Taken      bool      `json:"taken"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Key returns the ledger identity of the record
func (r *AdherenceRecord) Key() string {
	return RecordKey(r.MedicineID, r.Date, r.TimeOfDay)
}

// RecordKey builds medicineId-date-timeOfDay
func RecordKey(medicineID, date, timeOfDay string) string {
	return medicineID + "-" + date + "-" + timeOfDay
}

// DayStatus classifies all records of one calendar day
type DayStatus string

const (
	DayComplete DayStatus = "complete"
	DayPartial  DayStatus = "partial"
	DayMissed   DayStatus = "missed"
	DayNoData   DayStatus = "no-data"
)

// DoseStatus classifies one expected dose slot
type DoseStatus string

const (
	DoseTaken   DoseStatus = "taken"
	DoseMissed  DoseStatus = "missed"
	DosePending DoseStatus = "pending"
)
