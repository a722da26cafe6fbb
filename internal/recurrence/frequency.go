package recurrence

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
)

// Frequency is the user-facing dosing pattern of a medicine
type Frequency string

const (
	Daily         Frequency = "daily"
	EveryOtherDay Frequency = "every other day"
	OnceWeekly    Frequency = "once weekly"
	TwiceWeekly   Frequency = "twice weekly"
)

// twiceWeeklyOffset is the fixed distance between the two weekly slots
const twiceWeeklyOffset = 3

var frequencyAliases = map[string]Frequency{
	"daily":           Daily,
	"every day":       Daily,
	"once daily":      Daily,
	"every other day": EveryOtherDay,
	"alternate days":  EveryOtherDay,
	"once weekly":     OnceWeekly,
	"weekly":          OnceWeekly,
	"once a week":     OnceWeekly,
	"twice weekly":    TwiceWeekly,
	"twice a week":    TwiceWeekly,
}

// rfc weekday codes indexed by time.Weekday
var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// ParseFrequency accepts canonical names and the snake/kebab aliases used in plan files
func ParseFrequency(s string) (Frequency, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")

	if f, ok := frequencyAliases[key]; ok {
		return f, nil
	}
	return "", apperrors.Detail(apperrors.ErrUnknownFrequency, "%q", s)
}

// RuleFor maps a dosing frequency onto the RRULE used for expansion.
// Weekly days are taken from dtstart as seen in loc; twice weekly adds a
// second slot three days after the first.
func RuleFor(freq Frequency, dtstart time.Time, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	wd := dtstart.In(loc).Weekday()

	switch freq {
	case Daily:
		return "FREQ=DAILY;INTERVAL=1", nil
	case EveryOtherDay:
		return "FREQ=DAILY;INTERVAL=2", nil
	case OnceWeekly:
		return "FREQ=WEEKLY;BYDAY=" + weekdayCodes[wd], nil
	case TwiceWeekly:
		second := (int(wd) + twiceWeeklyOffset) % 7
		return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s,%s", weekdayCodes[wd], weekdayCodes[second]), nil
	default:
		return "", apperrors.Detail(apperrors.ErrUnknownFrequency, "%q", string(freq))
	}
}
