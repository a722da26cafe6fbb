package adherence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/model"
)

// TimeKind tags which representation a TimeInput carries
type TimeKind int

const (
	KindClock TimeKind = iota + 1
	KindDateTime
	KindInstant
	KindHourMinute
)

func (k TimeKind) String() string {
	switch k {
	case KindClock:
		return "clock"
	case KindDateTime:
		return "datetime"
	case KindInstant:
		return "instant"
	case KindHourMinute:
		return "hour-minute"
	default:
		return "unknown"
	}
}

// TimeInput is a dose time in one of the accepted representations. Every
// variant normalizes to the same HH:MM key when it denotes the same local
// wall-clock time.
type TimeInput struct {
	kind    TimeKind
	text    string
	instant time.Time
	hour    int
	minute  int
}

// Clock is a bare time of day such as "08:00", "8:00 AM" or "8pm"
func Clock(s string) TimeInput {
	return TimeInput{kind: KindClock, text: s}
}

// DateTimeString is a full timestamp such as "2024-05-01T08:00:00-04:00".
// Strings without an offset are read in the ledger zone.
func DateTimeString(s string) TimeInput {
	return TimeInput{kind: KindDateTime, text: s}
}

// Instant is a point in time; its wall clock is taken in the ledger zone
func Instant(t time.Time) TimeInput {
	return TimeInput{kind: KindInstant, instant: t}
}

// HourMinute is a structured 24-hour clock value
func HourMinute(hour, minute int) TimeInput {
	return TimeInput{kind: KindHourMinute, hour: hour, minute: minute}
}

// ParseTimeInput picks the variant for a free-form string: anything that
// starts with a date is a DateTimeString, the rest is a Clock.
func ParseTimeInput(s string) TimeInput {
	s = strings.TrimSpace(s)
	if len(s) >= len(model.DateLayout) {
		if _, err := time.Parse(model.DateLayout, s[:len(model.DateLayout)]); err == nil {
			return DateTimeString(s)
		}
	}
	return Clock(s)
}

func (in TimeInput) Kind() TimeKind { return in.kind }

func (in TimeInput) String() string {
	switch in.kind {
	case KindClock, KindDateTime:
		return in.text
	case KindInstant:
		return in.instant.Format(time.RFC3339)
	case KindHourMinute:
		return fmt.Sprintf("%d:%02d", in.hour, in.minute)
	default:
		return ""
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize returns the canonical zero-padded 24-hour HH:MM key of in, using
// the wall clock of loc. A nil loc means the process zone.
func Normalize(in TimeInput, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.Local
	}

	switch in.kind {
	case KindClock:
		h, m, err := parseClock(in.text)
		if err != nil {
			return "", err
		}
		return formatClock(h, m), nil

	case KindDateTime:
		t, err := parseDateTime(in.text, loc)
		if err != nil {
			return "", err
		}
		return t.In(loc).Format(model.ClockLayout), nil

	case KindInstant:
		if in.instant.IsZero() {
			return "", apperrors.Detail(apperrors.ErrInvalidTime, "zero instant")
		}
		return in.instant.In(loc).Format(model.ClockLayout), nil

	case KindHourMinute:
		if in.hour < 0 || in.hour > 23 || in.minute < 0 || in.minute > 59 {
			return "", apperrors.Detail(apperrors.ErrInvalidTime, "%d:%d out of range", in.hour, in.minute)
		}
		return formatClock(in.hour, in.minute), nil

	default:
		return "", apperrors.Detail(apperrors.ErrInvalidTime, "empty time input")
	}
}

func formatClock(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized date-time %q", s)
}

// parseClock accepts 24-hour "H:MM[:SS]" and 12-hour "H[:MM][ ]am|pm"
func parseClock(s string) (int, int, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	if s == "" {
		return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "empty clock")
	}

	meridiem := ""
	switch {
	case strings.HasSuffix(s, "am"):
		meridiem = "am"
	case strings.HasSuffix(s, "pm"):
		meridiem = "pm"
	}
	if meridiem != "" {
		s = strings.TrimSpace(strings.TrimSuffix(s, meridiem))
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 || (meridiem == "" && len(parts) < 2) {
		return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized clock %q", raw)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized clock %q", raw)
	}
	m := 0
	if len(parts) >= 2 {
		if len(parts[1]) != 2 {
			return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized clock %q", raw)
		}
		if m, err = strconv.Atoi(parts[1]); err != nil || m > 59 || m < 0 {
			return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized clock %q", raw)
		}
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "unrecognized clock %q", raw)
		}
	}

	if meridiem != "" {
		if h < 1 || h > 12 {
			return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "hour %d invalid for 12-hour clock", h)
		}
		h %= 12
		if meridiem == "pm" {
			h += 12
		}
	}
	if h < 0 || h > 23 {
		return 0, 0, apperrors.Detail(apperrors.ErrInvalidTime, "hour %d out of range", h)
	}
	return h, m, nil
}
