// Package recurrence expands dosing rules into concrete trigger instants.
//
// All occurrence math runs in the schedule's IANA zone, so a dose at 08:00
// stays at 08:00 local time across daylight-saving transitions.
package recurrence

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
)

const (
	// DefaultOccurrenceCap bounds expansion when a caller passes no cap
	DefaultOccurrenceCap = 30
	// maxOccurrenceCap keeps a single schedule from flooding the dispatcher
	maxOccurrenceCap = 500
)

// Expander turns (dtstart, zone, rule, cap) into future trigger instants
type Expander struct {
	// Now is the computation time; occurrences before it are dropped
	Now func() time.Time
}

// NewExpander creates an expander bound to the wall clock
func NewExpander() *Expander {
	return &Expander{Now: time.Now}
}

// Expand returns at most limit occurrences of rule starting at dtstart,
// ordered ascending, with occurrences strictly before Now removed. Past
// occurrences are dropped rather than rolled forward, so the result may be
// shorter than limit.
func (e *Expander) Expand(dtstart time.Time, timezone, rule string, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, apperrors.Detail(apperrors.ErrInvalidStart, "occurrence cap must be positive, got %d", limit)
	}
	if limit > maxOccurrenceCap {
		limit = maxOccurrenceCap
	}

	r, err := build(dtstart, timezone, rule, limit)
	if err != nil {
		return nil, err
	}

	now := e.now()
	all := r.All()
	out := make([]time.Time, 0, len(all))
	for _, t := range all {
		if t.Before(now) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// OccurrencesBetween returns every occurrence in [from, to] without the
// expansion cap. The aggregator uses it to ask whether a dose was due on a
// given calendar day.
func OccurrencesBetween(dtstart time.Time, timezone, rule string, from, to time.Time) ([]time.Time, error) {
	r, err := build(dtstart, timezone, rule, 0)
	if err != nil {
		return nil, err
	}
	return r.Between(from, to, true), nil
}

// LoadLocation resolves an IANA name; empty falls back to UTC
func LoadLocation(timezone string) (*time.Location, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, apperrors.Detail(apperrors.ErrInvalidTimezone, "%q", timezone)
	}
	return loc, nil
}

// Validate checks a rule without expanding it
func Validate(rule string) error {
	_, err := parseOption(rule)
	return err
}

func (e *Expander) now() time.Time {
	if e == nil || e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func build(dtstart time.Time, timezone, rule string, limit int) (*rrule.RRule, error) {
	if dtstart.IsZero() {
		return nil, apperrors.Detail(apperrors.ErrInvalidStart, "dtstart is required")
	}
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	opt, err := parseOption(rule)
	if err != nil {
		return nil, err
	}

	opt.Dtstart = dtstart.In(loc)
	if limit > 0 && (opt.Count == 0 || opt.Count > limit) {
		opt.Count = limit
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRule.Code, apperrors.ErrInvalidRule.Message)
	}
	return r, nil
}

func parseOption(rule string) (*rrule.ROption, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return nil, apperrors.Detail(apperrors.ErrInvalidRule, "rule is empty")
	}
	if !strings.Contains(strings.ToUpper(rule), "FREQ=") {
		return nil, apperrors.Detail(apperrors.ErrInvalidRule, "FREQ is required in %q", rule)
	}

	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRule.Code, apperrors.ErrInvalidRule.Message)
	}
	if opt.Interval < 0 {
		return nil, apperrors.Detail(apperrors.ErrInvalidRule, "negative INTERVAL in %q", rule)
	}
	return opt, nil
}
