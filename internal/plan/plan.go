// Package plan loads the medication plan file and turns each dose time of
// each medicine into a schedule.
package plan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gmsas95/dosewise/internal/adherence"
	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/recurrence"
)

// Medicine is one entry of the plan file
type Medicine struct {
	// ID is the stable medicine identity used in schedule ids and ledger keys
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Dosage string `yaml:"dosage" json:"dosage"`

	// Frequency is daily, every_other_day, once_weekly or twice_weekly
	Frequency string `yaml:"frequency" json:"frequency"`

	// RRule, when set, replaces the rule derived from Frequency
	RRule string `yaml:"rrule,omitempty" json:"rrule,omitempty"`

	// Times are the dose times of day; any clock format the ledger accepts
	Times []string `yaml:"times" json:"times"`

	// Start is the first dosing date, YYYY-MM-DD
	Start string `yaml:"start" json:"start"`

	// Timezone overrides the plan zone for this medicine
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	OccurrenceCount int `yaml:"occurrence_count,omitempty" json:"occurrence_count,omitempty"`
}

// Plan is the top-level plan file
type Plan struct {
	Timezone  string     `yaml:"timezone" json:"timezone"`
	Medicines []Medicine `yaml:"medicines" json:"medicines"`
}

// Load reads a plan from path. A missing file is an empty plan.
func Load(path string) (*Plan, error) {
	if path == "" {
		return &Plan{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Plan{}, nil
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes plan YAML and validates it
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "invalid plan file")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks identities and frequencies without expanding anything
func (p *Plan) Validate() error {
	seen := make(map[string]bool, len(p.Medicines))
	for i, m := range p.Medicines {
		if m.ID == "" {
			return apperrors.Detail(apperrors.ErrConfigInvalid, "medicine #%d has no id", i+1)
		}
		if seen[m.ID] {
			return apperrors.Detail(apperrors.ErrConfigInvalid, "duplicate medicine id %q", m.ID)
		}
		seen[m.ID] = true

		if len(m.Times) == 0 {
			return apperrors.Detail(apperrors.ErrConfigInvalid, "medicine %q has no dose times", m.ID)
		}
		if m.RRule == "" {
			if _, err := recurrence.ParseFrequency(m.Frequency); err != nil {
				return err
			}
		} else if err := recurrence.Validate(m.RRule); err != nil {
			return err
		}
	}
	return nil
}

// Specs builds one schedule per dose time. defaultZone applies when neither
// the medicine nor the plan names a zone; today is used for a missing start.
func (p *Plan) Specs(defaultZone string, today time.Time) ([]model.ScheduleSpec, error) {
	var specs []model.ScheduleSpec
	for _, m := range p.Medicines {
		zone := firstNonEmpty(m.Timezone, p.Timezone, defaultZone)
		loc, err := recurrence.LoadLocation(zone)
		if err != nil {
			return nil, err
		}

		start := today.In(loc)
		if m.Start != "" {
			start, err = time.ParseInLocation(model.DateLayout, m.Start, loc)
			if err != nil {
				return nil, apperrors.Detail(apperrors.ErrInvalidDate, "medicine %q start %q", m.ID, m.Start)
			}
		}

		for i, raw := range m.Times {
			clock, err := adherence.Normalize(adherence.Clock(raw), loc)
			if err != nil {
				return nil, fmt.Errorf("medicine %q: %w", m.ID, err)
			}
			dtstart, err := time.ParseInLocation(model.DateLayout+" "+model.ClockLayout,
				start.Format(model.DateLayout)+" "+clock, loc)
			if err != nil {
				return nil, fmt.Errorf("medicine %q: %w", m.ID, err)
			}

			rule := m.RRule
			if rule == "" {
				freq, err := recurrence.ParseFrequency(m.Frequency)
				if err != nil {
					return nil, err
				}
				if rule, err = recurrence.RuleFor(freq, dtstart, loc); err != nil {
					return nil, err
				}
			}

			specs = append(specs, model.ScheduleSpec{
				ScheduleID:      model.ScheduleIDFor(m.ID, i),
				MedicineID:      m.ID,
				DoseIndex:       i,
				Title:           m.Name,
				Body:            body(m),
				DTStart:         dtstart,
				Timezone:        loc.String(),
				RRule:           rule,
				OccurrenceCount: m.OccurrenceCount,
				TimeOfDay:       clock,
			})
		}
	}
	return specs, nil
}

func body(m Medicine) string {
	if m.Dosage == "" {
		return "Time to take your medication"
	}
	return "Take " + m.Dosage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
