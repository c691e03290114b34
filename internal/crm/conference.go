package crm

import (
	"fmt"
	"time"
)

// IntervalUnit is the unit of a follow-up interval
type IntervalUnit string

const (
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
)

// Interval describes the spacing between two follow-up sends
type Interval struct {
	Value int          `json:"value" yaml:"value"`
	Unit  IntervalUnit `json:"unit" yaml:"unit"`
}

// Validate checks the interval for use in scheduling.
func (i Interval) Validate() error {
	if i.Value <= 0 {
		return fmt.Errorf("interval value must be positive, got %d", i.Value)
	}
	switch i.Unit {
	case UnitMinutes, UnitHours, UnitDays:
		return nil
	default:
		return fmt.Errorf("unknown interval unit %q", i.Unit)
	}
}

// WorkingHours bounds sends to a daily window. Start is inclusive, End
// exclusive, both in "HH:MM" 24h format.
type WorkingHours struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Conference owns the scheduling policy for its clients' follow-ups
type Conference struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`

	FollowupIntervals map[Stage]Interval `json:"followup_intervals"`
	MaxAttempts       map[Stage]int      `json:"max_attempts"`
	SkipWeekends      bool               `json:"skip_weekends"`
	WorkingHours      *WorkingHours      `json:"working_hours,omitempty"`
	Timezone          string             `json:"timezone"`

	// Template ids per stage, plus the initial-contact template
	InitialTemplateID string           `json:"initial_template_id,omitempty"`
	StageTemplates    map[Stage]string `json:"stage_templates"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntervalFor returns the follow-up interval for a stage.
func (c *Conference) IntervalFor(stage Stage) (Interval, bool) {
	iv, ok := c.FollowupIntervals[stage]
	return iv, ok
}

// MaxAttemptsFor returns the follow-up cap for a stage.
func (c *Conference) MaxAttemptsFor(stage Stage) (int, bool) {
	n, ok := c.MaxAttempts[stage]
	return n, ok
}

// TemplateFor returns the template id configured for a stage.
func (c *Conference) TemplateFor(stage Stage) (string, bool) {
	id, ok := c.StageTemplates[stage]
	return id, ok
}
