package followup

import (
	"time"

	"github.com/confra/outreach/internal/crm"
)

// JobStatus represents the lifecycle state of a follow-up job
type JobStatus string

const (
	StatusActive    JobStatus = "active"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// JobSettings snapshots the conference scheduling policy at job creation.
// Later changes to the conference do not retroactively alter in-flight jobs.
type JobSettings struct {
	Interval     crm.Interval      `json:"interval"`
	SkipWeekends bool              `json:"skip_weekends"`
	WorkingHours *crm.WorkingHours `json:"working_hours,omitempty"`
	Timezone     string            `json:"timezone"`
}

// Job is the scheduling record tracking one client's progress through one
// stage's automated email cadence.
type Job struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	ConferenceID string    `json:"conference_id"`
	TemplateID   string    `json:"template_id"`
	Stage        crm.Stage `json:"stage"`

	CurrentAttempt int `json:"current_attempt"`
	MaxAttempts    int `json:"max_attempts"`

	NextSendAt time.Time `json:"next_send_at"`
	Status     JobStatus `json:"status"`
	// Paused is an independent suspend flag layered on Status
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pause_reason,omitempty"`

	// RetryCount tracks transient send-failure retries within one attempt
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`

	LastSentAt       *time.Time `json:"last_sent_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletionReason string     `json:"completion_reason,omitempty"`

	Settings JobSettings `json:"settings"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the job is due for processing at the given time.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusActive && !j.Paused && !j.NextSendAt.After(now)
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Statistics summarizes the job population
type Statistics struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Paused    int64 `json:"paused"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`

	// Breakdown counts active jobs per stage
	Breakdown map[crm.Stage]int64 `json:"breakdown"`
}

// ListFilter selects jobs for listing
type ListFilter struct {
	Status   JobStatus
	ClientID string
	Stage    crm.Stage
	Limit    int
	Offset   int
}
