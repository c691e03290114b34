// Package campaign runs one-shot bulk sends over a fixed recipient list.
package campaign

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a campaign
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// RecipientStatus tracks one recipient's outcome
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
)

// Recipient is one entry in a campaign's fixed recipient list
type Recipient struct {
	ClientID string          `json:"client_id,omitempty"`
	Email    string          `json:"email"`
	Status   RecipientStatus `json:"status"`
	Attempts int             `json:"attempts"`
	Error    string          `json:"error,omitempty"`
}

// Settings controls batching and throttling
type Settings struct {
	// ThrottleRate caps sends per minute (0 = unthrottled)
	ThrottleRate int `json:"throttle_rate"`
	// BatchSize is the number of recipients drained per batch
	BatchSize int `json:"batch_size"`
	// RetryAttempts bounds per-recipient retries after the first try
	RetryAttempts int `json:"retry_attempts"`
	// RetryDelay is the wait between per-recipient retries
	RetryDelay time.Duration `json:"retry_delay"`
}

// Campaign is a bulk one-shot send over a selected recipient list
type Campaign struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	OrganizationID string      `json:"organization_id"`
	TemplateID     string      `json:"template_id"`
	Recipients     []Recipient `json:"recipients"`
	Settings       Settings    `json:"settings"`

	Status      Status     `json:"status"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists campaigns
type Repository interface {
	// PutCampaign stores a campaign
	PutCampaign(ctx context.Context, c *Campaign) error

	// GetCampaign retrieves a campaign by id, nil when absent
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// ListCampaigns returns all campaigns
	ListCampaigns(ctx context.Context) ([]*Campaign, error)
}
