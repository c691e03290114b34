package crm

import (
	"time"
)

// ClientStatus represents where a client sits in the outreach workflow
type ClientStatus string

const (
	StatusLead                     ClientStatus = "lead"
	StatusAbstractSubmitted        ClientStatus = "abstract_submitted"
	StatusRegistered               ClientStatus = "registered"
	StatusUnresponsive             ClientStatus = "unresponsive"
	StatusRegistrationUnresponsive ClientStatus = "registration_unresponsive"
	StatusRejected                 ClientStatus = "rejected"
	StatusCompleted                ClientStatus = "completed"
)

// Stage represents a phase of the follow-up workflow
type Stage string

const (
	// StageOne covers abstract-submission follow-ups
	StageOne Stage = "stage1"
	// StageTwo covers registration follow-ups
	StageTwo Stage = "stage2"
	// StageCompleted means no further automation for this client
	StageCompleted Stage = "completed"
)

// Engagement tracks per-client email activity
type Engagement struct {
	EmailsSent      int        `json:"emails_sent"`
	Opens           int        `json:"opens"`
	Replies         int        `json:"replies"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at,omitempty"`
}

// Client represents a contact managed by the CRM
type Client struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`

	Status            ClientStatus `json:"status"`
	CurrentStage      Stage        `json:"current_stage"`
	ManualStage1Count int          `json:"manual_stage1_count"`
	ManualStage2Count int          `json:"manual_stage2_count"`
	IsActive          bool         `json:"is_active"`
	IsUnsubscribed    bool         `json:"is_unsubscribed"`

	Engagement Engagement `json:"engagement"`

	// Reply-threading continuity for follow-ups
	ThreadRootMessageID string `json:"thread_root_message_id,omitempty"`
	InitialEmailSubject string `json:"initial_email_subject,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the client's display name, falling back to the email address.
func (c *Client) FullName() string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	case c.FirstName != "":
		return c.FirstName
	case c.LastName != "":
		return c.LastName
	default:
		return c.Email
	}
}

// TerminalStatus reports whether the client's status rules out further
// automated sends.
func (c *Client) TerminalStatus() bool {
	switch c.Status {
	case StatusRegistered, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// ManualCount returns the number of follow-ups a human already sent outside
// the system for the given stage.
func (c *Client) ManualCount(stage Stage) int {
	switch stage {
	case StageOne:
		return c.ManualStage1Count
	case StageTwo:
		return c.ManualStage2Count
	}
	return 0
}

// AdvancedPast reports whether the client has moved beyond the given stage,
// making follow-ups for that stage obsolete.
func (c *Client) AdvancedPast(stage Stage) bool {
	if c.CurrentStage == StageCompleted {
		return stage != StageCompleted
	}
	return stage == StageOne && c.CurrentStage == StageTwo
}
