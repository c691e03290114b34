package crm

import (
	"time"
)

// Attachment is a file attached to an email template
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// EmailTemplate represents a reusable email template
type EmailTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Subject     string       `json:"subject"`
	BodyHTML    string       `json:"body_html,omitempty"`
	BodyText    string       `json:"body_text,omitempty"`
	Stage       Stage        `json:"stage,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
