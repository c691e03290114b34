// Package mailer selects outbound accounts and dispatches email.
package mailer

import (
	"context"
	"errors"

	"github.com/confra/outreach/internal/crm"
)

// ErrNoAccount is returned when an organization has no active mail account.
// Retrying without remediation cannot succeed, so callers treat it as fatal
// for the current attempt.
var ErrNoAccount = errors.New("no mail account configured")

// Message is an outbound email
type Message struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []crm.Attachment

	// InReplyTo threads follow-ups under the initial message
	InReplyTo string
}

// SendResult reports a successful dispatch
type SendResult struct {
	MessageID string
}

// Sender dispatches a message through a mail account
type Sender interface {
	Send(ctx context.Context, account *crm.MailAccount, msg *Message) (*SendResult, error)
}

// SendError represents a transport failure with type information
type SendError struct {
	Temporary bool
	Message   string
}

func (e *SendError) Error() string {
	return e.Message
}

// IsTemporary reports whether an error is a transient send failure worth
// retrying.
func IsTemporary(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Temporary
	}
	return false
}
