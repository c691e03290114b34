package crm

import (
	"context"
)

// ClientRepository provides access to clients
type ClientRepository interface {
	// GetClient retrieves a client by id.
	// Returns nil, nil if the client does not exist.
	GetClient(ctx context.Context, id string) (*Client, error)

	// UpdateClient applies mutate to the stored client and persists the result
	UpdateClient(ctx context.Context, id string, mutate func(*Client) error) error
}

// ConferenceRepository provides access to conferences
type ConferenceRepository interface {
	// GetConference retrieves a conference by id.
	// Returns nil, nil if the conference does not exist.
	GetConference(ctx context.Context, id string) (*Conference, error)
}

// TemplateRepository provides access to email templates
type TemplateRepository interface {
	// GetTemplate retrieves a template by id.
	// Returns nil, nil if the template does not exist.
	GetTemplate(ctx context.Context, id string) (*EmailTemplate, error)
}

// MailAccountRepository provides access to outbound mail accounts
type MailAccountRepository interface {
	// ListAccounts returns all accounts for an organization
	ListAccounts(ctx context.Context, orgID string) ([]*MailAccount, error)
}
