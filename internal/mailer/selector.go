package mailer

import (
	"context"
	"sort"

	"github.com/confra/outreach/internal/crm"
)

// Selector picks the outbound account for an organization
type Selector struct {
	accounts crm.MailAccountRepository
}

// NewSelector creates a new account selector
func NewSelector(accounts crm.MailAccountRepository) *Selector {
	return &Selector{accounts: accounts}
}

// SelectForOrganization returns the active account with the lowest
// SendPriority, ties broken by oldest CreatedAt. Returns ErrNoAccount when
// none is configured.
func (s *Selector) SelectForOrganization(ctx context.Context, orgID string) (*crm.MailAccount, error) {
	all, err := s.accounts.ListAccounts(ctx, orgID)
	if err != nil {
		return nil, err
	}

	active := all[:0:0]
	for _, a := range all {
		if a.IsActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoAccount
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SendPriority != active[j].SendPriority {
			return active[i].SendPriority < active[j].SendPriority
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})

	return active[0], nil
}
