package crm

import (
	"net"
	"strconv"
	"time"
)

// MailAccount is an outbound SMTP submission account
type MailAccount struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	// Password is persisted with the record; API handlers must redact it
	Password string `json:"password,omitempty"`

	// Lower values are preferred when selecting an account
	SendPriority int  `json:"send_priority"`
	IsActive     bool `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Addr returns the host:port address of the submission endpoint.
func (a *MailAccount) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
