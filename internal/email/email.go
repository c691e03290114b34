// Package email provides address parsing helpers shared by the mailer and
// the CRM input surfaces.
package email

import (
	"net/mail"
	"strings"
)

// ValidAddress reports whether s parses as a deliverable RFC 5322 address
// with a non-empty domain part.
func ValidAddress(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return ExtractDomain(addr.Address) != ""
}

// Normalize canonicalizes an address for lookups and deduplication: the
// display name is stripped and the whole address lowercased.
func Normalize(s string) string {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.ToLower(addr.Address)
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		// Try simple extraction for malformed addresses
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}

// ExtractDomainOrDefault extracts the domain part from an email address.
// Returns the provided default value if the email is invalid or domain is empty.
func ExtractDomainOrDefault(email, defaultDomain string) string {
	domain := ExtractDomain(email)
	if domain == "" {
		return defaultDomain
	}
	return domain
}
