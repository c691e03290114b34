package template

import (
	"github.com/confra/outreach/internal/crm"
)

// RenderResult contains rendered email content
type RenderResult struct {
	Subject     string           `json:"subject"`
	HTML        string           `json:"html,omitempty"`
	Text        string           `json:"text,omitempty"`
	Attachments []crm.Attachment `json:"attachments,omitempty"`
}

// Scope holds the variable namespaces available to a template. Values may be
// strings, numbers, bools, nested map[string]any, or slices (for #each).
type Scope struct {
	Client       map[string]any
	Conference   map[string]any
	Organization map[string]any
	System       map[string]any

	// Locals holds loop bindings such as "item" inside #each blocks
	Locals map[string]any
}

// NewScope builds a scope from CRM entities. Nil arguments leave the
// corresponding namespace empty; templates referencing it render the tokens
// verbatim.
func NewScope(client *crm.Client, conf *crm.Conference) *Scope {
	s := &Scope{
		Client:       map[string]any{},
		Conference:   map[string]any{},
		Organization: map[string]any{},
		System:       map[string]any{},
	}
	if client != nil {
		s.Client = map[string]any{
			"email":     client.Email,
			"firstName": client.FirstName,
			"lastName":  client.LastName,
			"fullName":  client.FullName(),
			"company":   client.Company,
			"status":    string(client.Status),
			"stage":     string(client.CurrentStage),
		}
	}
	if conf != nil {
		s.Conference = map[string]any{
			"name":     conf.Name,
			"timezone": conf.Timezone,
		}
		if conf.StartsAt != nil {
			s.Conference["startsAt"] = conf.StartsAt.Format("January 2, 2006")
		}
	}
	return s
}

// With returns a derived scope with an additional local binding.
func (s *Scope) With(name string, value any) *Scope {
	child := *s
	child.Locals = make(map[string]any, len(s.Locals)+1)
	for k, v := range s.Locals {
		child.Locals[k] = v
	}
	child.Locals[name] = value
	return &child
}

// Resolve walks a dotted path through the scope. The first segment selects a
// namespace or a local binding; remaining segments descend into nested maps.
// A malformed or missing path resolves to (nil, false), never an error.
func (s *Scope) Resolve(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	segments := splitPath(path)

	var current any
	rest := segments[1:]
	switch segments[0] {
	case "client":
		current = s.Client
	case "conference":
		current = s.Conference
	case "organization":
		current = s.Organization
	case "system":
		current = s.System
	default:
		v, ok := s.Locals[segments[0]]
		if !ok {
			return nil, false
		}
		current = v
	}

	for _, seg := range rest {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if len(rest) == 0 && isNamespace(segments[0]) {
		// Bare namespace reference is not a value
		return nil, false
	}
	return current, true
}

func isNamespace(name string) bool {
	switch name {
	case "client", "conference", "organization", "system":
		return true
	}
	return false
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	return segs
}
