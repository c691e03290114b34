package template

import (
	"reflect"
	"strings"
	"testing"

	"github.com/confra/outreach/internal/crm"
)

func testScope() *Scope {
	return &Scope{
		Client: map[string]any{
			"firstName": "Ada",
			"email":     "ada@example.com",
			"status":    "lead",
			"papers": []any{
				map[string]any{"title": "On Computable Numbers"},
				map[string]any{"title": "Intelligent Machinery"},
			},
		},
		Conference: map[string]any{
			"name": "GopherCon",
		},
		Organization: map[string]any{},
		System:       map[string]any{"senderName": "Outreach Team"},
	}
}

func TestRenderStringSubstitution(t *testing.T) {
	e := NewEngine()
	scope := testScope()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"double braces", "Hi {{client.firstName}}!", "Hi Ada!"},
		{"single braces", "Hi {client.firstName}!", "Hi Ada!"},
		{"dotted path", "See you at {{conference.name}}", "See you at GopherCon"},
		{"system namespace", "-- {{system.senderName}}", "-- Outreach Team"},
		{"unresolved left verbatim", "Hi {{client.nickname}}!", "Hi {{client.nickname}}!"},
		{"unresolved single verbatim", "Hi {unknown}!", "Hi {unknown}!"},
		{"malformed nested path", "{{client.firstName.x}}", "{{client.firstName.x}}"},
		{"bare namespace verbatim", "{{client}}", "{{client}}"},
		{"mixed", "{client.firstName} <{{client.email}}> {{missing.var}}", "Ada <ada@example.com> {{missing.var}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.RenderString(tt.content, scope); got != tt.want {
				t.Errorf("RenderString(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestRenderStringConditionals(t *testing.T) {
	e := NewEngine()
	scope := testScope()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"eq literal true", `{{#if client.status == "lead"}}Welcome{{/if}}`, "Welcome"},
		{"eq literal false", `{{#if client.status == "registered"}}Welcome{{/if}}`, ""},
		{"eq single quotes", `{{#if client.status == 'lead'}}Welcome{{/if}}`, "Welcome"},
		{"neq", `{{#if client.status != "registered"}}Still open{{/if}}`, "Still open"},
		{"path vs path", `{{#if client.firstName == client.firstName}}same{{/if}}`, "same"},
		{"truthiness true", `{{#if client.firstName}}named{{/if}}`, "named"},
		{"truthiness unresolved", `{{#if client.nickname}}named{{/if}}`, ""},
		{"body renders tokens", `{{#if client.status == "lead"}}Hi {{client.firstName}}{{/if}}`, "Hi Ada"},
		{"nested if", `{{#if client.status == "lead"}}{{#if conference.name}}both{{/if}}{{/if}}`, "both"},
		{"unmatched opener verbatim", `{{#if client.status == "lead"}}no closer`, `{{#if client.status == "lead"}}no closer`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.RenderString(tt.content, scope); got != tt.want {
				t.Errorf("RenderString(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestRenderStringLoops(t *testing.T) {
	e := NewEngine()
	scope := testScope()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			"each over maps",
			`{{#each client.papers}}- {{item.title}}` + "\n" + `{{/each}}`,
			"- On Computable Numbers\n- Intelligent Machinery\n",
		},
		{
			"non-sequence renders empty",
			`{{#each client.firstName}}x{{/each}}`,
			"",
		},
		{
			"unresolved source renders empty",
			`{{#each client.missing}}x{{/each}}`,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.RenderString(tt.content, scope); got != tt.want {
				t.Errorf("RenderString(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestRenderTemplate(t *testing.T) {
	e := NewEngine()
	scope := testScope()

	tmpl := &crm.EmailTemplate{
		ID:       "tpl-1",
		Subject:  "Invitation to {{conference.name}}",
		BodyHTML: "<p>Hi {{client.firstName}}</p>",
		BodyText: "Hi {client.firstName}",
		Attachments: []crm.Attachment{
			{Filename: "agenda.pdf", ContentType: "application/pdf"},
		},
	}

	got, err := e.Render(tmpl, scope)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Invitation to GopherCon" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if got.HTML != "<p>Hi Ada</p>" {
		t.Errorf("HTML = %q", got.HTML)
	}
	if got.Text != "Hi Ada" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Filename != "agenda.pdf" {
		t.Errorf("Attachments = %+v", got.Attachments)
	}
}

func TestRenderNilTemplate(t *testing.T) {
	e := NewEngine()
	if _, err := e.Render(nil, testScope()); err != ErrNotFound {
		t.Errorf("Render(nil) error = %v, want ErrNotFound", err)
	}
}

func TestExtractVariables(t *testing.T) {
	content := `Hi {{client.firstName}}, {conference.name} starts soon.
{{#if client.status == "lead"}}Please register.{{/if}}
{{#if client.company != system.orgName}}external{{/if}}
{{#each client.papers}}{{item.title}}{{/each}}`

	got := ExtractVariables(content)
	want := []string{
		"client.company",
		"client.firstName",
		"client.papers",
		"client.status",
		"conference.name",
		"system.orgName",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractVariables() = %v, want %v", got, want)
	}
}

func TestExtractVariablesPure(t *testing.T) {
	content := "{{client.firstName}} {{client.email}}"
	first := ExtractVariables(content)
	second := ExtractVariables(content)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ExtractVariables() not stable: %v != %v", first, second)
	}
}

func TestRenderCoversExtractedVariables(t *testing.T) {
	// Property: with every extracted variable present in scope, the rendered
	// output contains no remaining {{...}} tokens for those variables.
	content := "Dear {{client.firstName}} of {{client.company}}, welcome to {{conference.name}}."
	scope := &Scope{
		Client:       map[string]any{},
		Conference:   map[string]any{},
		Organization: map[string]any{},
		System:       map[string]any{},
	}
	for _, path := range ExtractVariables(content) {
		ns, key, _ := strings.Cut(path, ".")
		switch ns {
		case "client":
			scope.Client[key] = "v"
		case "conference":
			scope.Conference[key] = "v"
		case "organization":
			scope.Organization[key] = "v"
		case "system":
			scope.System[key] = "v"
		}
	}

	out := NewEngine().RenderString(content, scope)
	if strings.Contains(out, "{{") || strings.Contains(out, "}}") {
		t.Errorf("rendered output still contains tokens: %q", out)
	}
}

func TestScopeWithDoesNotMutateParent(t *testing.T) {
	scope := testScope()
	child := scope.With("item", "x")
	if _, ok := scope.Resolve("item"); ok {
		t.Error("parent scope gained local binding")
	}
	if v, ok := child.Resolve("item"); !ok || v != "x" {
		t.Errorf("child Resolve(item) = %v, %v", v, ok)
	}
}
