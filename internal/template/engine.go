// Package template renders email templates with {var} / {{var}} token
// substitution, {{#if}} conditionals, and {{#each}} loops.
//
// Unresolved tokens are left verbatim so a template still renders with
// partial data.
package template

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/confra/outreach/internal/crm"
)

// ErrNotFound is returned when a referenced template does not exist
var ErrNotFound = errors.New("template not found")

var (
	tokenDouble = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)
	tokenSingle = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)
	blockIf     = regexp.MustCompile(`\{\{#if\s+([^}]+)\}\}`)
	blockEach   = regexp.MustCompile(`\{\{#each\s+([^}]+)\}\}`)
	pathLike    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// Engine renders templates against a variable scope
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render renders the subject and both bodies of a template.
func (e *Engine) Render(tmpl *crm.EmailTemplate, scope *Scope) (*RenderResult, error) {
	if tmpl == nil {
		return nil, ErrNotFound
	}
	return &RenderResult{
		Subject:     e.RenderString(tmpl.Subject, scope),
		HTML:        e.RenderString(tmpl.BodyHTML, scope),
		Text:        e.RenderString(tmpl.BodyText, scope),
		Attachments: tmpl.Attachments,
	}, nil
}

// RenderString renders a single template string: block constructs first, then
// token substitution.
func (e *Engine) RenderString(s string, scope *Scope) string {
	out := e.renderBlocks(s, scope)

	out = tokenDouble.ReplaceAllStringFunc(out, func(m string) string {
		path := tokenDouble.FindStringSubmatch(m)[1]
		if v, ok := scope.Resolve(path); ok {
			return stringify(v)
		}
		return m
	})
	out = tokenSingle.ReplaceAllStringFunc(out, func(m string) string {
		path := tokenSingle.FindStringSubmatch(m)[1]
		if v, ok := scope.Resolve(path); ok {
			return stringify(v)
		}
		return m
	})
	return out
}

// renderBlocks evaluates {{#if}} and {{#each}} blocks, recursing into nested
// blocks. An unmatched opener is left verbatim.
func (e *Engine) renderBlocks(s string, scope *Scope) string {
	var b strings.Builder
	for {
		idx, tag := findBlockStart(s)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])

		headerEnd := strings.Index(s[idx:], "}}")
		if headerEnd < 0 {
			b.WriteString(s[idx:])
			return b.String()
		}
		header := strings.TrimSpace(s[idx+len("{{#")+len(tag) : idx+headerEnd])
		bodyStart := idx + headerEnd + 2

		bodyEnd, nextStart := findBlockEnd(s, bodyStart, tag)
		if bodyEnd < 0 {
			b.WriteString(s[idx:])
			return b.String()
		}
		body := s[bodyStart:bodyEnd]

		switch tag {
		case "if":
			if e.evalCondition(header, scope) {
				b.WriteString(e.renderBlocks(body, scope))
			}
		case "each":
			if items, ok := resolveSequence(scope, header); ok {
				for _, item := range items {
					b.WriteString(e.renderBlocks(body, scope.With("item", item)))
				}
			}
		}
		s = s[nextStart:]
	}
}

// findBlockStart locates the earliest block opener, returning its index and
// the tag name ("if" or "each"), or -1 when none remains.
func findBlockStart(s string) (int, string) {
	ifIdx := strings.Index(s, "{{#if")
	eachIdx := strings.Index(s, "{{#each")
	switch {
	case ifIdx < 0 && eachIdx < 0:
		return -1, ""
	case eachIdx < 0 || (ifIdx >= 0 && ifIdx < eachIdx):
		return ifIdx, "if"
	default:
		return eachIdx, "each"
	}
}

// findBlockEnd finds the closer matching an opener of the given tag, counting
// nested blocks of the same tag. Returns the body end index and the index
// just past the closer, or (-1, -1) when unmatched.
func findBlockEnd(s string, from int, tag string) (int, int) {
	opener := "{{#" + tag
	closer := "{{/" + tag + "}}"
	depth := 1
	pos := from
	for {
		closeIdx := strings.Index(s[pos:], closer)
		if closeIdx < 0 {
			return -1, -1
		}
		openIdx := strings.Index(s[pos:], opener)
		if openIdx >= 0 && openIdx < closeIdx {
			depth++
			pos += openIdx + len(opener)
			continue
		}
		depth--
		if depth == 0 {
			return pos + closeIdx, pos + closeIdx + len(closer)
		}
		pos += closeIdx + len(closer)
	}
}

// evalCondition evaluates an #if header: "path == value", "path != value",
// or bare-path truthiness. The right operand may be a quoted literal or
// another variable path.
func (e *Engine) evalCondition(cond string, scope *Scope) bool {
	for _, op := range []string{"==", "!="} {
		if left, right, found := strings.Cut(cond, op); found {
			lv := resolveOperand(scope, strings.TrimSpace(left))
			rv := resolveOperand(scope, strings.TrimSpace(right))
			if op == "==" {
				return lv == rv
			}
			return lv != rv
		}
	}
	v, ok := scope.Resolve(strings.TrimSpace(cond))
	return ok && truthy(v)
}

// resolveOperand resolves a comparison operand: quoted strings are literals,
// resolvable paths yield their value, anything else is taken as literal text.
func resolveOperand(scope *Scope, operand string) string {
	if len(operand) >= 2 {
		if (operand[0] == '"' && operand[len(operand)-1] == '"') ||
			(operand[0] == '\'' && operand[len(operand)-1] == '\'') {
			return operand[1 : len(operand)-1]
		}
	}
	if pathLike.MatchString(operand) {
		if v, ok := scope.Resolve(operand); ok {
			return stringify(v)
		}
	}
	return operand
}

// resolveSequence resolves a path to a slice of items. Non-sequence values
// report false, which renders the block as empty.
func resolveSequence(scope *Scope, path string) ([]any, bool) {
	v, ok := scope.Resolve(path)
	if !ok || v == nil {
		return nil, false
	}
	switch items := v.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ExtractVariables returns the sorted set of variable paths referenced by a
// template string: substitution tokens plus #if operands and #each sources.
// Loop-local bindings (item.*) are not part of the scope and are excluded.
func ExtractVariables(content string) []string {
	seen := make(map[string]struct{})

	add := func(path string) {
		if path == "" || !pathLike.MatchString(path) {
			return
		}
		if first, _, _ := strings.Cut(path, "."); first == "item" {
			return
		}
		seen[path] = struct{}{}
	}

	for _, m := range tokenDouble.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range tokenSingle.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, m := range blockEach.FindAllStringSubmatch(content, -1) {
		add(strings.TrimSpace(m[1]))
	}
	for _, m := range blockIf.FindAllStringSubmatch(content, -1) {
		cond := strings.TrimSpace(m[1])
		operands := []string{cond}
		for _, op := range []string{"==", "!="} {
			if left, right, found := strings.Cut(cond, op); found {
				operands = []string{strings.TrimSpace(left), strings.TrimSpace(right)}
				break
			}
		}
		for _, operand := range operands {
			add(operand)
		}
	}

	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
