package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Built-in template names.
const (
	IssueBody = "issue.md"
	PlanStep  = "plan-step.md"
)

var builtin = map[string]string{
	IssueBody: issueTemplate,
	PlanStep:  planStepTemplate,
}

const issueTemplate = `## {{title}}

**Severity:** {{severity}} · **Category:** {{category}} · **Findings:** {{count}}

{{summary}}

### Findings
{{findings}}
{{#if files}}
### Affected files
{{files}}
{{/if}}
{{#if task}}
### Audit task
{{task}}
{{/if}}
---
_Filed by auditfactory for ` + "`{{repo_id}}`" + `{{#if commit}} at ` + "`{{commit}}`" + `{{/if}}._
`

const planStepTemplate = `{{action}}{{#if files}} (files: {{files}}){{/if}}`

// Set resolves templates by name, preferring files in an override
// directory over the built-ins.
type Set struct {
	dir string
}

// NewSet returns a Set reading overrides from dir. An empty dir uses
// built-ins only.
func NewSet(dir string) *Set {
	return &Set{dir: dir}
}

// DefaultDir is ~/.auditfactory/templates.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".auditfactory", "templates")
}

// Load returns the template text for name.
func (s *Set) Load(name string) (string, error) {
	if s != nil && s.dir != "" {
		clean := filepath.Clean(name)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return "", fmt.Errorf("template name %q escapes template dir", name)
		}
		data, err := os.ReadFile(filepath.Join(s.dir, clean))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %q: %w", name, err)
		}
	}
	tmpl, ok := builtin[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	return tmpl, nil
}

// Render loads name and expands it with vars.
func (s *Set) Render(name string, vars Vars) (string, error) {
	tmpl, err := s.Load(name)
	if err != nil {
		return "", err
	}
	out, err := Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// Names lists the built-in templates.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Install writes the built-in templates into dir so they can be edited.
// Existing files are left alone. It returns the names written.
func Install(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("no template directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}
	var written []string
	for _, name := range Names() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(builtin[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
