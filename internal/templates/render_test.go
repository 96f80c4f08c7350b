package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	got, err := Render("Repo {{repo_id}} has {{ count }} findings.", Vars{"repo_id": "api", "count": "3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "Repo api has 3 findings."; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRender_MissingVars(t *testing.T) {
	_, err := Render("{{a}} and {{b}} and {{a}}", Vars{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "a, b") {
		t.Errorf("error should list each missing var once, got: %v", err)
	}
}

func TestRender_Conditionals(t *testing.T) {
	tmpl := "Start.{{#if commit}} at {{commit}}{{/if}} End."
	got, err := Render(tmpl, Vars{"commit": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Start. at abc End." {
		t.Errorf("got %q", got)
	}

	// Variables inside a dropped block are not required.
	got, err = Render(tmpl, Vars{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Start. End." {
		t.Errorf("got %q", got)
	}
}

func TestRender_NestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}A{{#if b}}B{{/if}}{{/if}}."
	cases := []struct {
		vars Vars
		want string
	}{
		{Vars{"a": "1", "b": "1"}, "AB."},
		{Vars{"a": "1"}, "A."},
		{Vars{"b": "1"}, "."},
	}
	for _, c := range cases {
		got, err := Render(tmpl, c.vars)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != c.want {
			t.Errorf("vars %v: expected %q, got %q", c.vars, c.want, got)
		}
	}
}

func TestRender_Malformed(t *testing.T) {
	if _, err := Render("x{{/if}}", Vars{}); err == nil || !strings.Contains(err.Error(), "dangling") {
		t.Errorf("expected dangling error, got %v", err)
	}
	if _, err := Render("{{#if x}}open", Vars{}); err == nil || !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got %v", err)
	}
}

func TestSet_BuiltinIssueBody(t *testing.T) {
	out, err := NewSet("").Render(IssueBody, Vars{
		"title":    "Secret: hardcoded credential",
		"severity": "critical",
		"category": "secret",
		"count":    "1",
		"summary":  "A credential was committed.",
		"findings": "- F001 `.env:1` hardcoded credential",
		"files":    "",
		"task":     "",
		"repo_id":  "api",
		"commit":   "abc123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"## Secret: hardcoded credential", "**Severity:** critical", "F001", "`api` at `abc123`"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Affected files") {
		t.Errorf("empty files block should be dropped:\n%s", out)
	}
}

func TestSet_OverrideAndInstall(t *testing.T) {
	dir := t.TempDir()
	written, err := Install(dir)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(written) != len(Names()) {
		t.Fatalf("expected %d templates written, got %v", len(Names()), written)
	}

	if err := os.WriteFile(filepath.Join(dir, PlanStep), []byte("DO {{action}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := NewSet(dir).Render(PlanStep, Vars{"action": "rotate key"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "DO rotate key" {
		t.Errorf("override not used, got %q", out)
	}

	// Existing files survive a second install.
	again, err := Install(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("expected nothing rewritten, got %v", again)
	}

	if _, err := NewSet(dir).Load("../../etc/passwd"); err == nil {
		t.Error("expected traversal to be rejected")
	}
	if _, err := NewSet("").Load("nope.md"); err == nil {
		t.Error("expected unknown template error")
	}
}
