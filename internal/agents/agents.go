// Package agents implements the built-in agent roles. They are registered
// on the in-process backend and also served remotely by the agent server.
package agents

import (
	"context"

	"github.com/lucasnoah/auditfactory/internal/checks"
	"github.com/lucasnoah/auditfactory/internal/contract"
	"github.com/lucasnoah/auditfactory/internal/dispatch"
	"github.com/lucasnoah/auditfactory/internal/github"
	"github.com/lucasnoah/auditfactory/internal/templates"
)

// IssueFiler files issues on a repository host. *github.Client implements it.
type IssueFiler interface {
	EnsureIssues(ctx context.Context, owner, repo string, issues []github.NewIssue) ([]github.Issue, error)
}

// Options configures the built-in roles.
type Options struct {
	Checks    *checks.Runner  // nil disables command checks
	Secrets   SecretScanner   // nil disables content secret scanning
	Templates *templates.Set  // nil uses the built-in templates
	Filer     IssueFiler      // nil makes publish fail
}

// Set holds one instance of every built-in role.
type Set struct {
	Analyzer    *Analyzer
	IssueWriter *IssueWriter
	Planner     *Planner
	Implementer *Implementer
	QA          *QA
	Publisher   *Publisher
}

// New builds the roles from opts.
func New(opts Options) *Set {
	tmpl := opts.Templates
	if tmpl == nil {
		tmpl = templates.NewSet("")
	}
	return &Set{
		Analyzer:    &Analyzer{checks: opts.Checks, secrets: opts.Secrets},
		IssueWriter: &IssueWriter{templates: tmpl},
		Planner:     &Planner{templates: tmpl},
		Implementer: &Implementer{},
		QA:          &QA{},
		Publisher:   &Publisher{filer: opts.Filer},
	}
}

// Register installs every role on b.
func (s *Set) Register(b *dispatch.LocalBackend) {
	b.Register(contract.RoleAnalyzer, contract.SkillAnalyze, handler(s.Analyzer.Analyze))
	b.Register(contract.RoleIssueWriter, contract.SkillSpecifyIssues, handler(s.IssueWriter.Specify))
	b.Register(contract.RolePlanner, contract.SkillPlanFix, handler(s.Planner.Plan))
	b.Register(contract.RoleImplementer, contract.SkillImplementFix, handler(s.Implementer.Implement))
	b.Register(contract.RoleQA, contract.SkillQAValidate, handler(s.QA.Validate))
	b.Register(contract.RolePublisher, contract.SkillPublish, handler(s.Publisher.Publish))
}

// handler adapts a typed role method to the generic payload form.
func handler[Req, Resp any](fn func(context.Context, Req) (Resp, error)) dispatch.HandlerFunc {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		var req Req
		if err := contract.Decode(input, &req); err != nil {
			return nil, err
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return contract.Encode(resp)
	}
}
