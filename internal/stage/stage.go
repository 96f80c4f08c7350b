// Package stage wraps each agent skill as a typed function. Payloads are
// encoded to the generic object form before dispatch, so the same contract
// checks apply whether the role runs in-process or remotely.
package stage

import (
	"context"
	"fmt"

	"github.com/lucasnoah/auditfactory/internal/contract"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// Caller invokes a skill on a role. *dispatch.Dispatcher implements it.
type Caller interface {
	Call(ctx context.Context, role, skill string, input map[string]any) (map[string]any, error)
}

// Functions exposes one method per pipeline stage.
type Functions struct {
	caller Caller
}

func New(caller Caller) *Functions {
	return &Functions{caller: caller}
}

func (f *Functions) call(ctx context.Context, role, skill string, in any, out any) error {
	payload, err := contract.Encode(in)
	if err != nil {
		return err
	}
	resp, err := f.caller.Call(ctx, role, skill, payload)
	if err != nil {
		return err
	}
	if err := contract.Decode(resp, out); err != nil {
		return fmt.Errorf("%s/%s: %w", role, skill, err)
	}
	return nil
}

// Analyze runs the analyzer over a repository listing.
func (f *Functions) Analyze(ctx context.Context, req pipeline.AnalyzeRequest) ([]pipeline.Finding, error) {
	if req.Files == nil {
		req.Files = []pipeline.SourceFile{}
	}
	var resp pipeline.AnalyzeResponse
	if err := f.call(ctx, contract.RoleAnalyzer, contract.SkillAnalyze, req, &resp); err != nil {
		return nil, err
	}
	return resp.Findings, nil
}

// SpecifyIssues groups findings into issue specs.
func (f *Functions) SpecifyIssues(ctx context.Context, req pipeline.SpecifyRequest) ([]pipeline.IssueSpec, error) {
	var resp pipeline.SpecifyResponse
	if err := f.call(ctx, contract.RoleIssueWriter, contract.SkillSpecifyIssues, req, &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// PlanFix proposes remediation steps for issues.
func (f *Functions) PlanFix(ctx context.Context, req pipeline.PlanRequest) ([]pipeline.PlanStep, error) {
	if req.Issues == nil {
		req.Issues = []pipeline.IssueSpec{}
	}
	var resp pipeline.PlanResponse
	if err := f.call(ctx, contract.RolePlanner, contract.SkillPlanFix, req, &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

// ImplementFix turns plan steps into proposed patches.
func (f *Functions) ImplementFix(ctx context.Context, req pipeline.ImplementRequest) ([]pipeline.Fix, error) {
	if req.Steps == nil {
		req.Steps = []pipeline.PlanStep{}
	}
	var resp pipeline.ImplementResponse
	if err := f.call(ctx, contract.RoleImplementer, contract.SkillImplementFix, req, &resp); err != nil {
		return nil, err
	}
	return resp.Fixes, nil
}

// QAValidate asks for a verdict on the run's output.
func (f *Functions) QAValidate(ctx context.Context, req pipeline.QARequest) (pipeline.QAVerdict, error) {
	if req.Findings == nil {
		req.Findings = []pipeline.Finding{}
	}
	if req.Issues == nil {
		req.Issues = []pipeline.IssueSpec{}
	}
	var resp pipeline.QAVerdict
	if err := f.call(ctx, contract.RoleQA, contract.SkillQAValidate, req, &resp); err != nil {
		return pipeline.QAVerdict{}, err
	}
	return resp, nil
}

// Publish files issues on the tracker.
func (f *Functions) Publish(ctx context.Context, req pipeline.PublishRequest) ([]pipeline.PublishedIssue, error) {
	var resp pipeline.PublishResponse
	if err := f.call(ctx, contract.RolePublisher, contract.SkillPublish, req, &resp); err != nil {
		return nil, err
	}
	return resp.Published, nil
}
