package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/dispatch"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
	"github.com/lucasnoah/auditfactory/internal/source"
)

// execution is the state of one pipeline run.
type execution struct {
	o   *Orchestrator
	req pipeline.TaskRequest
	res *pipeline.Result
}

func (x *execution) execute(ctx context.Context) {
	res := x.res
	st := x.o.stages

	start := time.Now()
	repo, err := x.o.repos.Get(x.req.RepoID)
	if err != nil {
		x.fail(ctx, pipeline.StageResolveRepo, start, pipeline.ErrKindRepoNotFound, err)
		return
	}
	listing, err := x.o.source.Fetch(ctx, repo, x.o.sourceOpts)
	if err != nil {
		kind := pipeline.ErrKindSource
		switch {
		case ctx.Err() != nil:
			kind = pipeline.ErrKindCancelled
		case errors.Is(err, source.ErrUnavailable):
			kind = pipeline.ErrKindSourceUnavailable
		}
		x.fail(ctx, pipeline.StageResolveRepo, start, kind, err)
		return
	}
	res.Commit = listing.Commit
	ref := fmt.Sprintf("%d files", len(listing.Files))
	if listing.Truncated {
		ref += " (truncated)"
	}
	x.ok(pipeline.StageResolveRepo, start, ref)

	// ANALYZE
	if !x.advance(ctx, pipeline.StateAnalyze, pipeline.StageAnalyze) {
		return
	}
	start = time.Now()
	findings, err := st.Analyze(ctx, pipeline.AnalyzeRequest{
		RepoID:         repo.ID,
		Root:           listing.Root,
		Commit:         listing.Commit,
		Files:          listing.Files,
		Truncated:      listing.Truncated,
		MaxFileBytes:   listing.MaxFileBytes(),
		LargeFileBytes: x.o.largeFileBytes,
		Checks:         repo.Checks,
	})
	if err != nil {
		x.fail(ctx, pipeline.StageAnalyze, start, classify(ctx, err), err)
		return
	}
	res.Findings = findings
	res.IssuesFound = len(findings)
	res.IssuesBySeverity = pipeline.CountBySeverity(findings)
	res.IssuesByType = pipeline.CountByCategory(findings)
	x.ok(pipeline.StageAnalyze, start, fmt.Sprintf("%d findings", len(findings)))
	x.o.logf("%s: %d findings", repo.ID, len(findings))
	if len(findings) == 0 {
		x.finish(ctx)
		return
	}

	// SPECIFY_ISSUES
	if !x.advance(ctx, pipeline.StateSpecifyIssues, pipeline.StageSpecifyIssues) {
		return
	}
	start = time.Now()
	issues, err := st.SpecifyIssues(ctx, pipeline.SpecifyRequest{RepoID: repo.ID, Task: x.req.Task, Commit: listing.Commit, Findings: findings})
	if err != nil {
		x.fail(ctx, pipeline.StageSpecifyIssues, start, classify(ctx, err), err)
		return
	}
	res.Issues = issues
	x.ok(pipeline.StageSpecifyIssues, start, fmt.Sprintf("%d issues", len(issues)))

	if x.req.Mode == pipeline.ModePreview {
		const reason = "preview mode"
		if x.req.Remediate {
			x.skip(pipeline.StagePlanFix, reason)
			x.skip(pipeline.StageImplementFix, reason)
		}
		x.skip(pipeline.StageQAValidate, reason)
		x.skip(pipeline.StagePersist, reason)
		x.skip(pipeline.StagePublish, reason)
		x.finish(ctx)
		return
	}

	if x.req.Remediate {
		if !x.remediate(ctx, repo, listing.Root) {
			return
		}
	}

	// QA_VALIDATE
	if !x.advance(ctx, pipeline.StateQAValidate, pipeline.StageQAValidate) {
		return
	}
	start = time.Now()
	verdict, err := st.QAValidate(ctx, pipeline.QARequest{
		RepoID:   repo.ID,
		Mode:     x.req.Mode,
		Findings: findings,
		Issues:   issues,
		Fixes:    res.Fixes,
	})
	if err != nil {
		x.fail(ctx, pipeline.StageQAValidate, start, classify(ctx, err), err)
		return
	}
	res.Verdict = &verdict
	x.ok(pipeline.StageQAValidate, start, string(verdict.Verdict))

	// PERSIST_OR_PUBLISH
	if !x.advance(ctx, pipeline.StatePersistOrPublish, pipeline.StagePersist) {
		return
	}
	x.persist(ctx, listing.Commit)
	if err := x.publish(ctx, repo); err != nil {
		return
	}
	x.finish(ctx)
}

func (x *execution) remediate(ctx context.Context, repo registry.RepoConfig, root string) bool {
	res := x.res
	if !x.advance(ctx, pipeline.StatePlanFix, pipeline.StagePlanFix) {
		return false
	}
	start := time.Now()
	steps, err := x.o.stages.PlanFix(ctx, pipeline.PlanRequest{RepoID: repo.ID, Issues: res.Issues})
	if err != nil {
		x.fail(ctx, pipeline.StagePlanFix, start, classify(ctx, err), err)
		return false
	}
	res.Plan = steps
	x.ok(pipeline.StagePlanFix, start, fmt.Sprintf("%d steps", len(steps)))

	if !x.advance(ctx, pipeline.StateImplementFix, pipeline.StageImplementFix) {
		return false
	}
	start = time.Now()
	fixes, err := x.o.stages.ImplementFix(ctx, pipeline.ImplementRequest{RepoID: repo.ID, Root: root, Steps: steps})
	if err != nil {
		x.fail(ctx, pipeline.StageImplementFix, start, classify(ctx, err), err)
		return false
	}
	res.Fixes = fixes
	res.IssuesFixed = resolvedCount(res.Findings, fixes)
	x.ok(pipeline.StageImplementFix, start, fmt.Sprintf("%d fixes resolving %d findings", len(fixes), res.IssuesFixed))
	return true
}

// persist writes the repo artifact. A failed write is recorded on the
// outcome and logged; the pipeline carries on.
func (x *execution) persist(ctx context.Context, commit string) {
	res := x.res
	if x.o.store == nil {
		x.skip(pipeline.StagePersist, "no artifact store configured")
		return
	}
	start := time.Now()
	path := pipeline.RepoArtifactPath(res.RunID, res.RepoID)
	art := pipeline.RepoArtifact{
		RunID:         res.RunID,
		RepoID:        res.RepoID,
		Mode:          res.Mode,
		Commit:        commit,
		CorrelationID: res.CorrelationID,
		Findings:      res.Findings,
		Issues:        res.Issues,
		Fixes:         res.Fixes,
		Verdict:       res.Verdict,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := x.o.store.Write(ctx, path, art); err != nil {
		x.o.log.Warn(ctx, "artifact write failed", zap.String("path", path), zap.Error(err))
		x.record(pipeline.StagePersist, pipeline.StatusError, start, path, err.Error())
		return
	}
	res.ArtifactRef = path
	x.ok(pipeline.StagePersist, start, path)
}

// publish files issues when the mode, QA verdict and repo permissions allow
// it. Anything short of that downgrades the run to dry-run behaviour. A
// publish failure fails the pipeline and the returned error is non-nil.
func (x *execution) publish(ctx context.Context, repo registry.RepoConfig) error {
	res := x.res
	if x.req.Mode != pipeline.ModeCreate {
		x.skip(pipeline.StagePublish, fmt.Sprintf("%s mode", x.req.Mode))
		return nil
	}

	var reason string
	switch {
	case res.Verdict == nil || res.Verdict.Verdict != pipeline.VerdictPass:
		reason = "qa verdict is not pass"
		if res.Verdict != nil {
			reason = fmt.Sprintf("qa verdict %s", res.Verdict.Verdict)
			if res.Verdict.Notes != "" {
				reason += ": " + res.Verdict.Notes
			}
		}
	case !repo.CanWrite:
		reason = "repository is not writable"
	case !repo.Publish.Configured():
		reason = "no publish target configured"
	}
	if reason != "" {
		res.Downgraded = true
		res.DowngradeReason = reason
		x.skip(pipeline.StagePublish, "downgraded to dry-run: "+reason)
		x.o.log.Warn(ctx, "publish downgraded", zap.String("reason", reason))
		x.o.logf("%s: publish downgraded (%s)", repo.ID, reason)
		return nil
	}
	if len(res.Issues) == 0 {
		x.skip(pipeline.StagePublish, "no issues to publish")
		return nil
	}

	start := time.Now()
	published, err := x.o.stages.Publish(ctx, pipeline.PublishRequest{
		RepoID: repo.ID,
		Owner:  repo.Publish.Owner,
		Repo:   repo.Publish.Repo,
		Issues: res.Issues,
	})
	if err != nil {
		x.fail(ctx, pipeline.StagePublish, start, classify(ctx, err), err)
		return err
	}
	res.Published = published
	x.ok(pipeline.StagePublish, start, fmt.Sprintf("%d issues on %s/%s", len(published), repo.Publish.Owner, repo.Publish.Repo))
	return nil
}

// advance moves to state unless the caller cancelled, in which case the
// pending stage is recorded as failed.
func (x *execution) advance(ctx context.Context, state pipeline.State, stage string) bool {
	if err := ctx.Err(); err != nil {
		x.fail(ctx, stage, time.Now(), pipeline.ErrKindCancelled, fmt.Errorf("cancelled before %s: %w", state, err))
		return false
	}
	x.res.State = state
	return true
}

func (x *execution) record(stage string, status pipeline.Status, start time.Time, ref, errMsg string) {
	x.res.Stages = append(x.res.Stages, pipeline.StageOutcome{
		Stage:         stage,
		Status:        status,
		Duration:      time.Since(start),
		Error:         errMsg,
		PayloadRef:    ref,
		CorrelationID: x.res.CorrelationID,
	})
}

func (x *execution) ok(stage string, start time.Time, ref string) {
	x.record(stage, pipeline.StatusOK, start, ref, "")
}

func (x *execution) skip(stage, reason string) {
	x.res.Stages = append(x.res.Stages, pipeline.StageOutcome{
		Stage:         stage,
		Status:        pipeline.StatusSkipped,
		PayloadRef:    reason,
		CorrelationID: x.res.CorrelationID,
	})
}

func (x *execution) fail(ctx context.Context, stage string, start time.Time, kind string, err error) {
	x.record(stage, pipeline.StatusError, start, "", err.Error())
	x.res.State = pipeline.StateError
	x.res.Error = err.Error()
	x.res.ErrorKind = kind
	x.o.log.Error(ctx, "stage failed", zap.String("stage", stage), zap.String("error_kind", kind), zap.Error(err))
}

func (x *execution) finish(ctx context.Context) {
	x.res.State = pipeline.StateDone
	x.res.ComplianceScore = x.o.scorer(x.res)
}

func classify(ctx context.Context, err error) string {
	var ce *dispatch.ContractError
	switch {
	case ctx.Err() != nil:
		return pipeline.ErrKindCancelled
	case errors.As(err, &ce):
		return pipeline.ErrKindContract
	case dispatch.KindOf(err) != "":
		return pipeline.ErrKindDispatch
	default:
		return pipeline.ErrKindStage
	}
}

// resolvedCount counts the distinct known findings that fixes resolve.
func resolvedCount(findings []pipeline.Finding, fixes []pipeline.Fix) int {
	known := make(map[string]bool, len(findings))
	for _, f := range findings {
		known[f.ID] = true
	}
	resolved := make(map[string]bool)
	for _, fx := range fixes {
		for _, id := range fx.Resolves {
			if known[id] {
				resolved[id] = true
			}
		}
	}
	return len(resolved)
}

// resolvedIDs returns the sorted finding ids resolved by fixes.
func resolvedIDs(fixes []pipeline.Fix) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, fx := range fixes {
		for _, id := range fx.Resolves {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
