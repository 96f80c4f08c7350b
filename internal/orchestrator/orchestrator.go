// Package orchestrator runs the per-repository audit pipeline:
//
//	RESOLVE_REPO -> ANALYZE -> SPECIFY_ISSUES -> [PLAN_FIX -> IMPLEMENT_FIX]
//	  -> QA_VALIDATE -> PERSIST_OR_PUBLISH -> DONE
//
// with ERROR reachable from every state. Side effects are gated by mode.
package orchestrator

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
	"github.com/lucasnoah/auditfactory/internal/source"
)

// RepoLookup resolves repository ids. *registry.Registry implements it.
type RepoLookup interface {
	Get(id string) (registry.RepoConfig, error)
}

// Stages runs the agent-backed stages. *stage.Functions implements it.
type Stages interface {
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) ([]pipeline.Finding, error)
	SpecifyIssues(ctx context.Context, req pipeline.SpecifyRequest) ([]pipeline.IssueSpec, error)
	PlanFix(ctx context.Context, req pipeline.PlanRequest) ([]pipeline.PlanStep, error)
	ImplementFix(ctx context.Context, req pipeline.ImplementRequest) ([]pipeline.Fix, error)
	QAValidate(ctx context.Context, req pipeline.QARequest) (pipeline.QAVerdict, error)
	Publish(ctx context.Context, req pipeline.PublishRequest) ([]pipeline.PublishedIssue, error)
}

// Orchestrator runs one repository through the pipeline.
type Orchestrator struct {
	repos          RepoLookup
	source         source.Provider
	stages         Stages
	store          pipeline.ArtifactStore
	scorer         Scorer
	log            *logging.Logger
	progress       io.Writer // live progress output; nil = silent
	sourceOpts     source.Options
	largeFileBytes int64
}

// NewOrchestrator creates an Orchestrator. store may be nil, in which case
// persisting is recorded as skipped.
func NewOrchestrator(repos RepoLookup, src source.Provider, stages Stages, store pipeline.ArtifactStore, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		repos:  repos,
		source: src,
		stages: stages,
		store:  store,
		scorer: DefaultScorer,
		log:    log.Named("pipeline"),
	}
}

// SetScorer replaces the compliance scorer.
func (o *Orchestrator) SetScorer(s Scorer) {
	if s != nil {
		o.scorer = s
	}
}

// SetSourceOptions bounds repository listings.
func (o *Orchestrator) SetSourceOptions(opts source.Options) {
	o.sourceOpts = opts
}

// SetLargeFileBytes sets the size above which the analyzer flags a file.
func (o *Orchestrator) SetLargeFileBytes(n int64) {
	o.largeFileBytes = n
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// Run executes the pipeline for req.RepoID. Stage failures are captured in
// the returned Result; the error is non-nil only for a malformed request.
func (o *Orchestrator) Run(ctx context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = logging.NewID()
	}
	if req.RunID == "" {
		req.RunID = logging.NewID()
	}
	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	ctx = logging.WithRunID(ctx, req.RunID)
	ctx = logging.WithRepoID(ctx, req.RepoID)

	x := &execution{
		o:   o,
		req: req,
		res: &pipeline.Result{
			RunID:            req.RunID,
			RepoID:           req.RepoID,
			Mode:             req.Mode,
			CorrelationID:    req.CorrelationID,
			State:            pipeline.StateResolveRepo,
			Stages:           []pipeline.StageOutcome{},
			IssuesBySeverity: map[string]int{},
			IssuesByType:     map[string]int{},
		},
	}

	o.log.Info(ctx, "pipeline started", zap.String("mode", string(req.Mode)), zap.Bool("remediate", req.Remediate))
	o.logf("%s: starting (%s)", req.RepoID, req.Mode)
	x.execute(ctx)

	res := x.res
	if res.Failed() {
		o.log.Warn(ctx, "pipeline failed", zap.String("error_kind", res.ErrorKind), zap.String("error", res.Error))
		o.logf("%s: ERROR %s", req.RepoID, res.Error)
	} else {
		o.log.Info(ctx, "pipeline finished",
			zap.Int("issues_found", res.IssuesFound),
			zap.Int("issues_fixed", res.IssuesFixed),
			zap.Float64("compliance_score", res.ComplianceScore),
			zap.Bool("downgraded", res.Downgraded))
		o.logf("%s: done, %d findings, score %.1f", req.RepoID, res.IssuesFound, res.ComplianceScore)
	}
	return res, nil
}
