// Package portfolio runs the audit pipeline across many repositories with
// bounded concurrency and aggregates the results.
package portfolio

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// Runner runs the pipeline for one repository.
// *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.TaskRequest) (*pipeline.Result, error)
}

// RepoSource lists and resolves registry entries. *registry.Registry implements it.
type RepoSource interface {
	Get(id string) (registry.RepoConfig, error)
	List(f registry.Filter) []registry.RepoConfig
}

const reasonCancelled = "cancelled"

// Orchestrator fans a Request out over repositories.
type Orchestrator struct {
	repos       RepoSource
	runner      Runner
	store       pipeline.ArtifactStore
	notifier    events.Notifier
	metrics     *Metrics
	log         *logging.Logger
	maxInFlight int
	progress    io.Writer
}

// New creates an Orchestrator that runs one repository at a time.
// store may be nil, in which case no summary is written.
func New(repos RepoSource, runner Runner, store pipeline.ArtifactStore, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		repos:       repos,
		runner:      runner,
		store:       store,
		notifier:    events.Nop{},
		log:         log.Named("portfolio"),
		maxInFlight: 1,
	}
}

// SetMaxInFlight bounds the number of repositories processed concurrently.
func (o *Orchestrator) SetMaxInFlight(n int) {
	if n < 1 {
		n = 1
	}
	o.maxInFlight = n
}

func (o *Orchestrator) SetNotifier(n events.Notifier) {
	if n == nil {
		n = events.Nop{}
	}
	o.notifier = n
}

func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// target is a selected repository and, when it will not be run, the reason.
type target struct {
	repo       registry.RepoConfig
	skipReason string
}

// selectRepos resolves the request into an ordered target list. Named repos
// are taken as given, so remote-only repos are fetched when asked for by id.
// The default set (all repos, or all matching Tags) skips remote-only and
// unreachable repos.
func (o *Orchestrator) selectRepos(req Request) []target {
	var out []target
	if len(req.RepoIDs) > 0 {
		seen := make(map[string]bool, len(req.RepoIDs))
		for _, id := range req.RepoIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			repo, err := o.repos.Get(id)
			if err != nil {
				// Run it anyway; the pipeline records repo_not_found.
				out = append(out, target{repo: registry.RepoConfig{ID: id}})
				continue
			}
			t := target{repo: repo}
			if repo.Unreachable {
				t.skipReason = "repository is marked unreachable"
			}
			out = append(out, t)
		}
		return out
	}
	for _, repo := range o.repos.List(registry.Filter{Tags: req.Tags}) {
		t := target{repo: repo}
		switch {
		case repo.Unreachable:
			t.skipReason = "repository is marked unreachable"
		case repo.IsRemoteOnly():
			t.skipReason = "remote-only repository; name it explicitly to fetch"
		}
		out = append(out, t)
	}
	return out
}

// Run audits every selected repository and returns the aggregated result.
// The error is non-nil only for a malformed request; repository failures are
// reported in the result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = logging.NewID()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = logging.NewID()
	}
	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	ctx = logging.WithRunID(ctx, req.RunID)

	started := time.Now()
	targets := o.selectRepos(req)
	o.log.Info(ctx, "portfolio run started",
		zap.String("mode", string(req.Mode)),
		zap.Int("repos", len(targets)),
		zap.Int("max_in_flight", o.maxInFlight))
	o.logf("Run %s: %d repos (%s)", req.RunID, len(targets), req.Mode)
	o.notify(ctx, events.Event{Type: events.RunStarted, RunID: req.RunID, Mode: string(req.Mode), Data: map[string]any{"repos": len(targets)}})

	results := make([]RepoResult, len(targets))
	var done atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(o.maxInFlight)
	for i, t := range targets {
		if t.skipReason != "" {
			results[i] = o.skipped(ctx, req, t.repo, t.skipReason)
			continue
		}
		// g.Go blocks while the pool is full, so this check runs between repos.
		if ctx.Err() != nil {
			results[i] = o.skipped(ctx, req, t.repo, reasonCancelled)
			continue
		}
		g.Go(func() error {
			results[i] = o.runRepo(ctx, req, t.repo)
			n := done.Add(1)
			o.logf("[%d] %s: %s", n, results[i].RepoID, results[i].Status)
			return nil
		})
	}
	_ = g.Wait()

	finished := time.Now()
	res := &Result{
		RunID:         req.RunID,
		Mode:          req.Mode,
		Task:          req.Task,
		CorrelationID: req.CorrelationID,
		StartedAt:     started.UTC(),
		FinishedAt:    finished.UTC(),
		Duration:      finished.Sub(started),
		Repos:         results,
		Aggregates:    Aggregate(results),
	}

	o.writeSummary(ctx, res)
	o.observeRun(res)

	agg := res.Aggregates
	o.log.Info(ctx, "portfolio run finished",
		zap.Int("analyzed", agg.ReposAnalyzed),
		zap.Int("skipped", agg.ReposSkipped),
		zap.Int("errored", agg.ReposErrored),
		zap.Int("issues_found", agg.IssuesFound),
		zap.Float64("fix_rate", agg.FixRate),
		zap.Duration("duration", res.Duration))
	o.notify(ctx, events.Event{Type: events.RunFinished, RunID: req.RunID, Mode: string(req.Mode), Data: map[string]any{
		"analyzed":     agg.ReposAnalyzed,
		"skipped":      agg.ReposSkipped,
		"errored":      agg.ReposErrored,
		"issues_found": agg.IssuesFound,
		"fix_rate":     agg.FixRate,
	}})
	return res, nil
}

// runRepo runs one repository inside a recovery boundary so a panicking
// pipeline only fails its own slot.
func (o *Orchestrator) runRepo(ctx context.Context, req Request, repo registry.RepoConfig) (rr RepoResult) {
	start := time.Now()
	rr = RepoResult{RepoID: repo.ID, Name: repo.DisplayName(), CorrelationID: req.CorrelationID}
	rctx := logging.WithRepoID(ctx, repo.ID)

	defer func() {
		if r := recover(); r != nil {
			rr.Status = StatusError
			rr.Error = fmt.Sprintf("panic: %v", r)
			rr.Pipeline = nil
			o.log.Error(rctx, "repository pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		rr.Duration = time.Since(start)
		o.finishRepo(rctx, req, rr)
	}()

	if ctx.Err() != nil {
		rr.Status = StatusSkipped
		rr.Reason = reasonCancelled
		return rr
	}

	res, err := o.runner.Run(rctx, pipeline.TaskRequest{
		RunID:         req.RunID,
		RepoID:        repo.ID,
		Task:          req.Task,
		Environment:   req.Environment,
		Mode:          req.Mode,
		Metadata:      req.Metadata,
		CorrelationID: req.CorrelationID,
		Remediate:     req.Remediate,
	})
	if err != nil {
		rr.Status = StatusError
		rr.Error = err.Error()
		return rr
	}
	rr.Pipeline = res
	switch {
	case res.State == pipeline.StateDone:
		rr.Status = StatusCompleted
	case res.ErrorKind == pipeline.ErrKindSourceUnavailable:
		rr.Status = StatusSkipped
		rr.Reason = res.Error
	case res.ErrorKind == pipeline.ErrKindCancelled:
		rr.Status = StatusSkipped
		rr.Reason = reasonCancelled
	default:
		rr.Status = StatusError
		rr.Error = res.Error
	}
	return rr
}

func (o *Orchestrator) skipped(ctx context.Context, req Request, repo registry.RepoConfig, reason string) RepoResult {
	rr := RepoResult{
		RepoID:        repo.ID,
		Name:          repo.DisplayName(),
		Status:        StatusSkipped,
		Reason:        reason,
		CorrelationID: req.CorrelationID,
	}
	o.finishRepo(logging.WithRepoID(ctx, repo.ID), req, rr)
	return rr
}

func (o *Orchestrator) finishRepo(ctx context.Context, req Request, rr RepoResult) {
	fields := []zap.Field{zap.String("status", string(rr.Status)), zap.Duration("duration", rr.Duration)}
	if rr.Reason != "" {
		fields = append(fields, zap.String("reason", rr.Reason))
	}
	if rr.Error != "" {
		fields = append(fields, zap.String("error", rr.Error))
	}
	o.log.Info(ctx, "repository finished", fields...)

	data := map[string]any{}
	if rr.Pipeline != nil {
		data["issues_found"] = rr.Pipeline.IssuesFound
		data["compliance_score"] = rr.Pipeline.ComplianceScore
	}
	if rr.Reason != "" {
		data["reason"] = rr.Reason
	}
	o.notify(ctx, events.Event{
		Type:   events.RepoFinished,
		RunID:  req.RunID,
		RepoID: rr.RepoID,
		Mode:   string(req.Mode),
		Status: string(rr.Status),
		Data:   data,
	})
}

// writeSummary stores the run summary for modes that write artifacts. It
// runs even when the run was cancelled so partial results are kept.
func (o *Orchestrator) writeSummary(ctx context.Context, res *Result) {
	if o.store == nil || !res.Mode.WritesArtifacts() {
		return
	}
	path := pipeline.SummaryPath(res.RunID)
	if err := o.store.Write(context.WithoutCancel(ctx), path, res); err != nil {
		o.log.Warn(ctx, "summary write failed", zap.String("path", path), zap.Error(err))
		return
	}
	res.SummaryRef = path
}

func (o *Orchestrator) notify(ctx context.Context, ev events.Event) {
	if ev.CorrelationID == "" {
		ev.CorrelationID = logging.CorrelationID(ctx)
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		o.log.Warn(ctx, "event delivery failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (o *Orchestrator) observeRun(res *Result) {
	if o.metrics == nil {
		return
	}
	o.metrics.RunDuration.Observe(res.Duration.Seconds())
	for _, r := range res.Repos {
		o.metrics.Repos.WithLabelValues(string(r.Status)).Inc()
	}
	for sev, n := range res.Aggregates.IssuesBySeverity {
		o.metrics.Findings.WithLabelValues(sev).Add(float64(n))
	}
}
