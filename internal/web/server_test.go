package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/auditfactory/internal/analytics"
	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/httpserver"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

type fakePortfolio struct {
	mu      sync.Mutex
	reqs    []portfolio.Request
	release chan struct{} // when non-nil, Run waits for it or ctx
}

func (f *fakePortfolio) Run(ctx context.Context, req portfolio.Request) (*portfolio.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return &portfolio.Result{RunID: req.RunID, Mode: req.Mode, Task: req.Task, CorrelationID: req.CorrelationID, Repos: []portfolio.RepoResult{}}, nil
}

func (f *fakePortfolio) requests() []portfolio.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]portfolio.Request(nil), f.reqs...)
}

type fakePipeline struct {
	got pipeline.TaskRequest
}

func (f *fakePipeline) Run(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.got = req
	res := &pipeline.Result{RepoID: req.RepoID, Mode: req.Mode, CorrelationID: req.CorrelationID, State: pipeline.StateDone, Stages: []pipeline.StageOutcome{}}
	if req.RepoID == "ghost" {
		res.State = pipeline.StateError
		res.ErrorKind = pipeline.ErrKindRepoNotFound
	}
	return res, nil
}

type fixture struct {
	srv       *Server
	portfolio *fakePortfolio
	pipeline  *fakePipeline
	store     *pipeline.FSStore
	events    *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.New([]registry.RepoConfig{
		{ID: "api", Path: "/srv/api", Tags: []string{"backend"}},
		{ID: "web", Path: "/srv/web", Tags: []string{"frontend"}},
	})
	require.NoError(t, err)
	f := &fixture{
		portfolio: &fakePortfolio{},
		pipeline:  &fakePipeline{},
		store:     pipeline.NewFSStore(t.TempDir()),
		events:    events.NewBroadcaster(8),
	}
	f.srv = NewServer(Deps{
		Portfolio: f.portfolio,
		Pipeline:  f.pipeline,
		Repos:     reg,
		Artifacts: f.store,
		History:   analytics.NewFSSource(f.store),
		Events:    f.events,
	})
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpserver.CorrelationHeader, "corr-web")
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestStartRun_Sync(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"task": "audit", "repo_ids": []string{"api"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res portfolio.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.ModeDryRun, res.Mode, "default mode applies")
	assert.Equal(t, "corr-web", res.CorrelationID)

	reqs := f.portfolio.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"api"}, reqs[0].RepoIDs)
}

func TestStartRun_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"task": "audit", "mode": "yolo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mode", resp.Field)

	rec = f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"task": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.portfolio.requests())
}

func TestStartRun_Async(t *testing.T) {
	f := newFixture(t)
	f.portfolio.release = make(chan struct{})

	rec := f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"task": "audit", "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var acc RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.NotEmpty(t, acc.RunID)
	assert.Equal(t, "corr-web", acc.CorrelationID)
	assert.Equal(t, "/api/v1/runs/"+acc.RunID, acc.StatusURL)

	require.Eventually(t, func() bool { return len(f.portfolio.requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, acc.RunID, f.portfolio.requests()[0].RunID)
	close(f.portfolio.release)
	f.srv.Close()
}

func TestStartRun_AsyncCancelledOnClose(t *testing.T) {
	f := newFixture(t)
	f.portfolio.release = make(chan struct{})
	rec := f.do(t, http.MethodPost, "/api/v1/runs", map[string]any{"task": "audit", "async": true})
	require.Equal(t, http.StatusAccepted, rec.Code)

	done := make(chan struct{})
	go func() { f.srv.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the background run")
	}
}

func TestAudit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/repos/api/audit", map[string]any{"task": "audit", "mode": "preview", "remediate": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "api", f.pipeline.got.RepoID)
	assert.Equal(t, pipeline.ModePreview, f.pipeline.got.Mode)
	assert.True(t, f.pipeline.got.Remediate)
	assert.Equal(t, "corr-web", f.pipeline.got.CorrelationID)

	rec = f.do(t, http.MethodPost, "/api/v1/repos/ghost/audit", map[string]any{"task": "audit"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/repos/api/audit", map[string]any{"task": "audit", "mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRepos(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var repos []registry.RepoConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	assert.Len(t, repos, 2)

	rec = f.do(t, http.MethodGet, "/api/v1/repos?tag=frontend", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repos))
	require.Len(t, repos, 1)
	assert.Equal(t, "web", repos[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/repos?tag=none", nil)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/repos/api", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/repos/nope", nil).Code)
}

func TestRunsAndArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	summary := &portfolio.Result{
		RunID: "run-1", Mode: pipeline.ModeDryRun, Task: "audit",
		Repos: []portfolio.RepoResult{{
			RepoID: "api", Status: portfolio.StatusCompleted,
			Pipeline: &pipeline.Result{RepoID: "api", State: pipeline.StateDone, IssuesFound: 2, ComplianceScore: 80},
		}},
	}
	summary.Aggregates = portfolio.Aggregate(summary.Repos)
	require.NoError(t, f.store.Write(ctx, pipeline.SummaryPath("run-1"), summary))
	require.NoError(t, f.store.Write(ctx, pipeline.RepoArtifactPath("run-1", "api"), pipeline.RepoArtifact{RunID: "run-1", RepoID: "api", Findings: []pipeline.Finding{}, Issues: []pipeline.IssueSpec{}}))

	rec := f.do(t, http.MethodGet, "/api/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got portfolio.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Aggregates.IssuesFound)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/runs/run-1/repos/api", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/runs/run-2", nil).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []analytics.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "run-1", history[0].RunID)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/runs?limit=x", nil).Code)

	rec = f.do(t, http.MethodGet, "/api/v1/trends", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trends TrendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trends))
	assert.Equal(t, 1, trends.Runs)
	require.Len(t, trends.Repos, 1)
	assert.Equal(t, 80.0, trends.Repos[0].LastScore)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Echo())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events?run_id=run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.events.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.events.Notify(ctx, events.Event{Type: events.RepoFinished, RunID: "other", RepoID: "x"}))
	require.NoError(t, f.events.Notify(ctx, events.Event{Type: events.RepoFinished, RunID: "run-1", RepoID: "api"}))
	require.NoError(t, f.events.Notify(ctx, events.Event{Type: events.RunFinished, RunID: "run-1"}))

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	body := strings.Join(lines, "\n")
	assert.Contains(t, body, "event: repo.finished")
	assert.Contains(t, body, `"repo_id":"api"`)
	assert.NotContains(t, body, `"repo_id":"x"`)
	assert.Contains(t, body, "event: done")
}

func TestEventsUnavailable(t *testing.T) {
	srv := NewServer(Deps{})
	defer srv.Close()
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
