package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// fakeRunner answers per repo id; unknown ids complete with no findings.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	fn       map[string]func(ctx context.Context, req pipeline.TaskRequest) (*pipeline.Result, error)
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (r *fakeRunner) Run(ctx context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.mu.Lock()
	r.calls = append(r.calls, req.RepoID)
	fn := r.fn[req.RepoID]
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return done(req, 0, 100), nil
}

func done(req pipeline.TaskRequest, found int, score float64) *pipeline.Result {
	return &pipeline.Result{
		RunID:            req.RunID,
		RepoID:           req.RepoID,
		Mode:             req.Mode,
		CorrelationID:    req.CorrelationID,
		State:            pipeline.StateDone,
		IssuesFound:      found,
		ComplianceScore:  score,
		IssuesBySeverity: map[string]int{},
		IssuesByType:     map[string]int{},
	}
}

type memStore struct {
	mu     sync.Mutex
	writes map[string]any
	err    error
}

func (s *memStore) Write(_ context.Context, path string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.writes == nil {
		s.writes = map[string]any{}
	}
	s.writes[path] = payload
	return nil
}

func newRegistry(t *testing.T, repos ...registry.RepoConfig) *registry.Registry {
	t.Helper()
	reg, err := registry.New(repos)
	require.NoError(t, err)
	return reg
}

func local(id string, tags ...string) registry.RepoConfig {
	return registry.RepoConfig{ID: id, Path: "/repos/" + id, Tags: tags}
}

func dryRun() Request {
	return Request{RunID: "run-1", Mode: pipeline.ModeDryRun, Task: "audit"}
}

func statuses(res *Result) map[string]Status {
	out := map[string]Status{}
	for _, r := range res.Repos {
		out[r.RepoID] = r.Status
	}
	return out
}

func TestRun_FailureIsolation(t *testing.T) {
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"a": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) { return done(req, 2, 80), nil },
		"b": func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error) { panic("analyzer exploded") },
		"c": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) { return done(req, 1, 95), nil },
	}}
	log := logging.NewTestLogger()
	o := New(newRegistry(t, local("a"), local("b"), local("c")), runner, nil, log.Logger)
	o.SetMaxInFlight(3)

	res, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	require.Len(t, res.Repos, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res.Repos[0].RepoID, res.Repos[1].RepoID, res.Repos[2].RepoID})
	assert.Equal(t, StatusCompleted, res.Repos[0].Status)
	assert.Equal(t, StatusError, res.Repos[1].Status)
	assert.Contains(t, res.Repos[1].Error, "analyzer exploded")
	assert.Nil(t, res.Repos[1].Pipeline)
	assert.Equal(t, StatusCompleted, res.Repos[2].Status)

	assert.Equal(t, 2, res.Aggregates.ReposAnalyzed)
	assert.Equal(t, 1, res.Aggregates.ReposErrored)
	assert.Equal(t, 3, res.Aggregates.IssuesFound)
	assert.Equal(t, 1, log.FilterMessage("repository pipeline panicked").Len())
}

func TestRun_RemoteOnlyRepoSkippedByDefault(t *testing.T) {
	remote := registry.RepoConfig{ID: "remote", URL: "https://example.com/remote.git"}
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"local": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) { return done(req, 4, 70), nil },
	}}
	o := New(newRegistry(t, remote, local("local")), runner, nil, nil)

	res, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"remote": StatusSkipped, "local": StatusCompleted}, statuses(res))
	assert.Contains(t, res.Repos[0].Reason, "remote-only")
	assert.Equal(t, []string{"local"}, runner.calls)
	assert.Equal(t, 4, res.Aggregates.IssuesFound)
	assert.Equal(t, 1, res.Aggregates.ReposSkipped)
	require.Len(t, res.Aggregates.ReposByIssueCount, 1)
	assert.Equal(t, "local", res.Aggregates.ReposByIssueCount[0].RepoID)
}

func TestRun_NamedRemoteOnlyRepoIsFetched(t *testing.T) {
	remote := registry.RepoConfig{ID: "remote", URL: "https://example.com/remote.git"}
	unreachable := registry.RepoConfig{ID: "gone", Path: "/repos/gone", Unreachable: true}
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"remote": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
			res := done(req, 0, 100)
			res.State = pipeline.StateError
			res.ErrorKind = pipeline.ErrKindSourceUnavailable
			res.Error = "clone failed: source unavailable"
			return res, nil
		},
	}}
	o := New(newRegistry(t, remote, unreachable), runner, nil, nil)

	req := dryRun()
	req.RepoIDs = []string{"remote", "gone", "remote"}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Repos, 2, "duplicate ids collapse")
	assert.Equal(t, []string{"remote"}, runner.calls)
	assert.Equal(t, StatusSkipped, res.Repos[0].Status)
	assert.Contains(t, res.Repos[0].Reason, "source unavailable")
	assert.Equal(t, StatusSkipped, res.Repos[1].Status)
	assert.Contains(t, res.Repos[1].Reason, "unreachable")
	assert.Equal(t, 0, res.Aggregates.ReposErrored)
}

func TestRun_PipelineErrorMarksRepoErrored(t *testing.T) {
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"a": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
			res := done(req, 0, 0)
			res.State = pipeline.StateError
			res.ErrorKind = pipeline.ErrKindContract
			res.Error = "analyzer/analyze output: contract violation at findings[0].severity"
			return res, nil
		},
		"b": func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error) {
			return nil, errors.New("bad request")
		},
	}}
	o := New(newRegistry(t, local("a"), local("b")), runner, nil, nil)

	res, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Repos[0].Status)
	assert.NotNil(t, res.Repos[0].Pipeline, "partial pipeline result is kept")
	assert.Contains(t, res.Repos[0].Error, "findings[0].severity")
	assert.Equal(t, StatusError, res.Repos[1].Status)
	assert.Equal(t, "bad request", res.Repos[1].Error)
}

func TestRun_UnknownNamedRepoRunsThroughPipeline(t *testing.T) {
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"ghost": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
			res := done(req, 0, 0)
			res.State = pipeline.StateError
			res.ErrorKind = pipeline.ErrKindRepoNotFound
			res.Error = "repo not found"
			return res, nil
		},
	}}
	o := New(newRegistry(t, local("a")), runner, nil, nil)
	req := dryRun()
	req.RepoIDs = []string{"ghost"}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Repos, 1)
	assert.Equal(t, StatusError, res.Repos[0].Status)
	assert.Equal(t, "ghost", res.Repos[0].Name)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var repos []registry.RepoConfig
	for i := 0; i < 8; i++ {
		repos = append(repos, local(fmt.Sprintf("r%d", i)))
	}
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	o := New(newRegistry(t, repos...), runner, nil, nil)
	o.SetMaxInFlight(3)

	res, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.peak.Load(), int32(3))
	assert.Len(t, runner.calls, 8)
	for i, r := range res.Repos {
		assert.Equal(t, fmt.Sprintf("r%d", i), r.RepoID, "results keep registry order")
		assert.Equal(t, StatusCompleted, r.Status)
	}
}

func TestRun_SequentialByDefault(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	o := New(newRegistry(t, local("a"), local("b"), local("c")), runner, nil, nil)
	_, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.Equal(t, int32(1), runner.peak.Load())
	assert.Equal(t, []string{"a", "b", "c"}, runner.calls)
}

func TestRun_CancellationSkipsUnstartedRepos(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"a": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
			cancel()
			return done(req, 1, 95), nil
		},
	}}
	store := &memStore{}
	o := New(newRegistry(t, local("a"), local("b"), local("c")), runner, store, nil)

	res, err := o.Run(ctx, dryRun())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, runner.calls)
	assert.Equal(t, StatusCompleted, res.Repos[0].Status)
	for _, r := range res.Repos[1:] {
		assert.Equal(t, StatusSkipped, r.Status)
		assert.Equal(t, "cancelled", r.Reason)
	}
	assert.Contains(t, store.writes, pipeline.SummaryPath("run-1"), "partial summary is still written")
}

func TestRun_SummaryWrittenOnlyOutsidePreview(t *testing.T) {
	for _, mode := range []pipeline.Mode{pipeline.ModePreview, pipeline.ModeDryRun, pipeline.ModeCreate} {
		t.Run(string(mode), func(t *testing.T) {
			store := &memStore{}
			o := New(newRegistry(t, local("a")), &fakeRunner{}, store, nil)
			req := dryRun()
			req.Mode = mode
			res, err := o.Run(context.Background(), req)
			require.NoError(t, err)
			if mode == pipeline.ModePreview {
				assert.Empty(t, store.writes)
				assert.Empty(t, res.SummaryRef)
				return
			}
			require.Len(t, store.writes, 1)
			assert.Equal(t, pipeline.SummaryPath("run-1"), res.SummaryRef)
		})
	}
}

func TestRun_SummaryWriteFailureIsLogged(t *testing.T) {
	log := logging.NewTestLogger()
	o := New(newRegistry(t, local("a")), &fakeRunner{}, &memStore{err: errors.New("read-only fs")}, log.Logger)
	res, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.Empty(t, res.SummaryRef)
	assert.Equal(t, 1, log.FilterMessage("summary write failed").Len())
}

func TestRun_EventsAndCorrelation(t *testing.T) {
	rec := &events.Recorder{}
	o := New(newRegistry(t, local("a"), registry.RepoConfig{ID: "r", URL: "https://example.com/r.git"}), &fakeRunner{}, nil, nil)
	o.SetNotifier(rec)

	req := dryRun()
	req.CorrelationID = "corr-9"
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, rec.OfType(events.RunStarted), 1)
	assert.Len(t, rec.OfType(events.RepoFinished), 2)
	assert.Len(t, rec.OfType(events.RunFinished), 1)
	for _, ev := range rec.Events() {
		assert.Equal(t, "corr-9", ev.CorrelationID)
		assert.Equal(t, "run-1", ev.RunID)
	}
	for _, r := range res.Repos {
		assert.Equal(t, "corr-9", r.CorrelationID)
	}
}

func TestRun_TagFilter(t *testing.T) {
	runner := &fakeRunner{}
	o := New(newRegistry(t, local("a", "team-x"), local("b", "team-y"), local("c", "team-x")), runner, nil, nil)
	req := dryRun()
	req.Tags = []string{"team-x"}
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, runner.calls)
	assert.Len(t, res.Repos, 2)
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	runner := &fakeRunner{fn: map[string]func(context.Context, pipeline.TaskRequest) (*pipeline.Result, error){
		"a": func(_ context.Context, req pipeline.TaskRequest) (*pipeline.Result, error) {
			res := done(req, 2, 90)
			res.IssuesBySeverity = map[string]int{"high": 2}
			return res, nil
		},
	}}
	o := New(newRegistry(t, local("a"), registry.RepoConfig{ID: "r", URL: "https://example.com/r.git"}), runner, nil, nil)
	o.SetMetrics(NewMetrics(reg))
	_, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)

	m := o.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Repos.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Repos.WithLabelValues("skipped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Findings.WithLabelValues("high")))
}

func TestRun_ProgressOutput(t *testing.T) {
	var buf strings.Builder
	o := New(newRegistry(t, local("a")), &fakeRunner{}, nil, nil)
	o.SetProgress(&buf)
	_, err := o.Run(context.Background(), dryRun())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Run run-1: 1 repos (dry-run)")
	assert.Contains(t, buf.String(), "[1] a: completed")
}

func TestRun_RejectsMalformedRequests(t *testing.T) {
	o := New(newRegistry(t, local("a")), &fakeRunner{}, nil, nil)
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"bad mode", Request{Mode: "publish-all", Task: "audit"}, "mode"},
		{"empty task", Request{Mode: pipeline.ModePreview, Task: "  "}, "task"},
		{"blank repo id", Request{Mode: pipeline.ModePreview, Task: "audit", RepoIDs: []string{"a", ""}}, "repo_ids[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tt.req)
			var ce *pipeline.ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}
