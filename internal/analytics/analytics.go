// Package analytics derives history and trends from stored run summaries.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
)

// Source returns stored run summaries, newest first. *db.DB implements it;
// FSSource adapts the file store.
type Source interface {
	Summaries(ctx context.Context, limit int) ([]*portfolio.Result, error)
}

// RunSummary is one line of run history.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Mode            pipeline.Mode `json:"mode"`
	Task            string        `json:"task"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	ReposTotal      int           `json:"repos_total"`
	Analyzed        int           `json:"repos_analyzed"`
	Skipped         int           `json:"repos_skipped"`
	Errored         int           `json:"repos_errored"`
	IssuesFound     int           `json:"issues_found"`
	IssuesFixed     int           `json:"issues_fixed"`
	FixRate         float64       `json:"fix_rate"`
	MeanCompliance  float64       `json:"mean_compliance_score"`
}

// History flattens summaries into history lines, keeping their order.
func History(runs []*portfolio.Result) []RunSummary {
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		a := r.Aggregates
		out = append(out, RunSummary{
			RunID:           r.RunID,
			Mode:            r.Mode,
			Task:            r.Task,
			StartedAt:       r.StartedAt,
			DurationSeconds: math.Round(r.Duration.Seconds()*10) / 10,
			ReposTotal:      a.ReposTotal,
			Analyzed:        a.ReposAnalyzed,
			Skipped:         a.ReposSkipped,
			Errored:         a.ReposErrored,
			IssuesFound:     a.IssuesFound,
			IssuesFixed:     a.IssuesFixed,
			FixRate:         a.FixRate,
			MeanCompliance:  a.MeanComplianceScore,
		})
	}
	return out
}

// RepoTrend tracks one repository across runs.
type RepoTrend struct {
	RepoID      string  `json:"repo_id"`
	Runs        int     `json:"runs"`
	Completed   int     `json:"completed"`
	Errored     int     `json:"errored"`
	LastScore   float64 `json:"last_score"`
	BestScore   float64 `json:"best_score"`
	MeanScore   float64 `json:"mean_score"`
	ScoreDelta  float64 `json:"score_delta"` // last minus first completed score
	IssuesFound int     `json:"issues_found"`
	IssuesFixed int     `json:"issues_fixed"`
	FixRate     float64 `json:"fix_rate"`
	P50Seconds  float64 `json:"p50_seconds"`
	P95Seconds  float64 `json:"p95_seconds"`
}

// RepoTrends aggregates per-repository results across runs, sorted by repo id.
// runs are expected newest first, as Source returns them.
func RepoTrends(runs []*portfolio.Result) []RepoTrend {
	type acc struct {
		trend     RepoTrend
		scores    []float64 // oldest first
		durations []float64
	}
	byRepo := make(map[string]*acc)
	for i := len(runs) - 1; i >= 0; i-- {
		for _, rr := range runs[i].Repos {
			a, ok := byRepo[rr.RepoID]
			if !ok {
				a = &acc{trend: RepoTrend{RepoID: rr.RepoID}}
				byRepo[rr.RepoID] = a
			}
			a.trend.Runs++
			switch rr.Status {
			case portfolio.StatusCompleted:
				a.trend.Completed++
			case portfolio.StatusError:
				a.trend.Errored++
			}
			if rr.Pipeline == nil || rr.Status != portfolio.StatusCompleted {
				continue
			}
			a.scores = append(a.scores, rr.Pipeline.ComplianceScore)
			a.durations = append(a.durations, rr.Duration.Seconds())
			a.trend.IssuesFound += rr.Pipeline.IssuesFound
			a.trend.IssuesFixed += rr.Pipeline.IssuesFixed
		}
	}

	out := make([]RepoTrend, 0, len(byRepo))
	for _, a := range byRepo {
		t := a.trend
		if n := len(a.scores); n > 0 {
			sum, best := 0.0, a.scores[0]
			for _, s := range a.scores {
				sum += s
				best = math.Max(best, s)
			}
			t.LastScore = a.scores[n-1]
			t.BestScore = best
			t.MeanScore = math.Round(sum/float64(n)*10) / 10
			t.ScoreDelta = math.Round((a.scores[n-1]-a.scores[0])*10) / 10
		}
		t.FixRate = portfolio.FixRate(t.IssuesFixed, t.IssuesFound)
		sort.Float64s(a.durations)
		t.P50Seconds = percentile(a.durations, 50)
		t.P95Seconds = percentile(a.durations, 95)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out
}

// StageDuration holds duration stats for a pipeline stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// StageDurations returns duration stats per stage over successful outcomes,
// in pipeline order.
func StageDurations(runs []*portfolio.Result) []StageDuration {
	durations := make(map[string][]float64)
	for _, run := range runs {
		for _, rr := range run.Repos {
			if rr.Pipeline == nil {
				continue
			}
			for _, o := range rr.Pipeline.Stages {
				if o.Status == pipeline.StatusOK {
					durations[o.Stage] = append(durations[o.Stage], o.Duration.Seconds())
				}
			}
		}
	}

	var out []StageDuration
	for _, stage := range stageOrder {
		ds := durations[stage]
		if len(ds) == 0 {
			continue
		}
		sort.Float64s(ds)
		sum := 0.0
		for _, d := range ds {
			sum += d
		}
		out = append(out, StageDuration{
			Stage: stage,
			Count: len(ds),
			Avg:   math.Round(sum/float64(len(ds))*10) / 10,
			P50:   percentile(ds, 50),
			P95:   percentile(ds, 95),
		})
	}
	return out
}

var stageOrder = []string{
	pipeline.StageResolveRepo,
	pipeline.StageAnalyze,
	pipeline.StageSpecifyIssues,
	pipeline.StagePlanFix,
	pipeline.StageImplementFix,
	pipeline.StageQAValidate,
	pipeline.StagePersist,
	pipeline.StagePublish,
}

// ErrorKindCount counts failed pipelines by error kind.
type ErrorKindCount struct {
	Kind  string  `json:"kind"`
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
}

// ErrorKinds tallies pipeline error kinds, most frequent first. Pct is the
// share of all repository results.
func ErrorKinds(runs []*portfolio.Result) []ErrorKindCount {
	counts := make(map[string]int)
	total := 0
	for _, run := range runs {
		for _, rr := range run.Repos {
			total++
			if rr.Pipeline != nil && rr.Pipeline.ErrorKind != "" {
				counts[rr.Pipeline.ErrorKind]++
			}
		}
	}
	out := make([]ErrorKindCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, ErrorKindCount{Kind: k, Count: n, Pct: pct(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// FSSource reads summaries from a file artifact store.
type FSSource struct {
	store *pipeline.FSStore
}

func NewFSSource(store *pipeline.FSStore) *FSSource {
	return &FSSource{store: store}
}

func (s *FSSource) Summaries(ctx context.Context, limit int) ([]*portfolio.Result, error) {
	ids, err := s.store.ListRuns()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*portfolio.Result, 0, len(ids))
	for _, id := range ids {
		var res portfolio.Result
		if err := s.store.Read(ctx, pipeline.SummaryPath(id), &res); err != nil {
			if errors.Is(err, pipeline.ErrArtifactNotFound) {
				continue
			}
			return nil, fmt.Errorf("read summary %s: %w", id, err)
		}
		out = append(out, &res)
	}
	return out, nil
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
