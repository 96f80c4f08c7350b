package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

func completed(id string, found, fixed int, score float64, bySev map[string]int) RepoResult {
	if bySev == nil {
		bySev = map[string]int{}
	}
	return RepoResult{
		RepoID: id,
		Status: StatusCompleted,
		Pipeline: &pipeline.Result{
			RepoID:           id,
			State:            pipeline.StateDone,
			IssuesFound:      found,
			IssuesFixed:      fixed,
			ComplianceScore:  score,
			IssuesBySeverity: bySev,
			IssuesByType:     map[string]int{"secret": found},
		},
	}
}

func ids(rows []Ranked) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.RepoID
	}
	return out
}

func TestAggregate_Totals(t *testing.T) {
	repos := []RepoResult{
		completed("api", 3, 1, 65, map[string]int{"critical": 1, "medium": 2}),
		completed("web", 1, 0, 95, map[string]int{"medium": 1}),
		{RepoID: "legacy", Status: StatusSkipped, Reason: "remote-only"},
		{RepoID: "broken", Status: StatusError, Error: "boom", Pipeline: &pipeline.Result{IssuesFound: 7}},
	}
	agg := Aggregate(repos)

	assert.Equal(t, 4, agg.ReposTotal)
	assert.Equal(t, 2, agg.ReposAnalyzed)
	assert.Equal(t, 1, agg.ReposSkipped)
	assert.Equal(t, 1, agg.ReposErrored)
	assert.Equal(t, 4, agg.IssuesFound, "errored repos do not count")
	assert.Equal(t, 1, agg.IssuesFixed)
	assert.InDelta(t, 0.25, agg.FixRate, 1e-9)
	assert.InDelta(t, 80.0, agg.MeanComplianceScore, 1e-9)
	assert.Equal(t, map[string]int{"critical": 1, "medium": 3}, agg.IssuesBySeverity)
	assert.Equal(t, map[string]int{"secret": 4}, agg.IssuesByType)
}

func TestAggregate_FixRateSafety(t *testing.T) {
	agg := Aggregate([]RepoResult{completed("a", 0, 0, 100, nil)})
	assert.Equal(t, 0.0, agg.FixRate)

	agg = Aggregate(nil)
	assert.Equal(t, 0.0, agg.FixRate)
	assert.Empty(t, agg.ReposByIssueCount)
	assert.NotNil(t, agg.IssuesBySeverity)

	// Fixed beyond found is clamped per repo.
	agg = Aggregate([]RepoResult{completed("a", 2, 5, 100, nil)})
	assert.Equal(t, 2, agg.IssuesFixed)
	assert.Equal(t, 1.0, agg.FixRate)

	assert.Equal(t, 0.0, FixRate(3, 0))
	assert.Equal(t, 0.0, FixRate(-1, 4))
	assert.Equal(t, 1.0, FixRate(9, 4))
	assert.Equal(t, 0.5, FixRate(2, 4))
}

func TestAggregate_DeterministicRanking(t *testing.T) {
	repos := []RepoResult{
		completed("zeta", 2, 0, 90, nil),
		completed("alpha", 2, 0, 90, nil),
		completed("mid", 5, 0, 40, nil),
		completed("beta", 0, 0, 100, nil),
		{RepoID: "aaa-skipped", Status: StatusSkipped},
	}
	agg := Aggregate(repos)
	assert.Equal(t, []string{"mid", "alpha", "zeta", "beta"}, ids(agg.ReposByIssueCount))
	assert.Equal(t, []string{"mid", "alpha", "zeta", "beta"}, ids(agg.ReposByComplianceScore))

	// Input order does not change the ranking.
	reversed := make([]RepoResult, len(repos))
	for i := range repos {
		reversed[len(repos)-1-i] = repos[i]
	}
	assert.Equal(t, agg.ReposByIssueCount, Aggregate(reversed).ReposByIssueCount)
	assert.Equal(t, agg.ReposByComplianceScore, Aggregate(reversed).ReposByComplianceScore)
}

func TestAggregate_IsPure(t *testing.T) {
	repos := []RepoResult{completed("b", 1, 0, 90, map[string]int{"low": 1}), completed("a", 1, 0, 90, map[string]int{"low": 1})}
	first := Aggregate(repos)
	second := Aggregate(repos)
	assert.Equal(t, first, second)
	assert.Equal(t, "b", repos[0].RepoID, "input order untouched")
	assert.Equal(t, map[string]int{"low": 1}, repos[0].Pipeline.IssuesBySeverity)
}
