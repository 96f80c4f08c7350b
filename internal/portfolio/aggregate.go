package portfolio

import "sort"

// Aggregate computes run totals and rankings. It does not modify repos.
// Only completed repositories contribute issue counts and rankings.
func Aggregate(repos []RepoResult) Aggregates {
	agg := Aggregates{
		ReposTotal:             len(repos),
		IssuesBySeverity:       map[string]int{},
		IssuesByType:           map[string]int{},
		ReposByIssueCount:      []Ranked{},
		ReposByComplianceScore: []Ranked{},
	}
	var scoreSum float64
	for _, r := range repos {
		switch r.Status {
		case StatusCompleted:
			agg.ReposAnalyzed++
		case StatusSkipped:
			agg.ReposSkipped++
		case StatusError:
			agg.ReposErrored++
		}
		if r.Status != StatusCompleted || r.Pipeline == nil {
			continue
		}
		p := r.Pipeline
		agg.IssuesFound += p.IssuesFound
		fixed := p.IssuesFixed
		if fixed > p.IssuesFound {
			fixed = p.IssuesFound
		}
		agg.IssuesFixed += fixed
		for k, v := range p.IssuesBySeverity {
			agg.IssuesBySeverity[k] += v
		}
		for k, v := range p.IssuesByType {
			agg.IssuesByType[k] += v
		}
		row := Ranked{RepoID: r.RepoID, IssuesFound: p.IssuesFound, ComplianceScore: p.ComplianceScore}
		agg.ReposByIssueCount = append(agg.ReposByIssueCount, row)
		agg.ReposByComplianceScore = append(agg.ReposByComplianceScore, row)
		scoreSum += p.ComplianceScore
	}

	agg.FixRate = FixRate(agg.IssuesFixed, agg.IssuesFound)
	if n := len(agg.ReposByIssueCount); n > 0 {
		agg.MeanComplianceScore = scoreSum / float64(n)
	}

	sort.SliceStable(agg.ReposByIssueCount, func(i, j int) bool {
		a, b := agg.ReposByIssueCount[i], agg.ReposByIssueCount[j]
		if a.IssuesFound != b.IssuesFound {
			return a.IssuesFound > b.IssuesFound
		}
		return a.RepoID < b.RepoID
	})
	sort.SliceStable(agg.ReposByComplianceScore, func(i, j int) bool {
		a, b := agg.ReposByComplianceScore[i], agg.ReposByComplianceScore[j]
		if a.ComplianceScore != b.ComplianceScore {
			return a.ComplianceScore < b.ComplianceScore
		}
		return a.RepoID < b.RepoID
	})
	return agg
}

// FixRate returns fixed/found clamped to [0, 1], and 0 when nothing was found.
func FixRate(fixed, found int) float64 {
	if found <= 0 || fixed <= 0 {
		return 0
	}
	rate := float64(fixed) / float64(found)
	if rate > 1 {
		return 1
	}
	return rate
}
