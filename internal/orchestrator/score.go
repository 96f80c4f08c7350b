package orchestrator

import "github.com/lucasnoah/auditfactory/internal/pipeline"

// Scorer computes a 0-100 compliance score for a finished pipeline.
type Scorer func(res *pipeline.Result) float64

// SeverityWeights are the points DefaultScorer deducts per unresolved finding.
var SeverityWeights = map[pipeline.Severity]float64{
	pipeline.SeverityCritical: 25,
	pipeline.SeverityHigh:     10,
	pipeline.SeverityMedium:   5,
	pipeline.SeverityLow:      1,
	pipeline.SeverityInfo:     0,
}

// DefaultScorer starts at 100 and deducts SeverityWeights for every finding
// not resolved by a fix, clamped to [0, 100].
func DefaultScorer(res *pipeline.Result) float64 {
	resolved := make(map[string]bool)
	for _, id := range resolvedIDs(res.Fixes) {
		resolved[id] = true
	}
	score := 100.0
	for _, f := range res.Findings {
		if resolved[f.ID] {
			continue
		}
		score -= SeverityWeights[f.Severity]
	}
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
