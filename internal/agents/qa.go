package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// QA checks that issues and fixes are consistent with the findings.
type QA struct{}

// Validate returns:
//   - fail when a finding is covered by no issue, or an issue or fix refers
//     to a finding that does not exist;
//   - needs-review when critical findings remain unresolved;
//   - pass otherwise.
func (q *QA) Validate(_ context.Context, req pipeline.QARequest) (pipeline.QAVerdict, error) {
	known := make(map[string]pipeline.Finding, len(req.Findings))
	for _, f := range req.Findings {
		known[f.ID] = f
	}

	covered := map[string]bool{}
	var unknown []string
	for _, is := range req.Issues {
		for _, id := range is.FindingIDs {
			if _, ok := known[id]; !ok {
				unknown = append(unknown, id)
				continue
			}
			covered[id] = true
		}
	}
	resolved := map[string]bool{}
	for _, fx := range req.Fixes {
		for _, id := range fx.Resolves {
			if _, ok := known[id]; !ok {
				unknown = append(unknown, id)
				continue
			}
			resolved[id] = true
		}
	}
	if len(unknown) > 0 {
		return fail("references to unknown findings: %s", joinSorted(unknown)), nil
	}

	var uncovered, criticals []string
	for _, f := range req.Findings {
		if !covered[f.ID] {
			uncovered = append(uncovered, f.ID)
		}
		if f.Severity == pipeline.SeverityCritical && !resolved[f.ID] {
			criticals = append(criticals, f.ID)
		}
	}
	if len(uncovered) > 0 {
		return fail("findings not covered by any issue: %s", joinSorted(uncovered)), nil
	}
	if len(criticals) > 0 {
		return pipeline.QAVerdict{
			Verdict: pipeline.VerdictNeedsReview,
			Notes:   fmt.Sprintf("%d critical finding(s) unresolved: %s", len(criticals), joinSorted(criticals)),
		}, nil
	}
	return pipeline.QAVerdict{
		Verdict: pipeline.VerdictPass,
		Notes:   fmt.Sprintf("%d findings covered by %d issues, %d resolved by fixes", len(req.Findings), len(req.Issues), len(resolved)),
	}, nil
}

func fail(format string, args ...any) pipeline.QAVerdict {
	return pipeline.QAVerdict{Verdict: pipeline.VerdictFail, Notes: fmt.Sprintf(format, args...)}
}

func joinSorted(ids []string) string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
