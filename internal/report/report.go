// Package report exports portfolio results. It only formats; it never
// computes anything the result does not already carry.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
)

// Formats accepted by Write.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Write renders res in format.
func Write(w io.Writer, res *portfolio.Result, format string) error {
	switch format {
	case FormatTable, "text", "":
		return WriteTable(w, res)
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatCSV:
		return WriteCSV(w, res)
	}
	return fmt.Errorf("unknown report format %q (want table, json or csv)", format)
}

// WriteJSON writes res as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteTable writes a per-repo table followed by run totals and rankings.
func WriteTable(w io.Writer, res *portfolio.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run %s\tmode=%s\ttask=%s\n\n", res.RunID, res.Mode, res.Task)
	fmt.Fprintln(tw, "REPO\tSTATUS\tFOUND\tFIXED\tSCORE\tDETAIL")
	for _, r := range res.Repos {
		found, fixed, score := "-", "-", "-"
		if r.Status == portfolio.StatusCompleted && r.Pipeline != nil {
			found = strconv.Itoa(r.Pipeline.IssuesFound)
			fixed = strconv.Itoa(r.Pipeline.IssuesFixed)
			score = fmt.Sprintf("%.1f", r.Pipeline.ComplianceScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.RepoID, r.Status, found, fixed, score, detail(r))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	a := res.Aggregates
	fmt.Fprintf(w, "\nRepos: %d analyzed, %d skipped, %d errored\n", a.ReposAnalyzed, a.ReposSkipped, a.ReposErrored)
	fmt.Fprintf(w, "Issues: %d found, %d fixed (fix rate %.0f%%)\n", a.IssuesFound, a.IssuesFixed, a.FixRate*100)
	if len(a.IssuesBySeverity) > 0 {
		var parts []string
		for _, sev := range pipeline.Severities {
			if n := a.IssuesBySeverity[string(sev)]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", sev, n))
			}
		}
		fmt.Fprintf(w, "By severity: %s\n", strings.Join(parts, " "))
	}
	if len(a.IssuesByType) > 0 {
		fmt.Fprintf(w, "By type: %s\n", joinCounts(a.IssuesByType))
	}
	if len(a.ReposByComplianceScore) > 0 {
		fmt.Fprintln(w, "\nLowest compliance:")
		for i, r := range a.ReposByComplianceScore {
			if i == 5 {
				break
			}
			fmt.Fprintf(w, "  %d. %s (%.1f, %d issues)\n", i+1, r.RepoID, r.ComplianceScore, r.IssuesFound)
		}
	}
	return nil
}

// WriteCSV writes one row per repository.
func WriteCSV(w io.Writer, res *portfolio.Result) error {
	cw := csv.NewWriter(w)
	header := []string{"run_id", "repo_id", "name", "status", "issues_found", "issues_fixed", "compliance_score", "downgraded", "detail"}
	for _, sev := range pipeline.Severities {
		header = append(header, string(sev))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range res.Repos {
		row := []string{res.RunID, r.RepoID, r.Name, string(r.Status), "", "", "", "", detail(r)}
		counts := make([]string, len(pipeline.Severities))
		if p := r.Pipeline; p != nil && r.Status == portfolio.StatusCompleted {
			row[4] = strconv.Itoa(p.IssuesFound)
			row[5] = strconv.Itoa(p.IssuesFixed)
			row[6] = strconv.FormatFloat(p.ComplianceScore, 'f', 1, 64)
			row[7] = strconv.FormatBool(p.Downgraded)
			for i, sev := range pipeline.Severities {
				counts[i] = strconv.Itoa(p.IssuesBySeverity[string(sev)])
			}
		}
		if err := cw.Write(append(row, counts...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func detail(r portfolio.RepoResult) string {
	switch {
	case r.Error != "":
		return r.Error
	case r.Reason != "":
		return r.Reason
	case r.Pipeline != nil && r.Pipeline.Downgraded:
		return "downgraded: " + r.Pipeline.DowngradeReason
	}
	return ""
}

func joinCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}
