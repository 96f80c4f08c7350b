package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
)

// WritePipeline renders one repository's pipeline result. csv is not
// supported for a single result.
func WritePipeline(w io.Writer, res *pipeline.Result, format string) error {
	switch format {
	case FormatTable, "text", "":
		return writePipelineTable(w, res)
	case FormatJSON:
		return WriteJSON(w, res)
	}
	return fmt.Errorf("unknown report format %q (want table or json)", format)
}

func writePipelineTable(w io.Writer, res *pipeline.Result) error {
	fmt.Fprintf(w, "Repo %s\tstate=%s\tmode=%s\n", res.RepoID, res.State, res.Mode)
	if res.Commit != "" {
		fmt.Fprintf(w, "Commit %s\n", res.Commit)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tDURATION\tERROR")
	for _, s := range res.Stages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Stage, s.Status, s.Duration.Round(time.Millisecond), s.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, is := range res.Issues {
			fmt.Fprintf(w, "  [%s] %s\n", is.Severity, is.Title)
		}
	}
	for _, p := range res.Published {
		fmt.Fprintf(w, "Published #%d %s\n", p.Number, p.URL)
	}
	if res.Verdict != nil {
		fmt.Fprintf(w, "\nQA: %s\n", res.Verdict.Verdict)
	}
	if res.Downgraded {
		fmt.Fprintf(w, "Downgraded: %s\n", res.DowngradeReason)
	}
	if res.ArtifactRef != "" {
		fmt.Fprintf(w, "Artifact: %s\n", res.ArtifactRef)
	}
	fmt.Fprintf(w, "Issues: %d found, %d fixed, compliance %.1f\n", res.IssuesFound, res.IssuesFixed, res.ComplianceScore)
	if res.Error != "" {
		fmt.Fprintf(w, "Error (%s): %s\n", res.ErrorKind, res.Error)
	}
	return nil
}
