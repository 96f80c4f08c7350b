package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/analytics"
	"github.com/lucasnoah/auditfactory/internal/app"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/report"
)

var historyFlags struct {
	limit int
	json  bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded portfolio runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := loadSummaries(cmd.Context(), historyFlags.limit)
		if err != nil {
			return err
		}
		lines := analytics.History(runs)
		if historyFlags.json {
			if lines == nil {
				lines = []analytics.RunSummary{}
			}
			return report.WriteJSON(cmd.OutOrStdout(), lines)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tSTARTED\tMODE\tREPOS\tERR\tFOUND\tFIXED\tMEAN SCORE")
		for _, l := range lines {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.1f\n",
				l.RunID, l.StartedAt.Format("2006-01-02 15:04"), l.Mode, l.ReposTotal, l.Errored,
				l.IssuesFound, l.IssuesFixed, l.MeanCompliance)
		}
		return tw.Flush()
	},
}

var trendsFlags struct {
	limit int
	json  bool
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Per-repository score trends, stage durations and error kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := loadSummaries(cmd.Context(), trendsFlags.limit)
		if err != nil {
			return err
		}
		repos := analytics.RepoTrends(runs)
		stages := analytics.StageDurations(runs)
		kinds := analytics.ErrorKinds(runs)

		out := cmd.OutOrStdout()
		if trendsFlags.json {
			return report.WriteJSON(out, map[string]any{
				"runs":   len(runs),
				"repos":  repos,
				"stages": stages,
				"errors": kinds,
			})
		}

		fmt.Fprintf(out, "%d run(s)\n\n", len(runs))
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "REPO\tRUNS\tERR\tLAST\tBEST\tMEAN\tDELTA\tFIX RATE\tP95")
		for _, r := range repos {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.1f\t%.1f\t%+.1f\t%.0f%%\t%.1fs\n",
				r.RepoID, r.Runs, r.Errored, r.LastScore, r.BestScore, r.MeanScore, r.ScoreDelta, r.FixRate*100, r.P95Seconds)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if len(stages) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(tw, "STAGE\tCOUNT\tAVG\tP50\tP95")
			for _, s := range stages {
				fmt.Fprintf(tw, "%s\t%d\t%.2fs\t%.2fs\t%.2fs\n", s.Stage, s.Count, s.Avg, s.P50, s.P95)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}
		if len(kinds) > 0 {
			fmt.Fprintln(out, "\nErrors:")
			for _, k := range kinds {
				fmt.Fprintf(out, "  %s: %d (%.1f%%)\n", k.Kind, k.Count, k.Pct)
			}
		}
		return nil
	},
}

func loadSummaries(ctx context.Context, limit int) ([]*portfolio.Result, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	_, history, release, err := app.OpenArtifacts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer release()
	return history.Summaries(ctx, limit)
}

func init() {
	historyCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyFlags.json, "json", false, "print JSON")
	trendsCmd.Flags().IntVarP(&trendsFlags.limit, "limit", "n", 50, "number of recent runs to aggregate (0 for all)")
	trendsCmd.Flags().BoolVar(&trendsFlags.json, "json", false, "print JSON")
}
