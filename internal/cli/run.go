package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/report"
)

var runFlags struct {
	repos       []string
	tags        []string
	mode        string
	task        string
	env         string
	metadata    []string
	remediate   bool
	maxInFlight int
	runID       string
	format      string
	failOnError bool
	quiet       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Audit every selected repository and aggregate the results",
	Long: `Run the audit pipeline over the registry. Without --repo or --tag every
registered repository is audited. Unreachable repositories are reported as
skipped; a failing repository never stops the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := openApp(ctx, cmd, runFlags.quiet)
		if err != nil {
			return err
		}
		defer a.Close()

		mode, err := modeOrDefault(runFlags.mode, a.Config.Portfolio.DefaultMode)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(runFlags.metadata)
		if err != nil {
			return err
		}
		if runFlags.maxInFlight > 0 {
			a.Portfolio.SetMaxInFlight(runFlags.maxInFlight)
		}

		res, err := a.Portfolio.Run(ctx, portfolio.Request{
			RunID:       runFlags.runID,
			RepoIDs:     runFlags.repos,
			Tags:        runFlags.tags,
			Mode:        mode,
			Task:        runFlags.task,
			Environment: runFlags.env,
			Metadata:    meta,
			Remediate:   runFlags.remediate,
		})
		if err != nil {
			return err
		}
		if err := report.Write(cmd.OutOrStdout(), res, runFlags.format); err != nil {
			return err
		}
		if runFlags.failOnError && res.Aggregates.ReposErrored > 0 {
			return fmt.Errorf("%d repo(s) errored", res.Aggregates.ReposErrored)
		}
		return nil
	},
}

// modeOrDefault parses flag, falling back to the configured default.
func modeOrDefault(flag, def string) (pipeline.Mode, error) {
	if flag == "" {
		flag = def
	}
	return pipeline.ParseMode(flag)
}

// parseMetadata turns key=value pairs into a map.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.repos, "repo", nil, "repository id to audit (repeatable)")
	f.StringSliceVar(&runFlags.tags, "tag", nil, "audit repositories carrying any of these tags")
	f.StringVar(&runFlags.mode, "mode", "", "preview, dry-run or create (default from config)")
	f.StringVar(&runFlags.task, "task", "audit", "task description passed to every agent")
	f.StringVar(&runFlags.env, "env", "", "environment label recorded with the run")
	f.StringArrayVar(&runFlags.metadata, "meta", nil, "extra key=value metadata (repeatable)")
	f.BoolVar(&runFlags.remediate, "remediate", false, "plan and propose fixes for the specified issues")
	f.IntVar(&runFlags.maxInFlight, "max-in-flight", 0, "override portfolio.max_in_flight")
	f.StringVar(&runFlags.runID, "run-id", "", "use this run id instead of generating one")
	f.StringVarP(&runFlags.format, "format", "o", report.FormatTable, "output format: table, json or csv")
	f.BoolVar(&runFlags.failOnError, "fail-on-error", false, "exit non-zero when any repository errored")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "suppress progress lines")
}
