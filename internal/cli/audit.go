package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/report"
)

var auditFlags struct {
	mode      string
	task      string
	env       string
	metadata  []string
	remediate bool
	runID     string
	format    string
	quiet     bool
}

var auditCmd = &cobra.Command{
	Use:   "audit <repo-id>",
	Short: "Run the audit pipeline for a single repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := openApp(ctx, cmd, auditFlags.quiet)
		if err != nil {
			return err
		}
		defer a.Close()

		mode, err := modeOrDefault(auditFlags.mode, a.Config.Portfolio.DefaultMode)
		if err != nil {
			return err
		}
		meta, err := parseMetadata(auditFlags.metadata)
		if err != nil {
			return err
		}

		res, err := a.Pipeline.Run(ctx, pipeline.TaskRequest{
			RunID:       auditFlags.runID,
			RepoID:      args[0],
			Task:        auditFlags.task,
			Environment: auditFlags.env,
			Mode:        mode,
			Metadata:    meta,
			Remediate:   auditFlags.remediate,
		})
		if err != nil {
			return err
		}
		if err := report.WritePipeline(cmd.OutOrStdout(), res, auditFlags.format); err != nil {
			return err
		}
		if res.Failed() {
			return fmt.Errorf("audit of %s failed: %s", res.RepoID, res.ErrorKind)
		}
		return nil
	},
}

func init() {
	f := auditCmd.Flags()
	f.StringVar(&auditFlags.mode, "mode", "", "preview, dry-run or create (default from config)")
	f.StringVar(&auditFlags.task, "task", "audit", "task description passed to every agent")
	f.StringVar(&auditFlags.env, "env", "", "environment label recorded with the run")
	f.StringArrayVar(&auditFlags.metadata, "meta", nil, "extra key=value metadata (repeatable)")
	f.BoolVar(&auditFlags.remediate, "remediate", false, "plan and propose fixes for the specified issues")
	f.StringVar(&auditFlags.runID, "run-id", "", "use this run id instead of generating one")
	f.StringVarP(&auditFlags.format, "format", "o", report.FormatTable, "output format: table or json")
	f.BoolVarP(&auditFlags.quiet, "quiet", "q", false, "suppress progress lines")
}
