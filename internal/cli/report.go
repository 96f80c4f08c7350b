package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/app"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/report"
)

var reportFormat string
var reportRepo string

var reportCmd = &cobra.Command{
	Use:   "report <run-id|summary.json>",
	Short: "Re-render a stored run summary",
	Long: `Print a stored portfolio summary as a table, JSON or CSV. The argument is a
run id looked up in the artifact store, or the path of a summary file.
With --repo the stored artifact of that repository is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportRepo == "" {
			if res, err := readSummaryFile(args[0]); err == nil {
				return report.Write(cmd.OutOrStdout(), res, reportFormat)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, _, release, err := app.OpenArtifacts(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer release()

		if reportRepo != "" {
			var raw json.RawMessage
			if err := store.Read(cmd.Context(), pipeline.RepoArtifactPath(args[0], reportRepo), &raw); err != nil {
				return fmt.Errorf("run %s repo %s: %w", args[0], reportRepo, err)
			}
			return report.WriteJSON(cmd.OutOrStdout(), raw)
		}

		var res portfolio.Result
		if err := store.Read(cmd.Context(), pipeline.SummaryPath(args[0]), &res); err != nil {
			return fmt.Errorf("run %s: %w", args[0], err)
		}
		return report.Write(cmd.OutOrStdout(), &res, reportFormat)
	},
}

func readSummaryFile(path string) (*portfolio.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res portfolio.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &res, nil
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "o", report.FormatTable, "output format: table, json or csv")
	reportCmd.Flags().StringVar(&reportRepo, "repo", "", "print the stored artifact of this repository instead")
}
