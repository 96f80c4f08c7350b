package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "auditfactory",
	Short: "Audit a portfolio of repositories through agent pipelines",
	Long: `auditfactory runs each registered repository through a staged audit pipeline
(resolve, analyze, specify issues, optionally plan and implement fixes, QA) and
aggregates the results across the portfolio.

Agent roles run in-process by default and can be routed to remote endpoints over
HTTP or NATS. Artifacts are written to ~/.auditfactory/artifacts (or Postgres)
in dry-run and create modes; preview mode writes nothing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to auditfactory.yaml (default: ./auditfactory.yaml, ~/.auditfactory/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(trendsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(templatesCmd)
}
