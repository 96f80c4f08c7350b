package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/templates"
)

var templatesDir string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage issue and plan templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in templates",
	Run: func(cmd *cobra.Command, args []string) {
		for _, n := range templates.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
	},
}

var templatesInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Copy the built-in templates to a directory for editing",
	Long: `Write the built-in templates into --dir (default ~/.auditfactory/templates).
Existing files are never overwritten. Templates found there take precedence
over the built-in ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := templatesDir
		if dir == "" {
			dir = templates.DefaultDir()
		}
		written, err := templates.Install(dir)
		if err != nil {
			return err
		}
		for _, n := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", n)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d template(s) installed in %s\n", len(written), dir)
		return nil
	},
}

func init() {
	templatesInstallCmd.Flags().StringVar(&templatesDir, "dir", "", "target directory")
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesInstallCmd)
}
