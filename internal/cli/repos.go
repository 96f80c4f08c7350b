package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/registry"
	"github.com/lucasnoah/auditfactory/internal/report"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Inspect the repository registry",
}

var reposListTags []string
var reposListJSON bool

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		repos := reg.List(registry.Filter{Tags: reposListTags})
		if reposListJSON {
			if repos == nil {
				repos = []registry.RepoConfig{}
			}
			return report.WriteJSON(cmd.OutOrStdout(), repos)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tTAGS\tWRITE")
		for _, r := range repos {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", r.ID, r.DisplayName(), sourceOf(r), strings.Join(r.Tags, ","), r.CanWrite)
		}
		return tw.Flush()
	},
}

var reposShowCmd = &cobra.Command{
	Use:   "show <repo-id>",
	Short: "Show one registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		repo, err := reg.Get(args[0])
		if err != nil {
			return err
		}
		return report.WriteJSON(cmd.OutOrStdout(), repo)
	},
}

func loadRegistry() (*registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return registry.Load(cfg.Registry.Path)
}

func sourceOf(r registry.RepoConfig) string {
	switch {
	case r.Unreachable:
		return "unreachable"
	case r.IsRemoteOnly():
		return r.URL
	}
	return r.Path
}

func init() {
	reposListCmd.Flags().StringSliceVar(&reposListTags, "tag", nil, "only repositories carrying any of these tags")
	reposListCmd.Flags().BoolVar(&reposListJSON, "json", false, "print JSON")
	reposCmd.AddCommand(reposListCmd)
	reposCmd.AddCommand(reposShowCmd)
}
