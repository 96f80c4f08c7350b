package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/config"
	"github.com/lucasnoah/auditfactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Postgres artifact store",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Schema is up to date.")
		return nil
	},
}

var dbResetConfirm bool

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate every table (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !dbResetConfirm {
			return fmt.Errorf("refusing to reset without --yes")
		}
		d, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Reset(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Database reset.")
		return nil
	},
}

func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Artifacts.Backend != config.ArtifactsPostgres {
		return nil, fmt.Errorf("artifacts.backend is %q; db commands need %q", cfg.Artifacts.Backend, config.ArtifactsPostgres)
	}
	return db.Open(cmd.Context(), cfg.Artifacts.DatabaseURL)
}

func init() {
	dbResetCmd.Flags().BoolVar(&dbResetConfirm, "yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
