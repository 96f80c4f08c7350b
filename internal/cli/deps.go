package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/auditfactory/internal/app"
	"github.com/lucasnoah/auditfactory/internal/config"
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// signalContext is cancelled on SIGINT or SIGTERM so runs stop between
// stages and still record partial results.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// openApp loads the config and bootstraps every service. Logs go to stderr;
// progress lines too unless quiet.
func openApp(ctx context.Context, cmd *cobra.Command, quiet bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := app.NewLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	var progress io.Writer
	if !quiet {
		progress = cmd.ErrOrStderr()
	}
	return app.Bootstrap(ctx, cfg, app.Options{Progress: progress, Logger: log})
}
