package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/agentserver"
	"github.com/lucasnoah/auditfactory/internal/app"
	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/web"
)

var servePort int
var serveHost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the audit API",
	Long: `Serve the HTTP API for starting runs and audits, browsing the registry,
reading stored results and streaming run events. Prometheus metrics are
exposed on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := openApp(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		mode, err := pipeline.ParseMode(a.Config.Portfolio.DefaultMode)
		if err != nil {
			return err
		}
		srv := web.NewServer(web.Deps{
			Portfolio:   a.Portfolio,
			Pipeline:    a.Pipeline,
			Repos:       a.Registry,
			Artifacts:   a.Artifacts,
			History:     a.History,
			Events:      a.Events,
			DefaultMode: mode,
			Gatherer:    a.Metrics,
			Log:         a.Log,
		})

		host, port := a.Config.Server.Host, a.Config.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		fmt.Fprintf(cmd.OutOrStdout(), "auditfactory API listening on http://%s\n", addr)
		return srv.Serve(ctx, addr, a.Config.Server.ShutdownTimeout)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent roles as a remote backend",
}

var agentServePort int
var agentServeNATS bool

var agentServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer agent requests over HTTP and optionally NATS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.ValidateConfig(cfg); err != nil {
			return err
		}
		log, err := app.NewLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		backend, err := app.NewAgentBackend(ctx, cfg, log)
		if err != nil {
			return err
		}
		srv := agentserver.New(backend, app.NewMetricsRegistry(), log)

		if agentServeNATS || cfg.AgentServer.NATS {
			if cfg.Dispatch.NATSURL == "" {
				return fmt.Errorf("agent serve --nats: dispatch.nats_url is not set")
			}
			nc, err := events.Connect(cfg.Dispatch.NATSURL, "auditfactory-agent")
			if err != nil {
				return err
			}
			defer nc.Close()
			if err := srv.SubscribeNATS(nc, cfg.Dispatch.SubjectPrefix); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer func() {
				if err := srv.Close(); err != nil {
					log.Warn(ctx, "drain subscriptions", zap.Error(err))
				}
			}()
		}

		port := cfg.AgentServer.Port
		if cmd.Flags().Changed("port") {
			port = agentServePort
		}
		addr := net.JoinHostPort(cfg.AgentServer.Host, strconv.Itoa(port))
		fmt.Fprintf(cmd.OutOrStdout(), "agent backend listening on http://%s\n", addr)
		return srv.Serve(ctx, addr, cfg.Server.ShutdownTimeout)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "override server.host")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override server.port")

	agentServeCmd.Flags().IntVarP(&agentServePort, "port", "p", 0, "override agent_server.port")
	agentServeCmd.Flags().BoolVar(&agentServeNATS, "nats", false, "also answer requests on dispatch.subject_prefix")
	agentCmd.AddCommand(agentServeCmd)
}
