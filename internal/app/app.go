// Package app wires configuration into running services. It is the only
// place that knows how every component is constructed.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/agents"
	"github.com/lucasnoah/auditfactory/internal/analytics"
	"github.com/lucasnoah/auditfactory/internal/checks"
	"github.com/lucasnoah/auditfactory/internal/config"
	"github.com/lucasnoah/auditfactory/internal/contract"
	"github.com/lucasnoah/auditfactory/internal/db"
	"github.com/lucasnoah/auditfactory/internal/dispatch"
	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/github"
	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/orchestrator"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/registry"
	"github.com/lucasnoah/auditfactory/internal/source"
	"github.com/lucasnoah/auditfactory/internal/stage"
	"github.com/lucasnoah/auditfactory/internal/templates"
)

// Artifacts is a store that can also read back what it wrote.
type Artifacts interface {
	pipeline.ArtifactStore
	pipeline.ArtifactReader
}

// Options tune Bootstrap for the calling command.
type Options struct {
	Progress io.Writer // live progress lines; nil for none
	Logger   *logging.Logger
}

// App holds every constructed service.
type App struct {
	Config     *config.Config
	Log        *logging.Logger
	Registry   *registry.Registry
	Metrics    *prometheus.Registry
	Local      *dispatch.LocalBackend
	Dispatcher *dispatch.Dispatcher
	Pipeline   *orchestrator.Orchestrator
	Portfolio  *portfolio.Orchestrator
	Artifacts  Artifacts
	History    analytics.Source
	Events     *events.Broadcaster

	conns   map[string]*nats.Conn
	closers []func()
}

// ValidateConfig joins config validation errors into one error.
func ValidateConfig(cfg *config.Config) error {
	verrs := config.Validate(cfg)
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, len(verrs))
	for i, e := range verrs {
		errs[i] = e
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

// NewLogger builds the logger described by cfg.Logging.
func NewLogger(cfg *config.Config, out io.Writer) (*logging.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: out})
}

// NewMetricsRegistry returns a registry with the process and Go collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Bootstrap builds the full service graph from cfg. Callers must Close the App.
func Bootstrap(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, conns: make(map[string]*nats.Conn)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Log = opts.Logger
	if a.Log == nil {
		if a.Log, err = NewLogger(cfg, nil); err != nil {
			return nil, err
		}
	}

	if a.Registry, err = registry.Load(cfg.Registry.Path); err != nil {
		return nil, err
	}
	a.Metrics = NewMetricsRegistry()

	if a.Local, err = NewAgentBackend(ctx, cfg, a.Log); err != nil {
		return nil, err
	}
	if a.Dispatcher, err = a.newDispatcher(); err != nil {
		return nil, err
	}

	var closeArtifacts func()
	if a.Artifacts, a.History, closeArtifacts, err = OpenArtifacts(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeArtifacts)

	router := &source.Router{Local: &source.LocalProvider{}, Remote: source.NewGitProvider(cfg.Source.CacheDir)}
	a.Pipeline = orchestrator.NewOrchestrator(a.Registry, router, stage.New(a.Dispatcher), a.Artifacts, a.Log)
	a.Pipeline.SetSourceOptions(source.Options{
		Patterns:     cfg.Source.Patterns,
		Exclude:      cfg.Source.Exclude,
		MaxFiles:     cfg.Source.MaxFiles,
		MaxFileBytes: cfg.Source.MaxFileBytes,
	})
	a.Pipeline.SetLargeFileBytes(cfg.Analyzer.LargeFileBytes)
	a.Pipeline.SetProgress(opts.Progress)

	a.Events = events.NewBroadcaster(64)
	notifier := events.Multi{a.Events}
	if cfg.Events.NATSURL != "" {
		nc, err := a.natsConn(cfg.Events.NATSURL, "auditfactory-events")
		if err != nil {
			return nil, err
		}
		notifier = append(notifier, events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix))
	}

	a.Portfolio = portfolio.New(a.Registry, a.Pipeline, a.Artifacts, a.Log)
	a.Portfolio.SetMaxInFlight(cfg.Portfolio.MaxInFlight)
	a.Portfolio.SetNotifier(notifier)
	a.Portfolio.SetMetrics(portfolio.NewMetrics(a.Metrics))
	a.Portfolio.SetProgress(opts.Progress)
	return a, nil
}

// NewAgentBackend builds the in-process backend with every built-in role
// registered. The agent server uses it on its own.
func NewAgentBackend(ctx context.Context, cfg *config.Config, log *logging.Logger) (*dispatch.LocalBackend, error) {
	opts := agents.Options{
		Checks:    checks.NewRunner(&checks.ExecRunner{}),
		Templates: templates.NewSet(templates.DefaultDir()),
	}
	if cfg.Analyzer.Secrets {
		scanner, err := agents.NewGitleaksScanner()
		if err != nil {
			return nil, fmt.Errorf("secret scanner: %w", err)
		}
		opts.Secrets = scanner
	}
	if cfg.Publish.GitHubToken != "" {
		client, err := github.NewClient(ctx, cfg.Publish.GitHubToken, cfg.Publish.BaseURL, cfg.Publish.Labels)
		if err != nil {
			return nil, fmt.Errorf("github client: %w", err)
		}
		opts.Filer = client
	} else if log != nil {
		log.Debug(ctx, "no github token configured; publish will fail")
	}

	b := dispatch.NewLocalBackend()
	agents.New(opts).Register(b)
	return b, nil
}

func (a *App) newDispatcher() (*dispatch.Dispatcher, error) {
	cfg := a.Config.Dispatch
	d := dispatch.New(contract.DefaultRegistry(), a.Local, a.Log)
	d.SetMetrics(dispatch.NewMetrics(a.Metrics))

	for skill, p := range cfg.Skills {
		d.SetPolicy(skill, dispatch.Policy{Timeout: p.Timeout, Retryable: p.Retryable})
	}

	roles := make([]string, 0, len(cfg.Roles))
	for role := range cfg.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		rc := cfg.Roles[role]
		var t dispatch.Transport
		switch rc.Backend {
		case config.BackendLocal:
			continue
		case config.BackendHTTP:
			t = dispatch.NewHTTPTransport(rc.Endpoint, &http.Client{Timeout: rc.Timeout})
		case config.BackendNATS:
			nc, err := a.natsConn(cfg.NATSURL, "auditfactory-dispatch")
			if err != nil {
				return nil, err
			}
			t = dispatch.NewNATSTransport(nc, cfg.SubjectPrefix)
		}
		d.SetBackend(role, dispatch.NewRemoteBackend(t, rc.RateLimit, rc.Burst))
		a.Log.Info(context.Background(), "remote agent role", zap.String("role", role), zap.String("backend", rc.Backend))
	}
	return d, nil
}

// OpenArtifacts opens the configured artifact store and the history source
// backed by it. release closes the store.
func OpenArtifacts(ctx context.Context, cfg *config.Config) (store Artifacts, history analytics.Source, release func(), err error) {
	switch cfg.Artifacts.Backend {
	case config.ArtifactsPostgres:
		database, err := db.Open(ctx, cfg.Artifacts.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return database, database, database.Close, nil
	default:
		fs := pipeline.NewFSStore(cfg.Artifacts.Dir)
		return fs, analytics.NewFSSource(fs), func() {}, nil
	}
}

// natsConn returns a shared connection per URL.
func (a *App) natsConn(url, name string) (*nats.Conn, error) {
	if nc, ok := a.conns[url]; ok {
		return nc, nil
	}
	nc, err := events.Connect(url, name)
	if err != nil {
		return nil, err
	}
	a.conns[url] = nc
	return nc, nil
}

// NATS returns the dispatch NATS connection, dialling it if needed.
func (a *App) NATS() (*nats.Conn, error) {
	return a.natsConn(a.Config.Dispatch.NATSURL, "auditfactory-dispatch")
}

// Close releases connections and flushes the logger.
func (a *App) Close() {
	for _, nc := range a.conns {
		if err := nc.FlushTimeout(2 * time.Second); err != nil && a.Log != nil {
			a.Log.Warn(context.Background(), "nats flush failed", zap.Error(err))
		}
		nc.Close()
	}
	a.conns = map[string]*nats.Conn{}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.Log != nil {
		_ = a.Log.Sync()
	}
}
