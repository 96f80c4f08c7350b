// Package web serves the caller-facing HTTP API: start portfolio runs and
// single-repository audits, browse the registry, and read stored results.
package web

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/auditfactory/internal/analytics"
	"github.com/lucasnoah/auditfactory/internal/events"
	"github.com/lucasnoah/auditfactory/internal/httpserver"
	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// PortfolioRunner runs multi-repository audits. *portfolio.Orchestrator implements it.
type PortfolioRunner interface {
	Run(ctx context.Context, req portfolio.Request) (*portfolio.Result, error)
}

// PipelineRunner audits one repository. *orchestrator.Orchestrator implements it.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.TaskRequest) (*pipeline.Result, error)
}

// Repos lists registry entries. *registry.Registry implements it.
type Repos interface {
	Get(id string) (registry.RepoConfig, error)
	List(f registry.Filter) []registry.RepoConfig
}

// Deps are the services the API exposes. Artifacts, History and Events may
// be nil; the routes that need them then answer 404 or 503.
type Deps struct {
	Portfolio   PortfolioRunner
	Pipeline    PipelineRunner
	Repos       Repos
	Artifacts   pipeline.ArtifactReader
	History     analytics.Source
	Events      *events.Broadcaster
	DefaultMode pipeline.Mode
	Gatherer    prometheus.Gatherer
	Log         *logging.Logger
}

// Server is the caller API.
type Server struct {
	echo *echo.Echo
	deps Deps
	log  *logging.Logger

	// background runs started with async requests
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	keepAlive time.Duration
}

// NewServer builds the API and registers its routes.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logging.Nop()
	}
	log = log.Named("web")
	if deps.DefaultMode == "" {
		deps.DefaultMode = pipeline.ModeDryRun
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		echo:      httpserver.New(log, deps.Gatherer),
		deps:      deps,
		log:       log,
		bgCtx:     ctx,
		bgCancel:  cancel,
		keepAlive: 15 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/repos/:repo", s.handleGetRepoArtifact)
	v1.GET("/repos", s.handleListRepos)
	v1.GET("/repos/:id", s.handleGetRepo)
	v1.POST("/repos/:id/audit", s.handleAudit)
	v1.GET("/trends", s.handleTrends)
	v1.GET("/events", s.handleEvents)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Serve listens on addr until ctx is cancelled, then cancels background runs
// and waits for them to record their partial results.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	err := httpserver.Serve(ctx, s.echo, addr, shutdownTimeout, s.log)
	s.Close()
	return err
}

// Close cancels background runs and waits for them to finish.
func (s *Server) Close() {
	s.bgCancel()
	s.bg.Wait()
}
