package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lucasnoah/auditfactory/internal/analytics"
	"github.com/lucasnoah/auditfactory/internal/logging"
	"github.com/lucasnoah/auditfactory/internal/pipeline"
	"github.com/lucasnoah/auditfactory/internal/portfolio"
	"github.com/lucasnoah/auditfactory/internal/registry"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// RunRequest starts a portfolio run. With Async set the run continues in
// the background and the response only carries its ids.
type RunRequest struct {
	portfolio.Request
	Async bool `json:"async,omitempty"`
}

// RunAccepted is the 202 body of an async run.
type RunAccepted struct {
	RunID         string `json:"run_id"`
	CorrelationID string `json:"correlation_id"`
	StatusURL     string `json:"status_url"`
}

// AuditRequest audits a single repository named in the path.
type AuditRequest struct {
	RunID       string            `json:"run_id,omitempty"`
	Task        string            `json:"task"`
	Environment string            `json:"environment,omitempty"`
	Mode        pipeline.Mode     `json:"mode,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Remediate   bool              `json:"remediate,omitempty"`
}

// TrendsResponse is the body of GET /api/v1/trends.
type TrendsResponse struct {
	Runs   int                        `json:"runs"`
	Repos  []analytics.RepoTrend      `json:"repos"`
	Stages []analytics.StageDuration  `json:"stages"`
	Errors []analytics.ErrorKindCount `json:"errors"`
}

func errorJSON(c echo.Context, status int, err error) error {
	resp := ErrorResponse{Error: err.Error()}
	var cfgErr *pipeline.ConfigError
	if errors.As(err, &cfgErr) {
		resp.Field = cfgErr.Field
	}
	return c.JSON(status, resp)
}

func (s *Server) handleStartRun(c echo.Context) error {
	if s.deps.Portfolio == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("portfolio runs are not configured"))
	}
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid request body"))
	}
	if req.Mode == "" {
		req.Mode = s.deps.DefaultMode
	}
	if err := req.Request.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	ctx := c.Request().Context()
	if req.CorrelationID == "" {
		req.CorrelationID = logging.CorrelationID(ctx)
	}

	if !req.Async {
		res, err := s.deps.Portfolio.Run(ctx, req.Request)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err)
		}
		return c.JSON(http.StatusOK, res)
	}

	if req.RunID == "" {
		req.RunID = logging.NewID()
	}
	bgCtx := logging.WithCorrelationID(s.bgCtx, req.CorrelationID)
	s.bg.Add(1)
	go func(r portfolio.Request) {
		defer s.bg.Done()
		if _, err := s.deps.Portfolio.Run(bgCtx, r); err != nil {
			s.log.Error(bgCtx, "background run failed", zap.String("run_id", r.RunID), zap.Error(err))
		}
	}(req.Request)

	return c.JSON(http.StatusAccepted, RunAccepted{
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		StatusURL:     "/api/v1/runs/" + req.RunID,
	})
}

func (s *Server) handleAudit(c echo.Context) error {
	if s.deps.Pipeline == nil {
		return errorJSON(c, http.StatusServiceUnavailable, errors.New("audits are not configured"))
	}
	var req AuditRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, errors.New("invalid request body"))
	}
	if req.Mode == "" {
		req.Mode = s.deps.DefaultMode
	}
	ctx := c.Request().Context()
	res, err := s.deps.Pipeline.Run(ctx, pipeline.TaskRequest{
		RunID:         req.RunID,
		RepoID:        c.Param("id"),
		Task:          req.Task,
		Environment:   req.Environment,
		Mode:          req.Mode,
		Metadata:      req.Metadata,
		CorrelationID: logging.CorrelationID(ctx),
		Remediate:     req.Remediate,
	})
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if res.ErrorKind == pipeline.ErrKindRepoNotFound {
		return c.JSON(http.StatusNotFound, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListRepos(c echo.Context) error {
	var f registry.Filter
	if tags := c.QueryParams()["tag"]; len(tags) > 0 {
		f.Tags = tags
	}
	repos := s.deps.Repos.List(f)
	if repos == nil {
		repos = []registry.RepoConfig{}
	}
	return c.JSON(http.StatusOK, repos)
}

func (s *Server) handleGetRepo(c echo.Context) error {
	repo, err := s.deps.Repos.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, repo)
}

func (s *Server) handleGetRun(c echo.Context) error {
	var res portfolio.Result
	return s.readArtifact(c, pipeline.SummaryPath(c.Param("id")), &res)
}

func (s *Server) handleGetRepoArtifact(c echo.Context) error {
	var art pipeline.RepoArtifact
	return s.readArtifact(c, pipeline.RepoArtifactPath(c.Param("id"), c.Param("repo")), &art)
}

func (s *Server) readArtifact(c echo.Context, path string, v any) error {
	if s.deps.Artifacts == nil {
		return errorJSON(c, http.StatusNotFound, errors.New("no artifact store configured"))
	}
	if err := s.deps.Artifacts.Read(c.Request().Context(), path, v); err != nil {
		if errors.Is(err, pipeline.ErrArtifactNotFound) {
			return errorJSON(c, http.StatusNotFound, err)
		}
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) summaries(c echo.Context) ([]*portfolio.Result, error) {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &pipeline.ConfigError{Field: "limit", Message: "must be a non-negative integer"}
		}
		limit = n
	}
	return s.deps.History.Summaries(c.Request().Context(), limit)
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.deps.History == nil {
		return c.JSON(http.StatusOK, []analytics.RunSummary{})
	}
	runs, err := s.summaries(c)
	if err != nil {
		return historyError(c, err)
	}
	return c.JSON(http.StatusOK, analytics.History(runs))
}

func (s *Server) handleTrends(c echo.Context) error {
	var runs []*portfolio.Result
	if s.deps.History != nil {
		var err error
		if runs, err = s.summaries(c); err != nil {
			return historyError(c, err)
		}
	}
	resp := TrendsResponse{
		Runs:   len(runs),
		Repos:  analytics.RepoTrends(runs),
		Stages: analytics.StageDurations(runs),
		Errors: analytics.ErrorKinds(runs),
	}
	if resp.Stages == nil {
		resp.Stages = []analytics.StageDuration{}
	}
	return c.JSON(http.StatusOK, resp)
}

func historyError(c echo.Context, err error) error {
	var cfgErr *pipeline.ConfigError
	if errors.As(err, &cfgErr) {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	return errorJSON(c, http.StatusInternalServerError, err)
}
