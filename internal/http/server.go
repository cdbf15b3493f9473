// Package http provides the HTTP API for repo-pilot.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repopilot/internal/beads"
	"github.com/fyrsmithlabs/repopilot/internal/logging"
	"github.com/fyrsmithlabs/repopilot/internal/metrics"
	"github.com/fyrsmithlabs/repopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/repopilot/internal/pipeline"
	"github.com/fyrsmithlabs/repopilot/internal/scaffold"
)

// API is the slice of the orchestrator the server depends on.
type API interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (pipeline.Run, error)
	GetRun(ctx context.Context, runID string) (pipeline.Run, error)
	ListRuns(ctx context.Context, status string, limit int) ([]pipeline.Run, error)
	BeadsForRun(ctx context.Context, runID, status, category string) ([]beads.Bead, error)
	BeadSummary(ctx context.Context, runID string) (beads.Summary, error)
	GetBead(ctx context.Context, beadID string) (beads.Bead, error)
	TemporalAvailable() bool
}

// Scaffolder runs the best-practice file scaffold.
type Scaffolder interface {
	Run(ctx context.Context, repoPath string, commit bool) (scaffold.Result, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo       *echo.Echo
	api        API
	scaffolder Scaffolder
	metrics    *metrics.Metrics
	logger     *logging.Logger
	addr       string
}

// Config holds server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(api API, scaffolder Scaffolder, m *metrics.Metrics, logger *logging.Logger, cfg *Config) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	if m != nil {
		e.Use(m.Middleware())
	}

	s := &Server{
		echo:       e,
		api:        api,
		scaffolder: scaffolder,
		metrics:    m,
		logger:     logger,
		addr:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/pipeline/start", s.handleStart)
	v1.GET("/pipeline/runs", s.handleListRuns)
	v1.GET("/pipeline/:run_id", s.handleGetRun)
	v1.GET("/beads/:run_id", s.handleBeads)
	v1.GET("/beads/:run_id/summary", s.handleBeadSummary)
	v1.GET("/bead/:bead_id", s.handleGetBead)
	v1.POST("/scaffold", s.handleScaffold)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Service           string `json:"service"`
	TemporalConnected bool   `json:"temporal_connected"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:            "ok",
		Service:           "repo-pilot",
		TemporalConnected: s.api.TemporalAvailable(),
	})
}

// StartRequest is the request body for POST /api/v1/pipeline/start.
type StartRequest struct {
	RepoPath string `json:"repo_path"`
	Strategy string `json:"strategy,omitempty"`
}

// StartResponse is the response body for POST /api/v1/pipeline/start.
type StartResponse struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Strategy string `json:"strategy"`
	Message  string `json:"message"`
}

func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RepoPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "repo_path field is required")
	}

	run, err := s.api.Start(c.Request().Context(), orchestrator.StartRequest{
		RepoPath: req.RepoPath,
		Strategy: req.Strategy,
	})
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownStrategy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusAccepted, StartResponse{
		RunID:    run.ID,
		Status:   string(run.Status),
		Strategy: run.Strategy,
		Message:  "pipeline started",
	})
}

// RunsResponse is the response body for GET /api/v1/pipeline/runs.
type RunsResponse struct {
	Runs  []pipeline.Run `json:"runs"`
	Count int            `json:"count"`
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	runs, err := s.api.ListRuns(c.Request().Context(), c.QueryParam("status"), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	return c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.api.GetRun(c.Request().Context(), c.Param("run_id"))
	if errors.Is(err, orchestrator.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// BeadsResponse is the response body for GET /api/v1/beads/:run_id.
type BeadsResponse struct {
	RunID string       `json:"run_id"`
	Beads []beads.Bead `json:"beads"`
	Count int          `json:"count"`
}

func (s *Server) handleBeads(c echo.Context) error {
	runID := c.Param("run_id")
	list, err := s.api.BeadsForRun(c.Request().Context(), runID, c.QueryParam("status"), c.QueryParam("category"))
	if err != nil {
		return err
	}
	if list == nil {
		list = []beads.Bead{}
	}
	return c.JSON(http.StatusOK, BeadsResponse{RunID: runID, Beads: list, Count: len(list)})
}

func (s *Server) handleBeadSummary(c echo.Context) error {
	summary, err := s.api.BeadSummary(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetBead(c echo.Context) error {
	bead, err := s.api.GetBead(c.Request().Context(), c.Param("bead_id"))
	if errors.Is(err, orchestrator.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "bead not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bead)
}

// ScaffoldRequest is the request body for POST /api/v1/scaffold.
type ScaffoldRequest struct {
	RepoPath string `json:"repo_path"`
	Commit   bool   `json:"commit,omitempty"`
}

func (s *Server) handleScaffold(c echo.Context) error {
	if s.scaffolder == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "scaffold is not configured")
	}

	var req ScaffoldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RepoPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "repo_path field is required")
	}

	result, err := s.scaffolder.Run(c.Request().Context(), req.RepoPath, req.Commit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
