// Package httpapi provides the HTTP API for ballotd: candidate lookups,
// research submission and observation, stance retrieval, and match scoring.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ballotd/internal/events"
	"github.com/fyrsmithlabs/ballotd/internal/research"
	"github.com/fyrsmithlabs/ballotd/internal/stance"
)

// Server provides HTTP endpoints for ballotd.
type Server struct {
	echo        *echo.Echo
	orch        *research.Orchestrator
	stances     *stance.Store
	broadcaster *events.Broadcaster
	logger      *zap.Logger
	config      *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(
	orch *research.Orchestrator,
	stances *stance.Store,
	broadcaster *events.Broadcaster,
	logger *zap.Logger,
	cfg *Config,
) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if stances == nil {
		return nil, fmt.Errorf("stance store cannot be nil")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:        e,
		orch:        orch,
		stances:     stances,
		broadcaster: broadcaster,
		logger:      logger,
		config:      cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/candidates", s.handleListCandidates)
	v1.GET("/candidates/:name", s.handleGetCandidate)

	v1.POST("/research/candidate/:name", s.handleSubmitResearch)
	v1.POST("/research/compare", s.handleSubmitComparison)
	v1.GET("/research/status/:id", s.handleResearchStatus)
	v1.GET("/research/results/:id", s.handleResearchResults)
	v1.GET("/research/active", s.handleListActive)
	v1.GET("/research/stream/:id", s.handleResearchStream)
	v1.DELETE("/research/:id", s.handleCancelResearch)

	v1.GET("/stances", s.handleListStances)
	v1.POST("/match", s.handleMatch)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ActiveResearch    int    `json:"active_research"`
	CompletedResearch int    `json:"completed_research"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:            "ok",
		Version:           s.config.Version,
		ActiveResearch:    len(s.orch.ListActive()),
		CompletedResearch: s.orch.CompletedCount(),
	})
}
