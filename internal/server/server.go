// Package server provides the corpusd HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
)

// Server exposes retrieval, pipeline control, and status endpoints.
type Server struct {
	echo      *echo.Echo
	engine    *retrieval.Engine
	generator retrieval.Generator
	pipeline  *pipeline.Pipeline
	metrics   *Metrics
	logger    *zap.Logger
	config    config.ServerConfig
}

// New creates the HTTP server.
func New(cfg config.ServerConfig, engine *retrieval.Engine, generator retrieval.Generator, p *pipeline.Pipeline, metrics *Metrics, logger *zap.Logger) (*Server, error) {
	if engine == nil || generator == nil || p == nil {
		return nil, fmt.Errorf("engine, generator, and pipeline are required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
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

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		engine:    engine,
		generator: generator,
		pipeline:  p,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		s.metrics.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/answer", s.handleAnswer)
	v1.POST("/pipeline/run", s.handlePipelineRun)
}

// AnswerRequest is the request body for POST /api/v1/answer.
// Floor is optional: omitted means no similarity floor is applied.
type AnswerRequest struct {
	Question string   `json:"question"`
	TopK     int      `json:"top_k"`
	Floor    *float32 `json:"floor,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// PipelineRunResponse is the response body for POST /api/v1/pipeline/run.
type PipelineRunResponse struct {
	Queued bool   `json:"queued"`
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipeline.Status())
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid answer request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	start := time.Now()
	answer, err := s.engine.Answer(c.Request().Context(), s.generator, req.Question, req.TopK, req.Floor)
	if errors.Is(err, retrieval.ErrEmptyIndex) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "index not ready: no snapshot promoted yet")
	}
	if err != nil {
		s.logger.Error("answering query", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}

	s.metrics.ObserveQuery(time.Since(start).Seconds())
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handlePipelineRun(c echo.Context) error {
	if s.pipeline.Trigger() {
		return c.JSON(http.StatusAccepted, PipelineRunResponse{
			Queued: true,
			Detail: "pipeline run queued",
		})
	}
	return c.JSON(http.StatusAccepted, PipelineRunResponse{
		Queued: false,
		Detail: "a run is already pending; trigger coalesced",
	})
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
