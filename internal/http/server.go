// Package http provides the HTTP API for dispatchd.
//
// The API is the daemon's only inbound surface besides MCP stdio mode:
// one dispatch endpoint plus read-only analytics over the execution log.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/dispatch"
	"github.com/fyrsmithlabs/dispatchd/internal/execlog"
	"github.com/fyrsmithlabs/dispatchd/internal/logging"
)

const (
	defaultReadLimit = 50
	maxReadLimit     = 500
)

// Dispatcher runs one request end to end. Implemented by
// dispatch.Orchestrator; hand-mocked in tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, text string) *dispatch.Result
}

// Reader is the analytics read side of the execution log.
type Reader interface {
	History(ctx context.Context, sessionID string, limit int) ([]execlog.TurnRecord, error)
	Executions(ctx context.Context, sessionID string, limit int) ([]execlog.ExecutionRecord, error)
	Operations(ctx context.Context, sessionID string, limit int) ([]execlog.OperationRecord, error)
	Stats(ctx context.Context) (*execlog.Stats, error)
}

// Server serves the dispatch API.
type Server struct {
	echo       *echo.Echo
	dispatcher Dispatcher
	reader     Reader
	logger     *logging.Logger
	cfg        config.ServerConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(dispatcher Dispatcher, reader Reader, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("execution log reader is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout.Duration()
	e.Server.WriteTimeout = cfg.WriteTimeout.Duration()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:       e,
		dispatcher: dispatcher,
		reader:     reader,
		logger:     logger,
		cfg:        cfg,
	}
	s.registerRoutes()

	return s, nil
}

// requestLogger logs one line per request with the echo request ID.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))

			return err
		}
	}
}

func (s *Server) registerRoutes() {
	metrics := NewHTTPMetrics(s.logger)

	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/readyz", s.handleReadyz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1", metrics.Middleware())
	v1.POST("/dispatch", s.handleDispatch)
	v1.GET("/sessions/:id/history", s.handleHistory)
	v1.GET("/sessions/:id/executions", s.handleExecutions)
	v1.GET("/sessions/:id/operations", s.handleOperations)
	v1.GET("/stats", s.handleStats)
}

// DispatchRequest is the request body for POST /v1/dispatch.
type DispatchRequest struct {
	SessionID string `json:"session_id"`
	Request   string `json:"request"`
}

// HealthResponse is the response body for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReadyz reports ready once the execution log answers queries.
func (s *Server) handleReadyz(c echo.Context) error {
	if _, err := s.reader.Stats(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request field is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := logging.WithSessionID(c.Request().Context(), req.SessionID)
	result := s.dispatcher.Dispatch(ctx, req.SessionID, req.Request)

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleHistory(c echo.Context) error {
	turns, err := s.reader.History(c.Request().Context(), c.Param("id"), readLimit(c))
	if err != nil {
		s.logger.Error(c.Request().Context(), "history read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history read failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"turns": turns, "count": len(turns)})
}

func (s *Server) handleExecutions(c echo.Context) error {
	recs, err := s.reader.Executions(c.Request().Context(), c.Param("id"), readLimit(c))
	if err != nil {
		s.logger.Error(c.Request().Context(), "executions read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "executions read failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"executions": recs, "count": len(recs)})
}

func (s *Server) handleOperations(c echo.Context) error {
	recs, err := s.reader.Operations(c.Request().Context(), c.Param("id"), readLimit(c))
	if err != nil {
		s.logger.Error(c.Request().Context(), "operations read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "operations read failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"operations": recs, "count": len(recs)})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.reader.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "stats read failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stats read failed")
	}
	return c.JSON(http.StatusOK, stats)
}

// readLimit parses the limit query parameter, clamped to sane values.
func readLimit(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultReadLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultReadLimit
	}
	if n > maxReadLimit {
		return maxReadLimit
	}
	return n
}

// Start starts the server and blocks until Shutdown or failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
