// Package api serves the HTTP JSON interface used by external triggers and
// browser front-ends.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pcesched/pcesched/pkg/engine"
	"github.com/pcesched/pcesched/pkg/manager"
	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
	"github.com/pcesched/pcesched/pkg/telemetry"
)

// Checker runs a reconciliation pass.
type Checker interface {
	Check(ctx context.Context, opts engine.CheckOptions) (*engine.Report, error)
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	manager *manager.Manager
	checker Checker
	health  HealthChecker
	metrics *telemetry.Metrics
	logger  *telemetry.Logger

	checkTimeout time.Duration
}

// DefaultCheckTimeout bounds a pass started through the API.
const DefaultCheckTimeout = 5 * time.Minute

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth reports h on /healthz.
func WithHealth(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithCheckTimeout bounds passes started by POST /api/check. The pass is not
// tied to the request, so it completes even if the client goes away.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Server) { s.logger = l.NewComponentLogger("api") }
}

// NewServer creates the API server and registers its routes.
func NewServer(mgr *manager.Manager, checker Checker, opts ...Option) *Server {
	s := &Server{
		echo:    echo.New(),
		manager: mgr,
		checker: checker,
		logger:  telemetry.NewNopLogger(),

		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(s.accessLog())

	e.GET("/healthz", s.Healthz)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	grp := e.Group("/api")
	grp.GET("/rulesets", s.ListRuleSets)
	grp.GET("/rulesets/:id", s.GetRuleSet)
	grp.GET("/schedules", s.ListSchedules)
	grp.POST("/schedules", s.CreateSchedule)
	grp.DELETE("/schedules", s.DeleteSchedule)
	grp.DELETE("/schedules/:id", s.DeleteSchedule)
	grp.POST("/check", s.Check)

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.WithField("addr", addr).Info("HTTP API listening")
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) accessLog() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zl := s.logger.Zerolog()
			zl.Debug().
				Str("type", "http").
				Str("remote_ip", c.RealIP()).
				Str("method", c.Request().Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

type errorResponse struct {
	Error      string      `json:"error"`
	Violations interface{} `json:"violations,omitempty"`
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var (
		he   *echo.HTTPError
		perr *manager.PolicyError
	)
	switch {
	case errors.As(err, &he):
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			resp.Error = msg
		}
	case errors.As(err, &perr):
		status = http.StatusUnprocessableEntity
		resp.Violations = perr.Result.Violations
	case schedule.IsValidationError(err):
		status = http.StatusBadRequest
	case errors.Is(err, stores.ErrNotFound), pce.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, manager.ErrNotProvisioned), errors.Is(err, manager.ErrAmbiguousID):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrNoCatalog):
		status = http.StatusNotImplemented
	case pce.IsUnreachable(err):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("Request failed")
	}
	if err := c.JSON(status, resp); err != nil {
		s.logger.WithError(err).Warn("Failed to write error response")
	}
}

// Healthz reports liveness and store health.
func (s *Server) Healthz(c echo.Context) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
