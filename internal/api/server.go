package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/spinescan/spinescan/internal/api/auth"
	mw "github.com/spinescan/spinescan/internal/api/middleware"
	v1 "github.com/spinescan/spinescan/internal/api/v1"
	"github.com/spinescan/spinescan/internal/conf"
	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/observability"
)

const healthPingTimeout = 2 * time.Second

// Server is the HTTP server for SpineScan. It owns the echo instance,
// the middleware stack and the route controller.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	dataStore   datastore.Interface
	runner      v1.Runner
	presigner   v1.Presigner
	metrics     *observability.Metrics
	authService auth.Service
	limiter     *v1.RunLimiter

	apiController *v1.Controller
	startTime     time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithDataStore sets the datastore for the server.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.dataStore = ds }
}

// WithRunner sets the inference run orchestrator.
func WithRunner(r v1.Runner) ServerOption {
	return func(s *Server) { s.runner = r }
}

// WithPresigner sets the object storage URL issuer.
func WithPresigner(p v1.Presigner) ServerOption {
	return func(s *Server) { s.presigner = p }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAuthService sets the bearer token validator.
func WithAuthService(svc auth.Service) ServerOption {
	return func(s *Server) { s.authService = svc }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		settings:  settings,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	if s.authService == nil {
		return nil, errors.New(errors.NewStd("auth service is required")).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.RateLimit.Enabled {
		s.limiter = v1.NewRunLimiter(settings.RateLimit.RunsPerMinute, settings.RateLimit.Burst, 0)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.httpErrorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("metrics", config.MetricsEnabled),
		logger.Bool("rate_limit", s.limiter != nil),
		logger.Bool("debug", config.Debug))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewCorrelationID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == s.config.MetricsPath
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics))
	}

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip(s.config.MetricsPath))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.echo.GET("/health", s.healthCheck)

	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	ctrlOpts := []v1.Option{v1.WithLogger(s.log.Module("v1"))}
	if s.metrics != nil {
		ctrlOpts = append(ctrlOpts, v1.WithMetrics(s.metrics))
	}
	if s.limiter != nil {
		ctrlOpts = append(ctrlOpts, v1.WithRunLimiter(s.limiter))
	}

	authMiddleware := auth.NewMiddleware(s.authService).Authenticate
	controller, err := v1.New(s.echo, s.dataStore, s.runner, s.presigner, authMiddleware, ctrlOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize API v1: %w", err)
	}
	s.apiController = controller
	return nil
}

// healthCheck reports liveness. A failing database ping is reported but
// does not fail the check.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	database := "ok"
	if s.dataStore != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.dataStore.Ping(ctx); err != nil {
			database = "unavailable"
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.settings.Version,
		"build_date":     s.settings.BuildDate,
		"database":       database,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// httpErrorHandler writes errors that escaped the handlers, such as 401 from
// the auth middleware or 404 for unknown routes, as plain text.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	}

	correlationID := mw.CorrelationID(c)
	if code >= http.StatusInternalServerError {
		s.log.Error("unhandled error",
			logger.String("correlation_id", correlationID),
			logger.String("path", c.Request().URL.Path),
			logger.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.String(code, message)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Address()))
		if err := s.echo.Start(s.config.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if s.apiController != nil {
		s.apiController.Shutdown()
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
