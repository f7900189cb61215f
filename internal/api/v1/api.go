// Package api implements the /api JSON routes: uploads, scans and
// inference runs.
package api

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/orchestrator"
)

// ScanStore is the persistence the routes need.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *datastore.Scan) error
	GetScan(ctx context.Context, id, ownerID string) (*datastore.Scan, error)
	ListScans(ctx context.Context, ownerID string, limit int) ([]datastore.Scan, error)
	DeleteScan(ctx context.Context, id, ownerID string) error
	ListDetections(ctx context.Context, scanID string) ([]datastore.Detection, error)
}

// Runner starts inference runs.
type Runner interface {
	RunInference(ctx context.Context, scanID, callerID string) (*orchestrator.RunResult, error)
}

// Presigner issues object storage URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Metrics receives route level measurements. observability.Metrics
// implements it.
type Metrics interface {
	ObserveVerdict(verdict string)
	RateLimited()
}

// ErrRateLimited is returned when a caller starts runs too quickly.
var ErrRateLimited = errors.NewStd("too many inference runs")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	store     ScanStore
	runner    Runner
	presigner Presigner
	metrics   Metrics
	limiter   *RunLimiter
	log       logger.Logger

	authMiddleware echo.MiddlewareFunc
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithRunLimiter enables per-caller rate limiting of inference runs.
func WithRunLimiter(l *RunLimiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// New creates the controller and registers its routes under /api.
// authMiddleware must set the caller id for auth.UserID.
func New(e *echo.Echo, store ScanStore, runner Runner, presigner Presigner, authMiddleware echo.MiddlewareFunc, opts ...Option) (*Controller, error) {
	if store == nil || runner == nil || presigner == nil {
		return nil, errors.New(errors.NewStd("api controller requires store, runner and presigner")).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if authMiddleware == nil {
		return nil, errors.New(errors.NewStd("api controller requires auth middleware")).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Controller{
		Echo:           e,
		Group:          e.Group("/api"),
		store:          store,
		runner:         runner,
		presigner:      presigner,
		authMiddleware: authMiddleware,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("api")
	}

	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	// Legacy multipart upload, disabled in favour of presigned uploads.
	c.Group.POST("/scans/upload", c.LegacyUpload)

	c.Group.POST("/uploads/presign", c.PresignUpload, c.authMiddleware)
	c.Group.GET("/uploads/view", c.ViewUpload, c.authMiddleware)

	c.Group.POST("/scans/create", c.CreateScan, c.authMiddleware)
	c.Group.POST("/scans/run-inference", c.RunInference, c.authMiddleware, c.rateLimit)
	c.Group.GET("/scans", c.ListScans, c.authMiddleware)
	c.Group.GET("/scans/:id", c.GetScan, c.authMiddleware)
	c.Group.DELETE("/scans/:id", c.DeleteScan, c.authMiddleware)
}

// Shutdown stops background work owned by the controller.
func (c *Controller) Shutdown() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}

// rateLimit rejects run requests beyond the caller's allowance.
func (c *Controller) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.limiter == nil {
			return next(ctx)
		}
		userID := callerID(ctx)
		if ok, retry := c.limiter.Allow(userID); !ok {
			if c.metrics != nil {
				c.metrics.RateLimited()
			}
			ctx.Response().Header().Set("Retry-After", retryAfter(retry))
			return c.HandleError(ctx, errors.New(ErrRateLimited).
				Component("api").
				Category(errors.CategoryLimit).
				Context("retry_after_ms", retry.Milliseconds()).
				Build())
		}
		return next(ctx)
	}
}

func retryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
