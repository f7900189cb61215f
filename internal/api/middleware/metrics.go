package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/errors"
)

// RequestObserver receives one measurement per served request.
type RequestObserver interface {
	RequestStarted()
	RequestFinished()
	ObserveRequest(method, route string, status int, elapsed time.Duration)
}

// NewMetrics records request counts and latency by route pattern.
func NewMetrics(obs RequestObserver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			obs.RequestStarted()
			defer obs.RequestFinished()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not written the response yet.
				var he *echo.HTTPError
				switch {
				case errors.As(err, &he):
					status = he.Code
				case !c.Response().Committed:
					status = http.StatusInternalServerError
				}
			}
			obs.ObserveRequest(c.Request().Method, c.Path(), status, time.Since(start))
			return err
		}
	}
}
