package middleware

import (
	"crypto/rand"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/logger"
)

// HeaderCorrelationID carries the request correlation id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

// CtxKeyCorrelationID holds the correlation id in echo.Context.
const CtxKeyCorrelationID = "request:correlationID"

var validCorrelationID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// NewCorrelationID assigns every request a correlation id, reusing a
// well-formed incoming X-Correlation-ID. The id is echoed in the response
// and attached to the request context as the log trace id.
func NewCorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderCorrelationID)
			if !validCorrelationID.MatchString(id) {
				id = GenerateCorrelationID()
			}

			c.Set(CtxKeyCorrelationID, id)
			c.Response().Header().Set(HeaderCorrelationID, id)
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			return next(c)
		}
	}
}

// CorrelationID returns the id assigned by NewCorrelationID, generating one
// when the middleware did not run.
func CorrelationID(c echo.Context) string {
	if id, ok := c.Get(CtxKeyCorrelationID).(string); ok && id != "" {
		return id
	}
	id := GenerateCorrelationID()
	c.Set(CtxKeyCorrelationID, id)
	c.Response().Header().Set(HeaderCorrelationID, id)
	return id
}

// GenerateCorrelationID creates a short random identifier for error tracking.
func GenerateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 12

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
