package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/spinescan/spinescan/internal/logger"
)

// bearerTokenParts is the expected number of parts when splitting Authorization header.
const bearerTokenParts = 2

// CtxKeyUserID holds the authenticated caller's id in echo.Context.
const CtxKeyUserID = "auth:userID"

// Middleware rejects requests without a valid bearer token.
type Middleware struct {
	AuthService Service
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(service Service) *Middleware {
	return &Middleware{AuthService: service}
}

// Authenticate stores the token subject under CtxKeyUserID or responds 401.
func (m *Middleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if m.AuthService == nil {
			GetLogger().Error("authentication middleware called with nil AuthService",
				logger.String("path", c.Request().URL.Path))
			return echo.NewHTTPError(http.StatusInternalServerError, "Authentication not configured")
		}

		token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}

		userID, err := m.AuthService.Authenticate(token)
		if err != nil {
			GetLogger().Debug("token rejected",
				logger.String("path", c.Request().URL.Path),
				logger.String("ip", c.RealIP()),
				logger.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}

		c.Set(CtxKeyUserID, userID)
		return next(c)
	}
}

// UserID returns the authenticated caller, or "" outside the middleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(CtxKeyUserID).(string)
	return id
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", bearerTokenParts)
	if len(parts) != bearerTokenParts || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
