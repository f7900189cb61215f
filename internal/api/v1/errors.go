package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	mw "github.com/spinescan/spinescan/internal/api/middleware"
	"github.com/spinescan/spinescan/internal/datastore"
	"github.com/spinescan/spinescan/internal/errors"
	"github.com/spinescan/spinescan/internal/logger"
	"github.com/spinescan/spinescan/internal/privacy"
)

// Plain text bodies returned for each error kind.
const (
	msgUnauthorized   = "Unauthorized"
	msgScanNotFound   = "Scan not found"
	msgScanRunning    = "Scan is running"
	msgRateLimited    = "Too many inference runs, try again later"
	msgInternal       = "Internal server error"
	msgInferenceError = "Inference server error"
)

// HandleError maps err to a status code and writes it as a plain text body.
// The correlation id travels in the X-Correlation-ID header.
func (c *Controller) HandleError(ctx echo.Context, err error) error {
	code, message := statusFor(err)
	correlationID := mw.CorrelationID(ctx)

	fields := []logger.Field{
		logger.String("correlation_id", correlationID),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Int("code", code),
		logger.String("category", string(errors.CategoryOf(err))),
		logger.Error(err),
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
	} else {
		log.Debug("API error", fields...)
	}

	return ctx.String(code, message)
}

// statusFor translates an error into the HTTP status and client message.
func statusFor(err error) (int, string) {
	if errors.Is(err, datastore.ErrStatusConflict) {
		return http.StatusConflict, msgScanRunning
	}

	switch errors.CategoryOf(err) {
	case errors.CategoryAuth:
		return http.StatusUnauthorized, msgUnauthorized
	case errors.CategoryValidation, errors.CategoryState:
		return http.StatusBadRequest, err.Error()
	case errors.CategoryNotFound:
		return http.StatusNotFound, msgScanNotFound
	case errors.CategoryLimit:
		return http.StatusTooManyRequests, msgRateLimited
	case errors.CategoryUpstream, errors.CategoryTimeout, errors.CategoryImageFetch:
		if msg := err.Error(); msg != "" {
			return http.StatusInternalServerError, privacy.ScrubMessage(msg)
		}
		return http.StatusInternalServerError, msgInferenceError
	default:
		return http.StatusInternalServerError, msgInternal
	}
}
