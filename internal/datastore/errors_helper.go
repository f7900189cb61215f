package datastore

import (
	"github.com/spinescan/spinescan/internal/errors"
)

// dbError creates a categorized database error with operation context.
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError wraps ErrScanNotFound so callers can match either the
// sentinel or the not-found category.
func notFoundError(scanID string) error {
	return errors.New(ErrScanNotFound).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("scan_id", scanID).
		Build()
}

// conflictError wraps ErrStatusConflict with the state that blocked the transition.
func conflictError(scanID string, current ScanStatus, target ScanStatus) error {
	return errors.New(ErrStatusConflict).
		Component("datastore").
		Category(errors.CategoryState).
		Context("scan_id", scanID).
		Context("current_status", string(current)).
		Context("target_status", string(target)).
		Build()
}

// validationError creates a validation error for bad repository input.
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
