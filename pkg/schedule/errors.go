package schedule

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed schedule input. It is returned at creation,
// edit and import time and never reaches the reconciliation engine.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid schedule: %s", e.Message)
	}
	return fmt.Sprintf("invalid schedule %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func withField(err error, field string) error {
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Field == "" {
		return &ValidationError{Field: field, Message: ve.Message}
	}
	return err
}
