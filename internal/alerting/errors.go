package alerting

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStateConflict  = errors.New("operation not allowed in current alert state")
	ErrAlertNotActive = fmt.Errorf("alert is not active: %w", ErrStateConflict)
)

// ValidationError rejects alert content or targeting before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
