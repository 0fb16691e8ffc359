package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a referenced account or entry does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamTimeout is returned when the backing store did not answer in time.
	// Callers may retry.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// ValidationError describes malformed or missing request input.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MissingFields builds a ValidationError naming the missing fields.
func MissingFields(fields ...string) *ValidationError {
	return &ValidationError{
		Fields:  fields,
		Message: "missing required field(s): " + strings.Join(fields, ", "),
	}
}

// Invalid builds a ValidationError for a single malformed field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Fields:  []string{field},
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFoundf wraps ErrNotFound with a description of what was missing.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
