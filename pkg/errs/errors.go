// Package errs defines the error taxonomy shared by the core
// components. Handlers map these kinds onto the uniform response
// envelope; components never swallow them.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or empty input; user-correctable.
	ErrValidation = errors.New("validation error")
	// ErrAuthorization marks a caller that is not a member or not the
	// author; surfaced without retry.
	ErrAuthorization = errors.New("authorization error")
	// ErrNotFound marks an unknown message, conversation, or call id.
	ErrNotFound = errors.New("not found")
	// ErrStore marks a persistence layer failure. The caller may retry
	// the whole operation; the core performs no automatic retry.
	ErrStore = errors.New("store error")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Authorizationf wraps ErrAuthorization with a formatted detail message.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrAuthorization}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Storef wraps ErrStore with a formatted detail message.
func Storef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrStore}, args...)...)
}

// HTTPStatus maps an error to its HTTP status code equivalent.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrAuthorization):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	default:
		return 500
	}
}
