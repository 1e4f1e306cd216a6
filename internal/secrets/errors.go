package secrets

// Error types for secret resolution failures. Each error type carries enough
// context to fix the profile's reference or the backend setup.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("secret not found")

// UnsupportedSchemeError indicates an unrecognized URI scheme.
type UnsupportedSchemeError struct {
	Scheme    string
	Supported []string
}

func (e *UnsupportedSchemeError) Error() string {
	if len(e.Supported) == 0 {
		return fmt.Sprintf("unsupported secret scheme: %s", e.Scheme)
	}
	return fmt.Sprintf("unsupported secret scheme: %s (supported: %s)", e.Scheme, strings.Join(e.Supported, ", "))
}

// InvalidReferenceError indicates a malformed secret reference.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid secret reference %q: %s", e.Reference, e.Reason)
}

// NotFoundError indicates the secret was not found in the backend.
type NotFoundError struct {
	Reference string
	Backend   string
}

func (e *NotFoundError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("secret not found in %s: %s", e.Backend, e.Reference)
	}
	return fmt.Sprintf("secret not found: %s", e.Reference)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// BackendError wraps errors from secret backends with actionable context.
type BackendError struct {
	Backend   string
	Reference string
	Reason    string
	Fix       string
	Err       error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Reason)
	if e.Fix != "" {
		msg += "\n\n  " + e.Fix
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
