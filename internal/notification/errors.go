package notification

import (
	"errors"
	"fmt"
)

// ErrDuplicate marks a request that was already confirmed delivered.
var ErrDuplicate = errors.New("request already delivered")

// ValidationError is a malformed request or recipient. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RenderError is returned when a template cannot be resolved.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("render inline template: %v", e.Err)
	}
	return fmt.Sprintf("render template %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// TransientDeliveryError covers provider timeouts, 5xx responses and an
// open circuit breaker. It is the only error that participates in retries.
type TransientDeliveryError struct {
	Attempts int
	Err      error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// StateError means the status record is missing, expired or not queued.
// The message is skipped, not failed.
type StateError struct {
	RequestID string
	Status    Status
}

func (e *StateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("request %s is not tracked", e.RequestID)
	}
	return fmt.Sprintf("request %s is %s, not queued", e.RequestID, e.Status)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
