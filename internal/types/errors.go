package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session operations.
var (
	// ErrNoActiveSession is returned when an operation needs a session and none is active.
	ErrNoActiveSession = errors.New("no active capture session")

	// ErrSessionActive is returned when starting while a session is recording or paused.
	ErrSessionActive = errors.New("capture session already active")

	// ErrInvalidTransition is returned when an operation does not apply to the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")

	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("session controller disposed")

	// ErrFocusDenied is returned when the system declines an audio focus request.
	ErrFocusDenied = errors.New("audio focus denied")
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON path to the field (e.g., "format.sample_rate")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors reports whether any field errors were collected.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		if e.Field == "" {
			parts = append(parts, e.Message)
			continue
		}
		parts = append(parts, e.Field+" "+e.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// ConfigurationError is returned from Start when the session configuration is rejected.
// The session never leaves idle.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ResourceAcquisitionFailure describes a mute, focus or routing change that could not be applied.
// It is advisory: the session continues.
type ResourceAcquisitionFailure struct {
	Resource string
	Err      error
}

func (e *ResourceAcquisitionFailure) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Resource, e.Err)
}

func (e *ResourceAcquisitionFailure) Unwrap() error {
	return e.Err
}

// CaptureFailure is an engine-reported failure during recording or paused.
type CaptureFailure struct {
	SessionID string
	Err       error
}

func (e *CaptureFailure) Error() string {
	return fmt.Sprintf("capture session %s failed: %v", e.SessionID, e.Err)
}

func (e *CaptureFailure) Unwrap() error {
	return e.Err
}
