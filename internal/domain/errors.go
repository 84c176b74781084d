package domain

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrInvalidJobSpec is returned when a submitted job spec is missing required fields
	ErrInvalidJobSpec = errors.New("invalid job spec")

	// ErrInvalidTaskMessage is returned when a queue message cannot be decoded into a RenderTask
	ErrInvalidTaskMessage = errors.New("invalid task message")

	// ErrJobNotFound is returned when a job record cannot be found in the metadata store
	ErrJobNotFound = errors.New("job not found")

	// ErrHandleExpired is returned when acknowledging a delivery whose handle is no longer valid
	ErrHandleExpired = errors.New("delivery handle expired or unknown")

	// ErrNoRenderOutput is returned when the engine exits cleanly but leaves no output artifact
	ErrNoRenderOutput = errors.New("render output not found")

	// ErrPartialEnqueue is returned when some task messages could not be enqueued
	ErrPartialEnqueue = errors.New("some tasks were not enqueued")
)

// ValidationError reports a malformed job spec or task message
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error wrapping sentinel
func NewValidationError(sentinel error, field, reason string) error {
	return &ValidationError{Field: field, Reason: reason, Err: sentinel}
}

// DependencyError wraps a failed call to the object store, queue or metadata store.
// Code, RequestID and StatusCode are filled when the backend reports them.
type DependencyError struct {
	Op         string
	Code       string
	RequestID  string
	StatusCode int
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency error: %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// LogAttrs returns the attributes operators need to trace the failed call
func (e *DependencyError) LogAttrs() []any {
	attrs := []any{slog.String("op", e.Op)}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", e.StatusCode))
	}
	return attrs
}

// NewDependencyError creates a dependency error for op
func NewDependencyError(op string, err error) *DependencyError {
	return &DependencyError{Op: op, Err: err}
}

// ExecutionError reports a renderer process that exited unsuccessfully
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s exited with code %d: %v", e.Command, e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports missing or invalid startup configuration
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "required configuration is missing: " + strings.Join(e.Missing, ", ")
	}
	return "invalid configuration: " + e.Reason
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsDependency reports whether err is a DependencyError
func IsDependency(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}

// IsExecution reports whether err is an ExecutionError
func IsExecution(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is a ConfigurationError
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// ErrorAttrs returns structured log attributes for err, expanding dependency details
func ErrorAttrs(err error) []any {
	attrs := []any{slog.String("error", err.Error())}

	var depErr *DependencyError
	if errors.As(err, &depErr) {
		attrs = append(attrs, depErr.LogAttrs()...)
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		attrs = append(attrs,
			slog.Int("exit_code", execErr.ExitCode),
			slog.String("stderr", execErr.Stderr),
		)
	}

	return attrs
}
