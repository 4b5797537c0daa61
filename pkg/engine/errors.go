package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an installer failure for retry and rollback decisions.
type ErrorKind string

const (
	// KindValidation indicates a critical pre-flight check failed.
	// Never retried because the input did not change.
	KindValidation ErrorKind = "validation_error"

	// KindDependency indicates an external tool could not be satisfied after
	// exhausting every strategy. Retried up to the per-dependency bound.
	KindDependency ErrorKind = "dependency_error"

	// KindScaffold indicates a filesystem mutation failed and was rolled back.
	KindScaffold ErrorKind = "scaffold_error"

	// KindConfiguration indicates the install plan is malformed or incomplete.
	KindConfiguration ErrorKind = "configuration_error"

	// KindUserAbort indicates explicit cancellation at a confirmation gate or by signal.
	KindUserAbort ErrorKind = "user_abort"

	// KindAutomation indicates any other unexpected internal fault.
	KindAutomation ErrorKind = "automation_fault"
)

// InstallError represents a classified installer error with context.
type InstallError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the pipeline step that failed, if applicable.
	Step string `json:"step,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Transient marks automation faults that may succeed when repeated.
	Transient bool `json:"transient,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	msg := e.Message
	if e.Step != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (step=%s, operation=%s)", msg, e.Step, e.Operation)
	} else if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *InstallError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func newError(kind ErrorKind, message string, err error) *InstallError {
	return &InstallError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *InstallError {
	return newError(KindValidation, message, err).WithCode(ErrCodeValidation)
}

// NewDependencyError creates a new dependency error.
func NewDependencyError(message string, err error) *InstallError {
	return newError(KindDependency, message, err).WithCode(ErrCodeDependencyUnsatisfied)
}

// NewScaffoldError creates a new scaffold error.
func NewScaffoldError(message string, err error) *InstallError {
	return newError(KindScaffold, message, err).WithCode(ErrCodeScaffoldFailed)
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *InstallError {
	return newError(KindConfiguration, message, err).WithCode(ErrCodeInvalidConfig)
}

// NewUserAbort creates a new user abort.
func NewUserAbort(message string) *InstallError {
	return newError(KindUserAbort, message, nil).WithCode(ErrCodeCancelled)
}

// NewAutomationFault creates a new automation fault.
func NewAutomationFault(message string, err error) *InstallError {
	return newError(KindAutomation, message, err).WithCode(ErrCodeInternal)
}

// WithStep adds step context to an error.
func (e *InstallError) WithStep(step string) *InstallError {
	e.Step = step
	return e
}

// WithOperation adds operation context to an error.
func (e *InstallError) WithOperation(operation string) *InstallError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *InstallError) WithCode(code string) *InstallError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *InstallError) WithDetail(key string, value interface{}) *InstallError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsTransient marks an automation fault as worth repeating.
func (e *InstallError) AsTransient() *InstallError {
	e.Transient = true
	return e
}

// KindOf returns the classification of err, or KindAutomation when err is
// not an InstallError.
func KindOf(err error) ErrorKind {
	var e *InstallError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAutomation
}

func hasKind(err error, kind ErrorKind) bool {
	var e *InstallError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool { return hasKind(err, KindValidation) }

// IsDependency returns true if the error is a dependency error.
func IsDependency(err error) bool { return hasKind(err, KindDependency) }

// IsScaffold returns true if the error is a scaffold error.
func IsScaffold(err error) bool { return hasKind(err, KindScaffold) }

// IsConfiguration returns true if the error is a configuration error.
func IsConfiguration(err error) bool { return hasKind(err, KindConfiguration) }

// IsUserAbort returns true if the error is a user cancellation.
func IsUserAbort(err error) bool { return hasKind(err, KindUserAbort) }

// IsRetryable returns true if the error can be retried.
// Dependency errors are retryable; automation faults only when marked transient.
func IsRetryable(err error) bool {
	var e *InstallError
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindDependency:
		return true
	case KindAutomation:
		return e.Transient
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeValidation            = "VALIDATION_FAILED"
	ErrCodeDependencyUnsatisfied = "DEPENDENCY_UNSATISFIED"
	ErrCodeVersionTooOld         = "VERSION_TOO_OLD"
	ErrCodeRetriesExhausted      = "RETRIES_EXHAUSTED"
	ErrCodeScaffoldFailed        = "SCAFFOLD_FAILED"
	ErrCodeInvalidConfig         = "INVALID_CONFIG"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeDiskSpace             = "INSUFFICIENT_DISK"
	ErrCodeUnsupportedOS         = "UNSUPPORTED_OS"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeInternal              = "INTERNAL_ERROR"
)
