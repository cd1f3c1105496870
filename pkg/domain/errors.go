package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures raised by the entity core and the portal.
type ErrorCode string

const (
	// CodeValidationFailed indicates a save attempted while invalid or mid-edit.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeUnsupportedOperation indicates an operation invoked in the wrong role.
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// CodeSecurityViolation indicates a missing or disallowed principal.
	CodeSecurityViolation ErrorCode = "SECURITY_VIOLATION"

	// CodeOwnershipConflict indicates a child already owned by another collection.
	CodeOwnershipConflict ErrorCode = "OWNERSHIP_CONFLICT"
)

// ErrNotSupported is returned by persistence hooks that an entity does not implement.
var ErrNotSupported = errors.New("operation not supported")

// Error is the structured failure returned by entities, rules and the portal.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed, e.g. "save" or "insert".
	Op string

	// Message is a human-readable description.
	Message string

	// Broken carries the broken rules for validation failures.
	Broken BrokenRules

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Code, e.Op, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationFailed error.
func NewValidationError(op, message string, broken BrokenRules) *Error {
	return &Error{Code: CodeValidationFailed, Op: op, Message: message, Broken: broken}
}

// NewUnsupportedError creates an UnsupportedOperation error.
func NewUnsupportedError(op, message string) *Error {
	return &Error{Code: CodeUnsupportedOperation, Op: op, Message: message}
}

// NewSecurityError creates a SecurityViolation error.
func NewSecurityError(op, message string) *Error {
	return &Error{Code: CodeSecurityViolation, Op: op, Message: message}
}

// NewOwnershipError creates an OwnershipConflict error.
func NewOwnershipError(op, message string) *Error {
	return &Error{Code: CodeOwnershipConflict, Op: op, Message: message}
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsValidationFailed reports whether err is a ValidationFailed error.
func IsValidationFailed(err error) bool { return hasCode(err, CodeValidationFailed) }

// IsUnsupported reports whether err is an UnsupportedOperation error or
// wraps ErrNotSupported.
func IsUnsupported(err error) bool {
	return hasCode(err, CodeUnsupportedOperation) || errors.Is(err, ErrNotSupported)
}

// IsSecurityViolation reports whether err is a SecurityViolation error.
func IsSecurityViolation(err error) bool { return hasCode(err, CodeSecurityViolation) }

// IsOwnershipConflict reports whether err is an OwnershipConflict error.
func IsOwnershipConflict(err error) bool { return hasCode(err, CodeOwnershipConflict) }

// ServerFault marks a failure raised by a persistence hook, as opposed to a
// failure of the dispatch machinery or the transport.
type ServerFault struct {
	Operation Operation
	Type      string
	Hook      Hook

	// Object is the business object as it was when the hook failed, if known.
	Object any

	Cause error
}

// Error implements the error interface.
func (f *ServerFault) Error() string {
	return fmt.Sprintf("server fault: %s %s (%s): %v", f.Operation, f.Type, f.Hook, f.Cause)
}

// Unwrap exposes the hook's original error.
func (f *ServerFault) Unwrap() error { return f.Cause }

// AsServerFault extracts a ServerFault from err.
func AsServerFault(err error) (*ServerFault, bool) {
	var sf *ServerFault
	if errors.As(err, &sf) {
		return sf, true
	}
	return nil, false
}
