package errors

import (
	"fmt"
)

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error; the wrapped error becomes the Cause.
// Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
// Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// AccessDenied creates an authorization denial naming the specific reason.
// The reason is carried both in the message and in the "reason" detail so
// callers never receive a generic "denied".
func AccessDenied(reason string) *Error {
	return New(CodeAccessDenied, reason).WithDetail("reason", reason)
}

// AccessDeniedf creates an authorization denial with a formatted reason.
func AccessDeniedf(format string, args ...any) *Error {
	return AccessDenied(fmt.Sprintf(format, args...))
}

// RoleAssumptionFailed creates an upstream credential-exchange failure for
// the named role. The role is carried in the details for diagnostics; the
// upstream error is the cause.
func RoleAssumptionFailed(role string, cause error) *Error {
	e := Newf(CodeRoleAssumption, "credential exchange for role %q failed", role)
	e.Cause = cause
	return e.WithDetail("role", role)
}
