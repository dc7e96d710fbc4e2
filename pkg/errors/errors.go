// Package errors provides structured, coded errors for the LakeGate
// data-access platform.
//
// Every failure that crosses a package boundary in LakeGate is an [*Error]
// carrying a stable [Code], a human-readable message, an optional cause,
// and optional structured details. The code's category maps onto the HTTP
// status returned to API clients, so the authentication core can classify
// a failure once (token expired, signature invalid, bucket not granted)
// and every transport layer renders it consistently.
//
// Messages are written for API consumers: they name the failing condition
// (the missing permission, the unrecognized operation) but never include
// secret material or raw token contents.
package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a stable code, message, optional cause,
// and optional details. It implements the standard error interface and
// participates in errors.Is / errors.As chains via Unwrap.
//
// Error values are immutable after creation; WithDetails and WithDetail
// return copies.
type Error struct {
	// Code is the machine-readable error code (e.g., "AUTH_002").
	Code Code

	// Message is the human-readable error message. It may be shown to
	// API clients and must not contain secrets or raw tokens.
	Message string

	// Cause is the underlying error, if any. Accessible via Unwrap.
	Cause error

	// Details carries additional structured context: the missing
	// permission, the denied bucket, the unrecognized operation name.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the HTTP status code implied by the error's
// code category.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "INT":
		return http.StatusInternalServerError
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns a copy of the error with the given details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Cause: e.Cause, Details: merged}
}

// WithDetail returns a copy of the error with a single detail added.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Format implements fmt.Formatter. %v prints the standard message; %+v
// additionally prints details and the full cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fmt.Fprint(s, e.Error())
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
