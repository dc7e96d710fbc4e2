package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error, traversing the error
// chain with errors.As. Returns the Error and true on success.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error, or "" if the error is nil
// or not an *Error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the error carries the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsAuthentication reports whether the error is an authentication failure
// (AUTH_xxx). These map to HTTP 401 and, in optional mode, degrade to the
// ambient identity instead of failing the request.
func IsAuthentication(err error) bool {
	return GetCode(err).Category() == "AUTH"
}

// IsAuthorization reports whether the error is an authorization denial
// (AUTHZ_xxx). These map to HTTP 403 and are never degraded.
func IsAuthorization(err error) bool {
	return GetCode(err).Category() == "AUTHZ"
}

// IsValidation reports whether the error is a validation failure (VAL_xxx).
func IsValidation(err error) bool {
	return GetCode(err).Category() == "VAL"
}

// IsUnavailable reports whether the error is an upstream dependency
// failure (UNAVAIL_xxx), such as a failed credential exchange.
func IsUnavailable(err error) bool {
	return GetCode(err).Category() == "UNAVAIL"
}

// IsNotFound reports whether the error is a not-found failure (NF_xxx).
func IsNotFound(err error) bool {
	return GetCode(err).Category() == "NF"
}

// IsInternal reports whether the error is an internal failure (INT_xxx).
// These map to HTTP 500 and should be logged with full detail while the
// client sees a generic message.
func IsInternal(err error) bool {
	return GetCode(err).Category() == "INT"
}

// IsTimeout reports whether the error is a dependency timeout
// (TIMEOUT_xxx). These map to HTTP 504.
func IsTimeout(err error) bool {
	return GetCode(err).Category() == "TIMEOUT"
}
