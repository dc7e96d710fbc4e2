package errors

// Code is a stable, machine-readable error code. Codes follow the pattern
// CATEGORY_XXX where CATEGORY groups related failures (AUTH, AUTHZ, VAL,
// ...) and XXX is a three-digit number that never changes once assigned.
//
// The category determines the HTTP status returned to API clients (see
// [Error.HTTPStatus]); the full code distinguishes failure modes within a
// category so that clients and operators can react programmatically. A
// token that failed its signature check and a token that simply expired
// both produce 401 responses, but they are different operational events
// and carry different codes.
type Code string

// Error code categories and their HTTP mappings:
//
//	VAL_xxx     - request/configuration validation (400 Bad Request)
//	AUTH_xxx    - authentication failures (401 Unauthorized)
//	AUTHZ_xxx   - authorization denials (403 Forbidden)
//	NF_xxx      - missing resources (404 Not Found)
//	INT_xxx     - internal failures (500 Internal Server Error)
//	UNAVAIL_xxx - upstream dependency failures (503 Service Unavailable)
//	TIMEOUT_xxx - deadline exceeded (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field or parameter
	// is missing.
	CodeValidationRequired Code = "VAL_002"

	// Authentication errors (AUTH_xxx) - HTTP 401
	//
	// Every structural or cryptographic failure of an access token is an
	// AUTH code. In strict mode these are hard failures; in optional mode
	// the gateway degrades to the ambient identity instead.

	// CodeAuthentication indicates a general authentication failure,
	// including an absent token where one is required.
	CodeAuthentication Code = "AUTH_001"

	// CodeTokenExpired indicates the access token's exp claim is in
	// the past (beyond the configured clock skew).
	CodeTokenExpired Code = "AUTH_002"

	// CodeTokenMalformed indicates the token is not structurally a
	// signed three-part token, is oversized, or cannot be parsed.
	CodeTokenMalformed Code = "AUTH_003"

	// CodeTokenSignature indicates the token parsed but its signature
	// did not verify against the configured key material.
	CodeTokenSignature Code = "AUTH_004"

	// CodeTokenMissingClaim indicates a mandatory claim (subject or
	// expiry) is absent from an otherwise valid token.
	CodeTokenMissingClaim Code = "AUTH_005"

	// CodeClaimDecode indicates the token's claim payload could not be
	// expanded into canonical form: an unknown compact permission code,
	// a malformed bucket encoding, a corrupt compressed blob, or an
	// expansion that exceeds the configured bucket limit. Decoding
	// failures are never downgraded to partial claim sets.
	CodeClaimDecode Code = "AUTH_006"

	// CodeSessionExpired indicates a session record existed but aged
	// past its TTL and was evicted.
	CodeSessionExpired Code = "AUTH_007"

	// Authorization errors (AUTHZ_xxx) - HTTP 403
	//
	// The caller is authenticated but the requested operation or bucket
	// is outside its granted claims.

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAccessDenied indicates the identity lacks a required
	// permission or is not granted the target bucket. The missing
	// permission or bucket is named in the error details.
	CodeAccessDenied Code = "AUTHZ_002"

	// CodeOperationUnknown indicates the requested operation has no
	// entry in the permission table. Unknown operations are always
	// denied.
	CodeOperationUnknown Code = "AUTHZ_003"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound Code = "NF_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a storage operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates invalid or unloadable
	// configuration.
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates a general availability failure.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeRoleAssumption indicates the upstream trust provider refused
	// or failed a credential exchange. This is a dependency failure,
	// deliberately distinct from the AUTH category: the caller's token
	// was fine, the exchange was not. Failures are negative-cached
	// briefly and may succeed on retry.
	CodeRoleAssumption Code = "UNAVAIL_002"

	// CodeUnavailableDependency indicates another backing service
	// (cache, store) is unreachable.
	CodeUnavailableDependency Code = "UNAVAIL_003"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDependency indicates a call to a backing service
	// timed out.
	CodeTimeoutDependency Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
