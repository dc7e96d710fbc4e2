package errors

import (
	"encoding/json"
	"net/http"
)

// ResponseBody is the wire shape of an error returned by protected
// operations: a short error description and a remediation hint telling the
// caller what to do about it. Both fields are safe to show to end users.
type ResponseBody struct {
	Error       string `json:"error"`
	Remediation string `json:"remediation"`
}

// remediationHints maps error codes to caller-actionable guidance. Codes
// without an entry fall back to a category-level hint.
var remediationHints = map[Code]string{
	CodeAuthentication:    "supply a valid bearer token in the Authorization header",
	CodeTokenExpired:      "obtain a fresh token from the identity provider and retry",
	CodeTokenMalformed:    "supply a well-formed signed token in the Authorization header",
	CodeTokenSignature:    "obtain a token signed by the configured identity provider",
	CodeTokenMissingClaim: "request a token that includes subject and expiry claims",
	CodeClaimDecode:       "request a token with valid claim encodings within the bucket limit",
	CodeSessionExpired:    "re-authenticate to establish a new session",
	CodeAccessDenied:      "request access to the named permission or bucket from your administrator",
	CodeOperationUnknown:  "check the operation name against the API reference",
	CodeRoleAssumption:    "retry shortly; the trust provider did not complete the exchange",
}

// categoryHints provides fallback remediation per code category.
var categoryHints = map[string]string{
	"VAL":     "correct the request and retry",
	"AUTH":    "authenticate and retry",
	"AUTHZ":   "request the missing access from your administrator",
	"NF":      "check the resource identifier",
	"UNAVAIL": "retry after a short delay",
	"TIMEOUT": "retry after a short delay",
}

// Body returns the wire representation of the error.
func (e *Error) Body() ResponseBody {
	hint, ok := remediationHints[e.Code]
	if !ok {
		hint = categoryHints[e.Code.Category()]
	}
	if hint == "" {
		hint = "contact the platform operators if the problem persists"
	}
	return ResponseBody{Error: e.Error(), Remediation: hint}
}

// WriteHTTP renders err as a JSON error response with the status implied
// by its code category. Errors that are not *Error are rendered as a
// generic internal failure so that unclassified causes never leak
// implementation detail to clients.
func WriteHTTP(w http.ResponseWriter, err error) {
	e, ok := AsError(err)
	if !ok {
		e = New(CodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e.Body())
}
