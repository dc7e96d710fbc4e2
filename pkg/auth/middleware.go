package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lakegate/lakegate-core/pkg/audit"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// HTTP headers understood by the middleware.
const (
	// HeaderAuthorization carries the bearer token.
	HeaderAuthorization = "Authorization"

	// HeaderSession carries the session id. The middleware generates
	// one when absent and always echoes the effective id back on the
	// response.
	HeaderSession = "X-Lakegate-Session"

	// HeaderRole names the access role the request wants to operate
	// under.
	HeaderRole = "X-Lakegate-Role"
)

// bearerPrefix is the expected Authorization scheme prefix.
const bearerPrefix = "Bearer "

// ExtractBearerToken returns the token portion of an Authorization
// header value, or "" when the value does not carry a bearer token. The
// scheme comparison is case-insensitive per RFC 7235.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// MiddlewareConfig configures [Middleware].
type MiddlewareConfig struct {
	// Validator verifies bearer tokens. Required.
	Validator *Validator

	// Sessions caches validation results across requests. Required.
	Sessions SessionStore

	// Exchange performs role credential exchanges. Optional; when nil,
	// requests carrying a role header are refused.
	Exchange *ExchangeManager

	// Strict rejects unauthenticated requests with 401. When false,
	// unauthenticated requests proceed under AmbientState (or an
	// anonymous state), for read-only surfaces that degrade to public
	// data.
	Strict bool

	// AmbientState is the fallback state for unauthenticated requests
	// in non-strict mode. Nil means an anonymous SchemeNone state.
	AmbientState *AuthState

	// Audit records access trail events. Optional.
	Audit audit.Recorder

	// Logger receives middleware warnings. Nil means slog.Default.
	Logger *slog.Logger
}

func (c *MiddlewareConfig) validate() error {
	if c.Validator == nil {
		return lgerr.New(lgerr.CodeValidation, "auth: middleware requires a validator")
	}
	if c.Sessions == nil {
		return lgerr.New(lgerr.CodeValidation, "auth: middleware requires a session store")
	}
	return nil
}

func (c *MiddlewareConfig) effectiveLogger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Middleware returns an HTTP middleware that authenticates requests and
// installs per-request [AuthState] on the context.
//
// Per request:
//  1. Read the bearer token and session id headers; generate a fresh
//     session id when none was sent. The effective id is echoed back in
//     the response so clients can adopt it.
//  2. A live session record short-circuits validation: the cached
//     claims are adopted as-is.
//  3. Otherwise a present token is validated. Success stores a new
//     session record; failure invalidates any stale record and, in
//     strict mode, ends the request with a 401 `{error, remediation}`
//     body.
//  4. A role header triggers a credential exchange; failure ends the
//     request with a 503 role-assumption body.
//  5. The assembled state enters the context via [EnterAuthScope]. The
//     teardown is deferred, so it runs on every exit path; a panicking
//     handler releases its scope before the panic continues to the
//     server's recovery.
//
// Authentication outcomes are recorded on the configured audit recorder
// best-effort.
func Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &middleware{cfg: cfg, logger: cfg.effectiveLogger()}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}, nil
}

type middleware struct {
	cfg    MiddlewareConfig
	logger *slog.Logger
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
	sessionID := r.Header.Get(HeaderSession)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(HeaderSession, sessionID)

	state := &AuthState{Scheme: SchemeNone, SessionID: sessionID}

	// A live session record means this token already passed validation
	// on an earlier request.
	if rec, err := m.cfg.Sessions.Lookup(ctx, sessionID); err == nil {
		state.Scheme = SchemeToken
		state.Claims = rec.Claims
	} else if token != "" {
		claims, verr := m.cfg.Validator.Validate(ctx, token)
		if verr != nil {
			// The session entry, if any, refers to a token that no
			// longer verifies.
			if ierr := m.cfg.Sessions.Invalidate(ctx, sessionID); ierr != nil {
				m.logger.Warn("session invalidation failed",
					"session_id", sessionID,
					"error", ierr,
				)
			}
			m.recordRejection(r, sessionID, verr)
			if m.cfg.Strict {
				lgerr.WriteHTTP(w, verr)
				return
			}
		} else {
			if serr := m.cfg.Sessions.Store(ctx, &SessionRecord{
				SessionID: sessionID,
				Subject:   claims.Subject,
				Claims:    claims,
			}); serr != nil {
				// The request is still authenticated; only the cache
				// missed out.
				m.logger.Warn("session store failed",
					"session_id", sessionID,
					"error", serr,
				)
			}
			state.Scheme = SchemeToken
			state.Claims = claims
			m.recordAuth(r, sessionID, claims.Subject)
		}
	}

	if state.Scheme == SchemeNone {
		if m.cfg.Strict {
			lgerr.WriteHTTP(w, lgerr.New(lgerr.CodeAuthentication,
				"auth: request is not authenticated"))
			return
		}
		if m.cfg.AmbientState != nil {
			ambient := *m.cfg.AmbientState
			ambient.SessionID = sessionID
			state = &ambient
		} else {
			state.Scheme = SchemeAmbient
		}
	}

	if role := r.Header.Get(HeaderRole); role != "" && state.Claims != nil {
		if !state.Claims.HasRole(role) {
			err := lgerr.AccessDeniedf("role %q is not granted to this identity", role)
			m.recordDenial(r, state, "", "", err.Message)
			lgerr.WriteHTTP(w, err)
			return
		}
		if m.cfg.Exchange == nil {
			lgerr.WriteHTTP(w, lgerr.New(lgerr.CodeRoleAssumption,
				"auth: role assumption is not available"))
			return
		}
		creds, err := m.cfg.Exchange.Activate(ctx, state.Claims.Subject, role)
		if err != nil {
			m.recordRejection(r, sessionID, err)
			lgerr.WriteHTTP(w, err)
			return
		}
		state.Scheme = SchemeAssumedRole
		state.ActiveRole = role
		state.Credentials = creds
		m.recordRoleAssumed(r, state, role)
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.SetAttributes(
			attribute.String("auth.scheme", string(state.Scheme)),
			attribute.String("auth.session_id", sessionID),
		)
	}

	ctx, done := EnterAuthScope(ctx, state)
	defer done()
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *middleware) recordAuth(r *http.Request, sessionID, subject string) {
	ev := audit.NewEvent(audit.KindAuthenticated)
	ev.SessionID = sessionID
	ev.Subject = subject
	audit.RecordBestEffort(r.Context(), m.cfg.Audit, m.logger, ev)
}

func (m *middleware) recordRejection(r *http.Request, sessionID string, cause error) {
	ev := audit.NewEvent(audit.KindRejected)
	ev.SessionID = sessionID
	ev.Reason = cause.Error()
	audit.RecordBestEffort(r.Context(), m.cfg.Audit, m.logger, ev)
}

func (m *middleware) recordDenial(r *http.Request, state *AuthState, operation, bucket, reason string) {
	ev := audit.NewEvent(audit.KindDenied)
	ev.SessionID = state.SessionID
	ev.Subject = state.Subject()
	ev.Operation = operation
	ev.Bucket = bucket
	ev.Reason = reason
	audit.RecordBestEffort(r.Context(), m.cfg.Audit, m.logger, ev)
}

func (m *middleware) recordRoleAssumed(r *http.Request, state *AuthState, role string) {
	ev := audit.NewEvent(audit.KindRoleAssumed)
	ev.SessionID = state.SessionID
	ev.Subject = state.Subject()
	ev.Role = role
	audit.RecordBestEffort(r.Context(), m.cfg.Audit, m.logger, ev)
}

// BucketFunc extracts the target bucket from a request, for operations
// scoped to one bucket. Returning "" skips the resource check.
type BucketFunc func(r *http.Request) string

// RequireOperation wraps a handler with an authorization check for one
// operation. The request must carry an authenticated [AuthState]; the
// policy decides against its claims and the bucket extracted by
// bucketFn (nil for bucket-independent operations).
//
// Denials produce a 403 `{error, remediation}` body whose error message
// names the unmet requirement. A missing or unauthenticated state
// produces a 401.
func RequireOperation(policy *Policy, operation string, bucketFn BucketFunc, rec audit.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := CurrentAuthState(r.Context())
		if !state.Authenticated() {
			lgerr.WriteHTTP(w, lgerr.New(lgerr.CodeAuthentication,
				"auth: request is not authenticated"))
			return
		}
		bucket := ""
		if bucketFn != nil {
			bucket = bucketFn(r)
		}
		d := policy.Decide(operation, bucket, state.Claims)
		ev := audit.NewEvent(audit.KindAllowed)
		ev.SessionID = state.SessionID
		ev.Subject = state.Subject()
		ev.Operation = operation
		ev.Bucket = bucket
		if !d.Allowed {
			ev.Kind = audit.KindDenied
			ev.Reason = d.Reason
			audit.RecordBestEffort(r.Context(), rec, nil, ev)
			lgerr.WriteHTTP(w, policy.Authorize(operation, bucket, state.Claims))
			return
		}
		audit.RecordBestEffort(r.Context(), rec, nil, ev)
		next.ServeHTTP(w, r)
	})
}
