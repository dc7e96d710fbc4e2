package auth

import (
	"context"
	"sync/atomic"
)

// Scheme labels how a request was authenticated.
type Scheme string

const (
	// SchemeNone marks an unauthenticated request.
	SchemeNone Scheme = "none"

	// SchemeToken marks a request authenticated by a bearer token.
	SchemeToken Scheme = "token"

	// SchemeAssumedRole marks a token-authenticated request operating
	// under exchanged role credentials.
	SchemeAssumedRole Scheme = "assumed-role"

	// SchemeAmbient marks a request running under the gateway's own
	// configured identity, used by optional-auth surfaces.
	SchemeAmbient Scheme = "ambient"
)

// AuthState is the complete authentication state of one request. It
// travels on the request's context.Context and nowhere else, so two
// requests can never observe each other's state: each context chain is
// private to its request by construction.
type AuthState struct {
	// Scheme records how the request authenticated.
	Scheme Scheme

	// SessionID is the session this request runs under, empty for
	// unauthenticated or ambient requests.
	SessionID string

	// Claims holds the expanded claims, nil when Scheme is none or
	// ambient.
	Claims *ClaimSet

	// ActiveRole is the assumed access role, empty when none is
	// active.
	ActiveRole string

	// Credentials are the exchanged role credentials backing
	// ActiveRole, nil otherwise.
	Credentials *ShortLivedCredentials

	// Extras carries small request-scoped annotations (request id,
	// client address) for audit events. Never secret material.
	Extras map[string]string
}

// Subject returns the authenticated subject, or "" when anonymous.
func (s *AuthState) Subject() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	return s.Claims.Subject
}

// Authenticated reports whether the state carries verified claims.
func (s *AuthState) Authenticated() bool {
	return s != nil && (s.Scheme == SchemeToken || s.Scheme == SchemeAssumedRole) && s.Claims != nil
}

// authScope pairs a state with a liveness flag. Context values are
// immutable, but a handler can exit (or panic) while spawned goroutines
// still hold its context; the flag lets teardown revoke the state so
// such stragglers observe an anonymous request instead of a dead one's
// identity.
type authScope struct {
	state    *AuthState
	released atomic.Bool
}

// contextKey is a private key type so no other package can collide with
// or forge the auth state entry.
type contextKey struct{}

var authStateKey contextKey

// ContextWithAuthState returns a context carrying state. Passing nil
// state returns ctx unchanged.
func ContextWithAuthState(ctx context.Context, state *AuthState) context.Context {
	if state == nil {
		return ctx
	}
	return context.WithValue(ctx, authStateKey, &authScope{state: state})
}

// AuthStateFromContext extracts the auth state from ctx. The second
// return is false when no state is present or its scope has been torn
// down.
func AuthStateFromContext(ctx context.Context) (*AuthState, bool) {
	scope, ok := ctx.Value(authStateKey).(*authScope)
	if !ok || scope.released.Load() {
		return nil, false
	}
	return scope.state, true
}

// CurrentAuthState returns the auth state from ctx, or an anonymous
// state when none is present. The result is never nil, so call sites
// can read fields without a presence check.
func CurrentAuthState(ctx context.Context) *AuthState {
	if state, ok := AuthStateFromContext(ctx); ok {
		return state
	}
	return &AuthState{Scheme: SchemeNone}
}

// EnterAuthScope installs state on ctx and returns the derived context
// together with a teardown function. The teardown revokes the state so
// anything still holding the derived context afterwards sees an
// anonymous request; it is idempotent and safe under panic:
//
//	ctx, done := auth.EnterAuthScope(ctx, state)
//	defer done()
//
// Because the teardown runs in a defer, a panicking handler still
// releases its scope before the panic propagates, and the recovery path
// can never run with the crashed request's identity.
func EnterAuthScope(ctx context.Context, state *AuthState) (context.Context, func()) {
	if state == nil {
		return ctx, func() {}
	}
	scope := &authScope{state: state}
	done := func() { scope.released.Store(true) }
	return context.WithValue(ctx, authStateKey, scope), done
}
