package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenState(subject, sessionID string) *AuthState {
	return &AuthState{
		Scheme:    SchemeToken,
		SessionID: sessionID,
		Claims: &ClaimSet{
			Subject:   subject,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
}

// ---------------------------------------------------------------------------
// Basic propagation
// ---------------------------------------------------------------------------

func TestContextWithAuthState_RoundTrip(t *testing.T) {
	t.Parallel()
	state := tokenState("user-1", "sess-1")
	ctx := ContextWithAuthState(context.Background(), state)

	got, ok := AuthStateFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, state, got)
	assert.Equal(t, "user-1", got.Subject())
	assert.True(t, got.Authenticated())
}

func TestContextWithAuthState_NilStateIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Equal(t, ctx, ContextWithAuthState(ctx, nil))
}

func TestAuthStateFromContext_Absent(t *testing.T) {
	t.Parallel()
	_, ok := AuthStateFromContext(context.Background())
	assert.False(t, ok)
}

func TestCurrentAuthState_AnonymousFallback(t *testing.T) {
	t.Parallel()
	state := CurrentAuthState(context.Background())
	require.NotNil(t, state)
	assert.Equal(t, SchemeNone, state.Scheme)
	assert.False(t, state.Authenticated())
	assert.Empty(t, state.Subject())
}

// ---------------------------------------------------------------------------
// AuthState semantics
// ---------------------------------------------------------------------------

func TestAuthState_Authenticated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state *AuthState
		want  bool
	}{
		{name: "nil state", state: nil, want: false},
		{name: "token with claims", state: tokenState("user-1", "sess-1"), want: true},
		{
			name:  "assumed role with claims",
			state: &AuthState{Scheme: SchemeAssumedRole, Claims: &ClaimSet{Subject: "user-1"}},
			want:  true,
		},
		{name: "token without claims", state: &AuthState{Scheme: SchemeToken}, want: false},
		{name: "ambient", state: &AuthState{Scheme: SchemeAmbient}, want: false},
		{name: "none", state: &AuthState{Scheme: SchemeNone}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.state.Authenticated())
		})
	}
}

// ---------------------------------------------------------------------------
// Scope lifecycle
// ---------------------------------------------------------------------------

func TestEnterAuthScope_TeardownRevokesState(t *testing.T) {
	t.Parallel()
	ctx, done := EnterAuthScope(context.Background(), tokenState("user-1", "sess-1"))

	_, ok := AuthStateFromContext(ctx)
	require.True(t, ok)

	done()

	_, ok = AuthStateFromContext(ctx)
	assert.False(t, ok, "a torn-down scope must not expose its state")
	assert.Equal(t, SchemeNone, CurrentAuthState(ctx).Scheme)

	// Teardown is idempotent.
	done()
}

func TestEnterAuthScope_TeardownRunsOnPanic(t *testing.T) {
	t.Parallel()

	var leaked context.Context
	run := func() {
		defer func() { _ = recover() }()
		ctx, done := EnterAuthScope(context.Background(), tokenState("user-1", "sess-1"))
		defer done()
		leaked = ctx
		panic("handler blew up")
	}
	run()

	_, ok := AuthStateFromContext(leaked)
	assert.False(t, ok, "a panicking handler must still release its scope")
}

func TestEnterAuthScope_NilState(t *testing.T) {
	t.Parallel()
	base := context.Background()
	ctx, done := EnterAuthScope(base, nil)
	assert.Equal(t, base, ctx)
	done()
}

// ---------------------------------------------------------------------------
// Cross-request isolation
// ---------------------------------------------------------------------------

func TestAuthScope_CrossRequestIsolation(t *testing.T) {
	t.Parallel()

	// Simulate many concurrent requests, each with its own identity.
	// Every observation inside a request must see exactly that request's
	// subject, no matter how the scheduler interleaves them.
	const requests = 64
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subject := string(rune('a' + i%26))
			ctx, done := EnterAuthScope(context.Background(), tokenState(subject, "sess"))
			defer done()
			for range 100 {
				got := CurrentAuthState(ctx)
				if got.Subject() != subject {
					t.Errorf("observed subject %q inside request of %q", got.Subject(), subject)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestAuthScope_TeardownDoesNotAffectOtherScopes(t *testing.T) {
	t.Parallel()

	ctxA, doneA := EnterAuthScope(context.Background(), tokenState("user-a", "sess-a"))
	ctxB, doneB := EnterAuthScope(context.Background(), tokenState("user-b", "sess-b"))
	defer doneB()

	doneA()

	_, okA := AuthStateFromContext(ctxA)
	assert.False(t, okA)

	stateB, okB := AuthStateFromContext(ctxB)
	require.True(t, okB)
	assert.Equal(t, "user-b", stateB.Subject())
}
