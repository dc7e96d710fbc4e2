package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// TokenOption mutates the claims of a token under construction.
type TokenOption func(claims jwt.MapClaims)

// WithClaim sets an arbitrary claim on the token.
func WithClaim(name string, value any) TokenOption {
	return func(claims jwt.MapClaims) {
		claims[name] = value
	}
}

// WithoutClaim removes a claim, including the defaults, so tests can
// build tokens missing mandatory fields.
func WithoutClaim(name string) TokenOption {
	return func(claims jwt.MapClaims) {
		delete(claims, name)
	}
}

// WithExpiry overrides the exp claim.
func WithExpiry(at time.Time) TokenOption {
	return func(claims jwt.MapClaims) {
		claims["exp"] = at.Unix()
	}
}

// SignToken builds an HS256 token with sensible defaults (sub, exp one
// hour out, iss "lakegate-idp") and the given overrides, signed with
// key.
func SignToken(t testing.TB, key string, opts ...TokenOption) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "lakegate-idp",
	}
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err, "failed to sign test token")
	return signed
}

// SignTokenWithKid is like [SignToken] but stamps a kid header so tests
// can exercise key selection.
func SignTokenWithKid(t testing.TB, key, kid string, opts ...TokenOption) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "lakegate-idp",
	}
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err, "failed to sign test token")
	return signed
}

// SignTokenWithMethod is like [SignToken] but with an explicit signing
// method, for tests that exercise algorithm rejection.
func SignTokenWithMethod(t testing.TB, method jwt.SigningMethod, key any, opts ...TokenOption) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iss": "lakegate-idp",
	}
	for _, opt := range opts {
		opt(claims)
	}
	token := jwt.NewWithClaims(method, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign test token")
	return signed
}
