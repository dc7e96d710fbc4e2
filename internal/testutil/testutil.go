// Package testutil provides shared test helpers for the LakeGate core
// SDK.
//
// All helpers accept [testing.TB] for compatibility with both tests and
// benchmarks. Functions that halt the test on failure use [require] from
// testify; functions that record failures without stopping use [assert].
//
// Every helper calls t.Helper() so that test failure messages report the
// caller's file and line number rather than this package's.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, is not an
// *lgerr.Error, or does not carry the expected error code. This is the
// primary helper for validating platform error responses.
//
// Example:
//
//	_, err := validator.Validate(ctx, raw)
//	testutil.RequireErrorCode(t, err, lgerr.CodeTokenExpired)
func RequireErrorCode(t testing.TB, err error, code lgerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	lgErr, ok := lgerr.AsError(err)
	require.True(t, ok, "expected *lgerr.Error, got %T: %v", err, err)
	require.Equal(t, code, lgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		lgErr.Code, code, lgErr.Message)
}

// AssertErrorCode records a test failure (without halting) if err is
// nil, is not an *lgerr.Error, or does not carry the expected error
// code. Use this in table-driven tests where you want to check all rows.
func AssertErrorCode(t testing.TB, err error, code lgerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	lgErr, ok := lgerr.AsError(err)
	if !assert.True(t, ok, "expected *lgerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, lgErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		lgErr.Code, code, lgErr.Message)
}

// TempConfigFile creates a temporary file with the given content and
// extension (e.g., ".yaml", ".json") inside t.TempDir(). The file is
// cleaned up when the test finishes.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config"+ext)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp config file %s", path)
	return path
}

// AssertJSONContains marshals v to JSON and asserts that the resulting
// string contains the expected substring.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.Contains(t, string(data), expected,
		"expected JSON to contain %q, got: %s", expected, string(data))
}

// AssertJSONNotContains marshals v to JSON and asserts that the
// resulting string does not contain the unexpected substring. Useful
// for verifying that sensitive fields are redacted.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.NotContains(t, string(data), unexpected,
		"expected JSON to NOT contain %q, got: %s", unexpected, string(data))
}
