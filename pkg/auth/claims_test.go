package auth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// basePayload returns a minimal valid token payload. Tests mutate the
// returned map freely.
func basePayload() map[string]any {
	return map[string]any{
		"sub": "user-1",
		"exp": float64(time.Now().Add(time.Hour).Unix()),
	}
}

func decodeOK(t *testing.T, payload map[string]any) *ClaimSet {
	t.Helper()
	cs, err := DecodeClaims(payload, DecodeOptions{})
	require.NoError(t, err)
	return cs
}

func requireDecodeCode(t *testing.T, payload map[string]any, code lgerr.Code) {
	t.Helper()
	_, err := DecodeClaims(payload, DecodeOptions{})
	require.Error(t, err)
	coded, ok := lgerr.AsError(err)
	require.True(t, ok, "expected *lgerr.Error, got %T", err)
	assert.Equal(t, code, coded.Code)
}

// ---------------------------------------------------------------------------
// Mandatory claims
// ---------------------------------------------------------------------------

func TestDecodeClaims_MissingSubject(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	delete(payload, "sub")
	requireDecodeCode(t, payload, lgerr.CodeTokenMissingClaim)
}

func TestDecodeClaims_MissingExpiry(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	delete(payload, "exp")
	requireDecodeCode(t, payload, lgerr.CodeTokenMissingClaim)
}

func TestDecodeClaims_MinimalPayload(t *testing.T) {
	t.Parallel()
	cs := decodeOK(t, basePayload())
	assert.Equal(t, "user-1", cs.Subject)
	assert.False(t, cs.ExpiresAt.IsZero())
	assert.Empty(t, cs.Permissions)
	assert.Empty(t, cs.Buckets)
	assert.Empty(t, cs.Roles)
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func TestDecodeClaims_CompactPermissionString(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["p"] = "rwl"
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, []string{"read", "write", "list"}, cs.PermissionList())
}

func TestDecodeClaims_CompactPermissionList(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["p"] = []any{"q", "x"}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, []string{"query", "admin"}, cs.PermissionList())
}

func TestDecodeClaims_UnknownPermissionCodeFails(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["p"] = "rz"
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_UnknownExpandedPermissionFails(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["permissions"] = []any{"read", "teleport"}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_MalformedExpandedClaimFails(t *testing.T) {
	t.Parallel()

	// A type-invalid expanded claim is a decode error, not a signal to
	// fall back to the compact key.
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "permissions", key: "permissions", value: []any{1, 2}},
		{name: "roles", key: "roles", value: []any{true}},
		{name: "buckets", key: "buckets", value: []any{map[string]any{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := basePayload()
			payload[tc.key] = tc.value
			payload["p"] = "r"
			requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
		})
	}
}

func TestDecodeClaims_ExpandedPermissionsWinOverCompact(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["permissions"] = []any{"read"}
	payload["p"] = "rwdlqx"
	cs := decodeOK(t, payload)
	assert.Equal(t, []string{"read"}, cs.PermissionList(),
		"expanded claim should shadow the compact claim entirely")
}

// ---------------------------------------------------------------------------
// Roles, scope, level
// ---------------------------------------------------------------------------

func TestDecodeClaims_CompactRoleString(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["r"] = "analyst, ingest"
	cs := decodeOK(t, payload)
	assert.Equal(t, []string{"analyst", "ingest"}, cs.Roles)
	assert.True(t, cs.HasRole("analyst"))
	assert.False(t, cs.HasRole("admin"))
}

func TestDecodeClaims_ExpandedRolesWin(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["roles"] = []any{"auditor"}
	payload["r"] = "analyst"
	cs := decodeOK(t, payload)
	assert.Equal(t, []string{"auditor"}, cs.Roles)
}

func TestDecodeClaims_ScopeAndLevelPrecedence(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["scope"] = "data:read data:write"
	payload["s"] = "ignored"
	payload["l"] = float64(3)
	cs := decodeOK(t, payload)
	assert.Equal(t, "data:read data:write", cs.Scope)
	assert.Equal(t, "3", cs.Level)
}

// ---------------------------------------------------------------------------
// Bucket encodings
// ---------------------------------------------------------------------------

func TestDecodeClaims_BucketGroups(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "groups",
		"_data": map[string]any{
			"sales": []any{"eu", "us"},
			"":      []any{"scratch"},
		},
	}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, []string{"sales-eu", "sales-us", "scratch"}, cs.BucketList())
}

func TestDecodeClaims_BucketGroupsRoundTrip(t *testing.T) {
	t.Parallel()
	names := []string{"sales-eu-1", "sales-us", "ops-logs", "scratch"}
	payload := basePayload()
	payload["b"] = EncodeCompactBuckets(names)
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, names, cs.BucketList())
}

func TestDecodeClaims_BucketPatternsAlternation(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "patterns",
		"_data": map[string]any{
			"team": []any{"{alpha,beta}-data"},
		},
	}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, []string{"team-alpha-data", "team-beta-data"}, cs.BucketList())
}

func TestDecodeClaims_BucketPatternsNumericRange(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "patterns",
		"_data": map[string]any{
			"": []any{"shard-[0-3]"},
		},
	}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t,
		[]string{"shard-0", "shard-1", "shard-2", "shard-3"},
		cs.BucketList())
}

func TestDecodeClaims_BucketPatternsGlobRetained(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "patterns",
		"_data": map[string]any{
			"logs": []any{"*"},
		},
	}
	cs := decodeOK(t, payload)
	require.Equal(t, []string{"logs-*"}, cs.BucketList())
	assert.True(t, cs.HasBucket("logs-2024"))
	assert.True(t, cs.HasBucket("logs-app"))
	assert.False(t, cs.HasBucket("metrics-app"))
}

func TestDecodeClaims_BucketPatternsUnterminatedBrace(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "patterns",
		"_data": map[string]any{"": []any{"team-{a,b"}},
	}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_BucketCompressedRoundTrip(t *testing.T) {
	t.Parallel()
	names := []string{"archive-2023", "archive-2024", "cold-storage"}
	blob, err := CompressBuckets(names)
	require.NoError(t, err)

	payload := basePayload()
	payload["b"] = map[string]any{"_type": "compressed", "_data": blob}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, names, cs.BucketList())
}

func TestDecodeClaims_BucketCompressedInvalidBase64(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{"_type": "compressed", "_data": "%%%not-base64%%%"}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_BucketCompressedCorruptStream(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	// Valid base64 over bytes that are not a DEFLATE stream.
	payload["b"] = map[string]any{"_type": "compressed", "_data": "bm90LWRlZmxhdGU="}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_UnknownBucketEncoding(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["b"] = map[string]any{"_type": "sharded", "_data": []any{}}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_ExpandedBucketsWin(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["buckets"] = []any{"direct-1", "direct-2"}
	payload["b"] = map[string]any{
		"_type": "groups",
		"_data": map[string]any{"other": []any{"x"}},
	}
	cs := decodeOK(t, payload)
	assert.ElementsMatch(t, []string{"direct-1", "direct-2"}, cs.BucketList())
}

// ---------------------------------------------------------------------------
// Bucket cardinality bound
// ---------------------------------------------------------------------------

func TestDecodeClaims_BucketBound(t *testing.T) {
	t.Parallel()

	overLimit := make([]any, DefaultMaxBuckets+1)
	for i := range overLimit {
		overLimit[i] = fmt.Sprintf("bucket-%03d", i)
	}

	tests := []struct {
		name    string
		payload func() map[string]any
	}{
		{
			name: "expanded list",
			payload: func() map[string]any {
				p := basePayload()
				p["buckets"] = overLimit
				return p
			},
		},
		{
			name: "groups",
			payload: func() map[string]any {
				suffixes := make([]any, DefaultMaxBuckets+1)
				for i := range suffixes {
					suffixes[i] = fmt.Sprintf("s%d", i)
				}
				p := basePayload()
				p["b"] = map[string]any{
					"_type": "groups",
					"_data": map[string]any{"big": suffixes},
				}
				return p
			},
		},
		{
			name: "patterns range",
			payload: func() map[string]any {
				p := basePayload()
				p["b"] = map[string]any{
					"_type": "patterns",
					"_data": map[string]any{"": []any{fmt.Sprintf("shard-[0-%d]", DefaultMaxBuckets)}},
				}
				return p
			},
		},
		{
			name: "compressed",
			payload: func() map[string]any {
				names := make([]string, DefaultMaxBuckets+1)
				for i := range names {
					names[i] = fmt.Sprintf("bucket-%03d", i)
				}
				blob, err := CompressBuckets(names)
				require.NoError(t, err)
				p := basePayload()
				p["b"] = map[string]any{"_type": "compressed", "_data": blob}
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			requireDecodeCode(t, tt.payload(), lgerr.CodeClaimDecode)
		})
	}
}

func TestDecodeClaims_BucketBoundAppliesAfterDedup(t *testing.T) {
	t.Parallel()

	// More raw entries than the bound, but only a handful of distinct
	// names after deduplication.
	dupes := make([]any, DefaultMaxBuckets*2)
	for i := range dupes {
		dupes[i] = fmt.Sprintf("bucket-%d", i%4)
	}
	payload := basePayload()
	payload["buckets"] = dupes
	cs := decodeOK(t, payload)
	assert.Len(t, cs.Buckets, 4)
}

func TestDecodeClaims_NestedRangeBoundedEarly(t *testing.T) {
	t.Parallel()

	// Nested numeric ranges multiply: each range is within the per-range
	// span limit, but the product describes roughly a billion names. The
	// decoder must reject this at the bucket bound without materializing
	// the expansion, so the test completes immediately.
	payload := basePayload()
	payload["b"] = map[string]any{
		"_type": "patterns",
		"_data": map[string]any{"": []any{"[0-1024]-[0-1024]-[0-1024]"}},
	}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

func TestDecodeClaims_CustomMaxBuckets(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["buckets"] = []any{"a-1", "a-2", "a-3"}
	_, err := DecodeClaims(payload, DecodeOptions{MaxBuckets: 2})
	require.Error(t, err)

	cs, err := DecodeClaims(payload, DecodeOptions{MaxBuckets: 3})
	require.NoError(t, err)
	assert.Len(t, cs.Buckets, 3)
}

// ---------------------------------------------------------------------------
// Embedded credentials
// ---------------------------------------------------------------------------

func TestDecodeClaims_EmbeddedCredentials(t *testing.T) {
	t.Parallel()
	expiry := time.Now().Add(15 * time.Minute).Unix()
	payload := basePayload()
	payload["credentials"] = map[string]any{
		"access_key":    "AKIA123",
		"secret_key":    "sekret",
		"session_token": "tok",
		"expiry":        float64(expiry),
	}
	cs := decodeOK(t, payload)
	require.NotNil(t, cs.Credentials)
	assert.Equal(t, "AKIA123", cs.Credentials.AccessKey)
	assert.Equal(t, "sekret", cs.Credentials.SecretKey.Value())
	assert.False(t, cs.Credentials.Expired(time.Now()))
	assert.True(t, cs.Credentials.Expired(time.Unix(expiry+1, 0)))
}

func TestDecodeClaims_EmbeddedCredentialsMissingAccessKey(t *testing.T) {
	t.Parallel()
	payload := basePayload()
	payload["credentials"] = map[string]any{"secret_key": "sekret"}
	requireDecodeCode(t, payload, lgerr.CodeClaimDecode)
}

// ---------------------------------------------------------------------------
// ClaimSet helpers
// ---------------------------------------------------------------------------

func TestClaimSet_HasBucketExactBeatsPattern(t *testing.T) {
	t.Parallel()
	cs := &ClaimSet{Buckets: map[string]struct{}{
		"exact-bucket": {},
		"logs-*":       {},
	}}
	assert.True(t, cs.HasBucket("exact-bucket"))
	assert.True(t, cs.HasBucket("logs-anything"))
	assert.False(t, cs.HasBucket("exact"))
}

func TestShortLivedCredentials_ZeroExpiryNeverExpires(t *testing.T) {
	t.Parallel()
	creds := &ShortLivedCredentials{AccessKey: "k"}
	assert.False(t, creds.Expired(time.Now().Add(100*time.Hour)))
}
