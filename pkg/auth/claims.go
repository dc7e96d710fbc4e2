// Package auth is the authentication, session-isolation, and authorization
// core of the LakeGate data-access platform.
//
// Every protected operation in LakeGate flows through this package: the
// middleware extracts a signed access token and session identifier from
// the request, the [Validator] verifies the token and expands its compact
// claim encoding into a canonical [ClaimSet], the [SessionStore] caches the
// validated identity for the session's lifetime, and the [Policy] gates
// each operation against the caller's permissions and granted buckets. The
// [ExchangeManager] trades a validated identity for short-lived,
// bucket-scoped credentials when a request names an access role.
//
// Isolation:
//
// The per-request authentication state ([AuthState]) travels exclusively
// through context.Context. It is never stored in package-level variables
// and never shared by reference across requests, so one tenant's
// credentials or trust level cannot leak into another tenant's concurrently
// executing request. The middleware installs the state on entry and
// restores the previous ambient state on every exit path, including panics.
//
// Security:
//
// Raw tokens and secret material never appear in error messages, logs, or
// trace attributes. Session cache keys are derived identifiers, and the
// [Secret] type redacts itself in every text representation.
package auth

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// Canonical permission names. Tokens carry these either expanded (the
// "permissions" claim) or as single-letter compact codes (the "p" claim).
// The authorization table in authorize.go references only these names.
const (
	PermissionRead   = "read"
	PermissionWrite  = "write"
	PermissionDelete = "delete"
	PermissionList   = "list"
	PermissionQuery  = "query"
	PermissionAdmin  = "admin"
)

// compactPermissionCodes maps the wire's single-letter permission codes to
// canonical permission names. An unknown code is a decoding failure, never
// a silent drop: dropping a code the issuer meant to grant would
// under-grant, and guessing would over-grant.
var compactPermissionCodes = map[string]string{
	"r": PermissionRead,
	"w": PermissionWrite,
	"d": PermissionDelete,
	"l": PermissionList,
	"q": PermissionQuery,
	"x": PermissionAdmin,
}

// permissionUniverse is the set of canonical permission names, used to
// validate both expanded claims and the static authorization table.
var permissionUniverse = func() map[string]struct{} {
	u := make(map[string]struct{}, len(compactPermissionCodes))
	for _, name := range compactPermissionCodes {
		u[name] = struct{}{}
	}
	return u
}()

// DefaultMaxBuckets bounds the size of a token's expanded bucket set. A
// compact encoding that expands past the bound fails decoding outright;
// truncating would grant or deny access non-deterministically depending on
// expansion order.
const DefaultMaxBuckets = 32

// maxDecompressedBucketBytes caps the output of the compressed bucket
// arm's inflate step (decompression bomb guard).
const maxDecompressedBucketBytes = 1 << 20

// ShortLivedCredentials are bucket-scoped credentials obtained by
// exchanging a validated identity for an access role, or embedded directly
// in a token by the issuer. Secret fields redact themselves when printed.
type ShortLivedCredentials struct {
	AccessKey    string
	SecretKey    Secret
	SessionToken Secret
	Expiry       time.Time
}

// Expired reports whether the credentials are past their expiry. A zero
// Expiry means the issuer did not bound them and they never self-expire.
func (c *ShortLivedCredentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

// ClaimSet is the canonical, fully-expanded form of a token's claims.
// All compact wire encodings have been resolved: permission codes are
// canonical names, the bucket union is a flat set, roles are a plain list.
//
// A ClaimSet is immutable after decoding and safe to share within a single
// request. It must never be shared across requests by reference inside a
// mutable wrapper; the session store keeps its own record.
type ClaimSet struct {
	// Subject is the stable identity of the caller (mandatory).
	Subject string

	// ExpiresAt is the token's expiry instant (mandatory).
	ExpiresAt time.Time

	// Issuer and Audience are the optional iss/aud claims.
	Issuer   string
	Audience string

	// Scope is the raw space-separated scope string, if present.
	Scope string

	// Level is the caller's trust level label, if present.
	Level string

	// Permissions is the set of canonical permission names.
	Permissions map[string]struct{}

	// Buckets is the set of granted bucket identifiers. Entries may be
	// glob patterns (containing '*' or '?') carried over from the
	// patterns encoding; [ClaimSet.HasBucket] matches against both.
	Buckets map[string]struct{}

	// Roles lists the access roles the caller may assume.
	Roles []string

	// Credentials are issuer-embedded short-lived credentials, if any.
	Credentials *ShortLivedCredentials
}

// HasPermission reports whether the claim set grants the canonical
// permission name.
func (c *ClaimSet) HasPermission(name string) bool {
	_, ok := c.Permissions[name]
	return ok
}

// HasBucket reports whether bucket is granted, either by exact membership
// or by matching a glob pattern entry.
func (c *ClaimSet) HasBucket(bucket string) bool {
	if _, ok := c.Buckets[bucket]; ok {
		return true
	}
	for entry := range c.Buckets {
		if !strings.ContainsAny(entry, "*?") {
			continue
		}
		if matched, err := path.Match(entry, bucket); err == nil && matched {
			return true
		}
	}
	return false
}

// HasRole reports whether role is listed in the claim set.
func (c *ClaimSet) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionList returns the permissions as a sorted slice.
func (c *ClaimSet) PermissionList() []string {
	return sortedKeys(c.Permissions)
}

// BucketList returns the buckets as a sorted slice.
func (c *ClaimSet) BucketList() []string {
	return sortedKeys(c.Buckets)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DecodeOptions controls claim expansion.
type DecodeOptions struct {
	// MaxBuckets bounds the expanded bucket set. Zero means
	// [DefaultMaxBuckets].
	MaxBuckets int
}

// DecodeClaims expands a verified token payload into a canonical ClaimSet.
//
// For each logical field the expanded key is preferred when present and
// non-empty; otherwise the compact key is decoded:
//
//	permissions / p   canonical names / single-letter codes
//	roles       / r   role id list
//	buckets     / b   bucket list / tagged-union compact encoding
//	scope       / s   space-separated scope string
//	level       / l   trust level label
//
// A present, non-empty expanded field always shadows its compact
// counterpart, even when the two disagree: issuers emit both forms during
// format migrations, so disagreement alone is not treated as tampering.
// Signature verification has already happened by the time this runs.
//
// The subject and expiry claims are mandatory; their absence is
// [lgerr.CodeTokenMissingClaim]. Any unknown permission code or name,
// malformed bucket encoding, or bucket expansion exceeding the configured
// bound is [lgerr.CodeClaimDecode].
func DecodeClaims(payload map[string]any, opts DecodeOptions) (*ClaimSet, error) {
	maxBuckets := opts.MaxBuckets
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxBuckets
	}

	sub, _ := payload["sub"].(string)
	if sub == "" {
		return nil, lgerr.New(lgerr.CodeTokenMissingClaim, "auth: token is missing the subject claim")
	}
	exp, ok := numericTime(payload["exp"])
	if !ok {
		return nil, lgerr.New(lgerr.CodeTokenMissingClaim, "auth: token is missing the expiry claim")
	}

	cs := &ClaimSet{
		Subject:     sub,
		ExpiresAt:   exp,
		Permissions: make(map[string]struct{}),
		Buckets:     make(map[string]struct{}),
	}
	cs.Issuer, _ = payload["iss"].(string)
	cs.Audience = audienceString(payload["aud"])
	cs.Scope = stringField(payload, "scope", "s")
	cs.Level = levelField(payload)

	if err := decodePermissions(cs, payload); err != nil {
		return nil, err
	}
	if err := decodeRoles(cs, payload); err != nil {
		return nil, err
	}
	if err := decodeBuckets(cs, payload, maxBuckets); err != nil {
		return nil, err
	}
	if err := decodeEmbeddedCredentials(cs, payload); err != nil {
		return nil, err
	}
	return cs, nil
}

// numericTime converts the JSON representations of a Unix timestamp claim.
func numericTime(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case int64:
		return time.Unix(n, 0), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(i, 0), true
	default:
		return time.Time{}, false
	}
}

// audienceString normalizes the aud claim, which may be a string or a
// list, into a single space-joined string.
func audienceString(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case []any:
		parts := make([]string, 0, len(a))
		for _, e := range a {
			if s, ok := e.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// stringField applies the expanded-over-compact precedence rule for a
// plain string field.
func stringField(payload map[string]any, expanded, compact string) string {
	if s, ok := payload[expanded].(string); ok && s != "" {
		return s
	}
	s, _ := payload[compact].(string)
	return s
}

// levelField normalizes the level claim, which issuers emit as either a
// label or a number.
func levelField(payload map[string]any) string {
	for _, key := range []string{"level", "l"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func decodePermissions(cs *ClaimSet, payload map[string]any) error {
	if raw, ok := payload["permissions"]; ok {
		names, err := stringList(raw)
		if err != nil {
			return lgerr.New(lgerr.CodeClaimDecode, "auth: expanded permission claim has an invalid shape")
		}
		if len(names) > 0 {
			for _, name := range names {
				if _, known := permissionUniverse[name]; !known {
					return lgerr.Newf(lgerr.CodeClaimDecode,
						"auth: unknown permission %q in expanded claim", name)
				}
				cs.Permissions[name] = struct{}{}
			}
			return nil
		}
	}

	raw, ok := payload["p"]
	if !ok {
		return nil
	}
	var codes []string
	switch v := raw.(type) {
	case string:
		// Concatenated single-letter codes, e.g. "rwl".
		for _, r := range v {
			codes = append(codes, string(r))
		}
	default:
		list, err := stringList(raw)
		if err != nil {
			return lgerr.New(lgerr.CodeClaimDecode, "auth: compact permission claim has an invalid shape")
		}
		codes = list
	}
	for _, code := range codes {
		name, known := compactPermissionCodes[code]
		if !known {
			return lgerr.Newf(lgerr.CodeClaimDecode, "auth: unknown permission code %q", code)
		}
		cs.Permissions[name] = struct{}{}
	}
	return nil
}

func decodeRoles(cs *ClaimSet, payload map[string]any) error {
	if raw, ok := payload["roles"]; ok {
		roles, err := stringList(raw)
		if err != nil {
			return lgerr.New(lgerr.CodeClaimDecode, "auth: expanded role claim has an invalid shape")
		}
		if len(roles) > 0 {
			cs.Roles = roles
			return nil
		}
	}
	raw, ok := payload["r"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		for _, role := range strings.Split(v, ",") {
			if role = strings.TrimSpace(role); role != "" {
				cs.Roles = append(cs.Roles, role)
			}
		}
	default:
		roles, err := stringList(raw)
		if err != nil {
			return lgerr.New(lgerr.CodeClaimDecode, "auth: compact role claim has an invalid shape")
		}
		cs.Roles = roles
	}
	return nil
}

func decodeBuckets(cs *ClaimSet, payload map[string]any, maxBuckets int) error {
	if raw, ok := payload["buckets"]; ok {
		names, err := stringList(raw)
		if err != nil {
			return lgerr.New(lgerr.CodeClaimDecode, "auth: expanded bucket claim has an invalid shape")
		}
		if len(names) > 0 {
			return addBuckets(cs, names, maxBuckets)
		}
	}

	raw, ok := payload["b"]
	if !ok {
		return nil
	}
	union, ok := raw.(map[string]any)
	if !ok {
		return lgerr.New(lgerr.CodeClaimDecode, "auth: compact bucket claim is not a tagged object")
	}
	tag, _ := union["_type"].(string)
	data := union["_data"]

	var names []string
	var err error
	switch tag {
	case "groups":
		names, err = expandBucketGroups(data)
	case "patterns":
		names, err = expandBucketPatterns(data, maxBuckets)
	case "compressed":
		names, err = expandCompressedBuckets(data)
	default:
		return lgerr.Newf(lgerr.CodeClaimDecode, "auth: unknown bucket encoding %q", tag)
	}
	if err != nil {
		return err
	}
	return addBuckets(cs, names, maxBuckets)
}

// addBuckets inserts names into the claim set, enforcing the cardinality
// bound on the deduplicated result. Exceeding the bound fails the whole
// decode; the set is never truncated.
func addBuckets(cs *ClaimSet, names []string, maxBuckets int) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		cs.Buckets[name] = struct{}{}
	}
	if len(cs.Buckets) > maxBuckets {
		return lgerr.Newf(lgerr.CodeClaimDecode,
			"auth: bucket claim expands to %d buckets, limit is %d", len(cs.Buckets), maxBuckets)
	}
	return nil
}

// expandBucketGroups decodes the groups arm: a prefix to suffix-list map
// reconstructing prefix-suffix bucket names. The reserved empty prefix
// carries undashed names verbatim.
func expandBucketGroups(data any) ([]string, error) {
	groups, ok := data.(map[string]any)
	if !ok {
		return nil, lgerr.New(lgerr.CodeClaimDecode, "auth: groups bucket encoding requires a prefix map")
	}
	var names []string
	for prefix, rawSuffixes := range groups {
		suffixes, err := stringList(rawSuffixes)
		if err != nil {
			return nil, lgerr.Newf(lgerr.CodeClaimDecode,
				"auth: groups bucket encoding has an invalid suffix list under prefix %q", prefix)
		}
		for _, suffix := range suffixes {
			if prefix == "" {
				names = append(names, suffix)
				continue
			}
			names = append(names, prefix+"-"+suffix)
		}
	}
	return names, nil
}

// expandBucketPatterns decodes the patterns arm: a prefix map of glob-style
// suffix templates. Templates expand brace alternations ("{a,b}") and
// numeric ranges ("[0-3]"); entries still containing '*' or '?' after
// expansion are kept as literal pattern entries, matched lazily by
// [ClaimSet.HasBucket].
//
// The cardinality bound is enforced while expanding, not on the result.
// Nested templates multiply, so a tiny claim can describe an expansion
// far past the bound; the expander stops at the first distinct name over
// the limit instead of materializing the product.
func expandBucketPatterns(data any, maxBuckets int) ([]string, error) {
	patterns, ok := data.(map[string]any)
	if !ok {
		return nil, lgerr.New(lgerr.CodeClaimDecode, "auth: patterns bucket encoding requires a prefix map")
	}
	exp := &templateExpander{
		limit: maxBuckets,
		seen:  make(map[string]struct{}),
	}
	for prefix, rawTemplates := range patterns {
		templates, err := stringList(rawTemplates)
		if err != nil {
			return nil, lgerr.Newf(lgerr.CodeClaimDecode,
				"auth: patterns bucket encoding has an invalid template list under prefix %q", prefix)
		}
		for _, tmpl := range templates {
			full := tmpl
			if prefix != "" {
				full = prefix + "-" + tmpl
			}
			if err := exp.expand(full); err != nil {
				return nil, err
			}
		}
	}
	return exp.names, nil
}

// templateExpander accumulates expanded pattern names, deduplicating as
// it goes and failing as soon as the distinct count would pass limit.
type templateExpander struct {
	limit int
	seen  map[string]struct{}
	names []string
}

// expand expands one brace alternation or numeric bracket range per
// pass, recursing until none remain. "team-{a,b}" yields team-a and
// team-b; "shard-[0-2]" yields shard-0 through shard-2.
func (e *templateExpander) expand(tmpl string) error {
	if open := strings.IndexByte(tmpl, '{'); open >= 0 {
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			return lgerr.Newf(lgerr.CodeClaimDecode, "auth: unterminated brace alternation in bucket pattern")
		}
		end += open
		for _, alt := range strings.Split(tmpl[open+1:end], ",") {
			if err := e.expand(tmpl[:open] + alt + tmpl[end+1:]); err != nil {
				return err
			}
		}
		return nil
	}

	if open := strings.IndexByte(tmpl, '['); open >= 0 {
		end := strings.IndexByte(tmpl[open:], ']')
		if end >= 0 {
			end += open
			if lo, hi, ok := parseNumericRange(tmpl[open+1 : end]); ok {
				for i := lo; i <= hi; i++ {
					if err := e.expand(tmpl[:open] + strconv.Itoa(i) + tmpl[end+1:]); err != nil {
						return err
					}
				}
				return nil
			}
		}
		// Not a numeric range; fall through and keep the brackets as a
		// character-class glob entry.
	}

	return e.emit(tmpl)
}

// emit records one fully-expanded name, enforcing the bound on the
// distinct count.
func (e *templateExpander) emit(name string) error {
	if _, dup := e.seen[name]; dup {
		return nil
	}
	if len(e.names) >= e.limit {
		return lgerr.Newf(lgerr.CodeClaimDecode,
			"auth: bucket pattern expands past the %d bucket limit", e.limit)
	}
	e.seen[name] = struct{}{}
	e.names = append(e.names, name)
	return nil
}

// parseNumericRange parses "lo-hi" with lo <= hi and a bounded span.
// This bounds one range's contribution; the product of nested ranges is
// bounded by the expander's incremental cardinality check.
func parseNumericRange(s string) (lo, hi int, ok bool) {
	dash := strings.IndexByte(s, '-')
	if dash <= 0 {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(s[:dash])
	if err != nil {
		return 0, 0, false
	}
	hi, err = strconv.Atoi(s[dash+1:])
	if err != nil || hi < lo || hi-lo > 1024 {
		return 0, 0, false
	}
	return lo, hi, true
}

// expandCompressedBuckets decodes the compressed arm: a base64-encoded,
// DEFLATE-compressed JSON array of bucket names.
func expandCompressedBuckets(data any) ([]string, error) {
	blob, ok := data.(string)
	if !ok || blob == "" {
		return nil, lgerr.New(lgerr.CodeClaimDecode, "auth: compressed bucket encoding requires a base64 payload")
	}
	compressed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeClaimDecode, "auth: compressed bucket payload is not valid base64")
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	defer func() { _ = r.Close() }()
	raw, err := io.ReadAll(io.LimitReader(r, maxDecompressedBucketBytes+1))
	if err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeClaimDecode, "auth: compressed bucket payload failed to decompress")
	}
	if len(raw) > maxDecompressedBucketBytes {
		return nil, lgerr.New(lgerr.CodeClaimDecode, "auth: compressed bucket payload exceeds the decompression limit")
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, lgerr.Wrap(err, lgerr.CodeClaimDecode, "auth: compressed bucket payload is not a JSON name array")
	}
	return names, nil
}

// decodeEmbeddedCredentials extracts issuer-embedded short-lived
// credentials from the optional "credentials" claim.
func decodeEmbeddedCredentials(cs *ClaimSet, payload map[string]any) error {
	raw, ok := payload["credentials"]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return lgerr.New(lgerr.CodeClaimDecode, "auth: embedded credentials claim has an invalid shape")
	}
	creds := &ShortLivedCredentials{}
	creds.AccessKey, _ = obj["access_key"].(string)
	if sk, ok := obj["secret_key"].(string); ok {
		creds.SecretKey = Secret(sk)
	}
	if st, ok := obj["session_token"].(string); ok {
		creds.SessionToken = Secret(st)
	}
	if exp, ok := numericTime(obj["expiry"]); ok {
		creds.Expiry = exp
	}
	if creds.AccessKey == "" {
		return lgerr.New(lgerr.CodeClaimDecode, "auth: embedded credentials claim is missing the access key")
	}
	cs.Credentials = creds
	return nil
}

// stringList coerces a JSON list (or a pre-typed string slice) into
// []string, rejecting non-string elements.
func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("non-string element %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported list type %T", raw)
	}
}

// EncodeCompactBuckets encodes bucket names into the groups arm of the
// compact wire encoding. Each name splits at its first dash into prefix
// and suffix; names without a dash are carried under the reserved empty
// prefix. Decoding the result with [DecodeClaims] yields the same set.
func EncodeCompactBuckets(names []string) map[string]any {
	groups := make(map[string]any)
	for _, name := range names {
		prefix, suffix := "", name
		if dash := strings.IndexByte(name, '-'); dash > 0 {
			prefix, suffix = name[:dash], name[dash+1:]
		}
		existing, _ := groups[prefix].([]string)
		groups[prefix] = append(existing, suffix)
	}
	return map[string]any{"_type": "groups", "_data": groups}
}

// CompressBuckets produces the compressed arm's payload for a bucket name
// list: base64 over raw DEFLATE over a JSON array. Primarily used by
// tests and by tooling that mints fixture tokens.
func CompressBuckets(names []string) (string, error) {
	raw, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
