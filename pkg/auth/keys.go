package auth

import (
	"context"
	"sync"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// ---------------------------------------------------------------------------
// Secret type: prevents accidental logging of sensitive values
// ---------------------------------------------------------------------------

// Secret is a string type that redacts its value in String(), GoString(),
// and MarshalText() to prevent exposure in logs, JSON output, or
// fmt.Printf. The actual value is only accessible via [Secret.Value],
// which should be called only where the raw value is truly needed
// (passing to a signing function, constructing a storage client).
type Secret string

// secretRedacted replaces the actual value whenever a Secret is printed,
// formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder for %#v formatting.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler, returning the redacted
// placeholder so the secret never leaks into JSON or YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// ---------------------------------------------------------------------------
// Signing key material
// ---------------------------------------------------------------------------

// ParameterRef names secret material held by an external parameter store,
// scoped to a region. Resolution happens once per (Name, Region) pair and
// is cached for the process lifetime; signing keys rotate by deploying a
// new key id, not by mutating a parameter in place.
type ParameterRef struct {
	// Name is the parameter's identifier in the external store.
	Name string `json:"name" yaml:"name"`

	// Region selects the store region holding the parameter.
	Region string `json:"region" yaml:"region"`
}

// ParameterSource fetches secret material for a [ParameterRef] from an
// external parameter store. Implementations must be safe for concurrent
// use; the core resolves each reference at most once and caches the
// result, so implementations need not cache themselves.
type ParameterSource interface {
	Resolve(ctx context.Context, ref ParameterRef) (Secret, error)
}

// ParameterSourceFunc adapts a function to the [ParameterSource] interface.
type ParameterSourceFunc func(ctx context.Context, ref ParameterRef) (Secret, error)

// Resolve implements [ParameterSource].
func (f ParameterSourceFunc) Resolve(ctx context.Context, ref ParameterRef) (Secret, error) {
	return f(ctx, ref)
}

// KeySource describes one signing key the validator accepts. The key
// material is either inline or a reference resolved through a
// [ParameterSource]. Exactly one of Inline and Ref must be set.
type KeySource struct {
	// KeyID matches the token's kid header. Tokens without a kid header
	// verify against the first configured key.
	KeyID string `json:"key_id" yaml:"key_id"`

	// Inline is the HMAC key material, supplied directly.
	Inline Secret `json:"-" yaml:"-"`

	// Ref points at externally held key material.
	Ref *ParameterRef `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// minSigningKeyBytes is the minimum accepted HMAC key length. Shorter keys
// make HS256 signatures brute-forceable.
const minSigningKeyBytes = 32

func (k *KeySource) validate() error {
	inline := k.Inline != ""
	if inline == (k.Ref != nil) {
		return lgerr.New(lgerr.CodeValidation,
			"auth: a key source needs exactly one of inline material or a parameter reference")
	}
	if inline && len(k.Inline.Value()) < minSigningKeyBytes {
		return lgerr.Newf(lgerr.CodeValidation,
			"auth: inline signing key must be at least %d bytes", minSigningKeyBytes)
	}
	if k.Ref != nil && k.Ref.Name == "" {
		return lgerr.New(lgerr.CodeValidation,
			"auth: a key source parameter reference needs a name")
	}
	return nil
}

// keyResolver materializes [KeySource] values, caching referenced secrets
// per (name, region) so the external store is consulted once per
// reference for the process lifetime.
type keyResolver struct {
	mu     sync.RWMutex
	cache  map[ParameterRef]Secret
	source ParameterSource
}

func newKeyResolver(source ParameterSource) *keyResolver {
	return &keyResolver{
		cache:  make(map[ParameterRef]Secret),
		source: source,
	}
}

// resolve returns the key material for ks, consulting the parameter
// source on first use of a reference.
func (r *keyResolver) resolve(ctx context.Context, ks KeySource) (Secret, error) {
	if ks.Inline != "" {
		return ks.Inline, nil
	}
	if ks.Ref == nil {
		return "", lgerr.New(lgerr.CodeInternalConfiguration,
			"auth: key source has neither inline material nor a reference")
	}

	r.mu.RLock()
	cached, ok := r.cache[*ks.Ref]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if r.source == nil {
		return "", lgerr.New(lgerr.CodeInternalConfiguration,
			"auth: referenced signing key configured without a parameter source")
	}
	secret, err := r.source.Resolve(ctx, *ks.Ref)
	if err != nil {
		return "", lgerr.Wrapf(err, lgerr.CodeUnavailableDependency,
			"auth: failed to resolve signing key parameter %q", ks.Ref.Name)
	}
	if len(secret.Value()) < minSigningKeyBytes {
		return "", lgerr.Newf(lgerr.CodeInternalConfiguration,
			"auth: resolved signing key %q is shorter than %d bytes", ks.Ref.Name, minSigningKeyBytes)
	}

	r.mu.Lock()
	r.cache[*ks.Ref] = secret
	r.mu.Unlock()
	return secret, nil
}
