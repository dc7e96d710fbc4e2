package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/lakegate/lakegate-core/pkg/auth"

// maxTokenSize is the maximum accepted size for a token string (8 KB).
// Larger tokens are rejected before parsing to prevent resource exhaustion.
const maxTokenSize = 8192

// ValidatorConfig configures the token [Validator].
type ValidatorConfig struct {
	// Issuer is the expected iss claim. Empty disables issuer checking.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"lakegate-idp"`

	// Audience is the expected aud claim. Empty disables audience
	// checking.
	Audience string `json:"audience,omitempty" yaml:"audience" env:"AUDIENCE"`

	// ClockSkew is the tolerated clock difference between this service
	// and the token issuer. Must be non-negative. Defaults to 30s.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`

	// MaxBuckets bounds a token's expanded bucket set. Zero means
	// [DefaultMaxBuckets].
	MaxBuckets int `json:"max_buckets" yaml:"max_buckets" env:"MAX_BUCKETS" envDefault:"32"`

	// Keys lists the accepted signing keys. At least one is required.
	Keys []KeySource `json:"keys" yaml:"keys"`

	// ParameterSource resolves referenced key material. Required when
	// any key uses a [ParameterRef].
	ParameterSource ParameterSource `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness.
func (c *ValidatorConfig) Validate() error {
	if len(c.Keys) == 0 {
		return lgerr.New(lgerr.CodeValidation, "auth: at least one signing key must be configured")
	}
	needsSource := false
	for i := range c.Keys {
		if err := c.Keys[i].validate(); err != nil {
			return err
		}
		if c.Keys[i].Ref != nil {
			needsSource = true
		}
	}
	if needsSource && c.ParameterSource == nil {
		return lgerr.New(lgerr.CodeValidation,
			"auth: referenced signing keys require a parameter source")
	}
	if c.ClockSkew < 0 {
		return lgerr.New(lgerr.CodeValidation, "auth: clock skew must be non-negative")
	}
	if c.MaxBuckets < 0 {
		return lgerr.New(lgerr.CodeValidation, "auth: max buckets must be non-negative")
	}
	return nil
}

// Validator verifies signed access tokens and expands their claims into
// canonical [ClaimSet] values. Validation is stateless and side-effect
// free: it never consults or writes the session store, so it can run
// concurrently for any number of requests.
//
// Only HS256 signatures are accepted. The signing key is selected by the
// token's kid header among the configured [KeySource] entries; referenced
// key material is resolved once per (name, region) and cached.
//
// Validator is safe for concurrent use by multiple goroutines.
type Validator struct {
	config   ValidatorConfig
	tracer   trace.Tracer
	resolver *keyResolver
	keysByID map[string]KeySource
}

// NewValidator creates a Validator from cfg, validating it first.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	byID := make(map[string]KeySource, len(cfg.Keys))
	for _, ks := range cfg.Keys {
		if ks.KeyID != "" {
			byID[ks.KeyID] = ks
		}
	}
	return &Validator{
		config:   cfg,
		tracer:   otel.Tracer(tracerName),
		resolver: newKeyResolver(cfg.ParameterSource),
		keysByID: byID,
	}, nil
}

// Validate verifies raw and returns its canonical claims.
//
// Steps:
//  1. Reject empty or oversized tokens
//  2. Reject any algorithm other than HS256 (alg "none" in particular)
//  3. Verify the signature against the kid-selected key
//  4. Check issuer, audience, expiry, and not-before with clock skew
//  5. Expand the payload via [DecodeClaims]
//
// Failures carry AUTH_xxx codes from the platform taxonomy; the raw token
// never appears in errors or span attributes.
func (v *Validator) Validate(ctx context.Context, raw string) (*ClaimSet, error) {
	ctx, span := v.tracer.Start(ctx, "auth.Validate")
	defer span.End()

	if raw == "" {
		err := lgerr.New(lgerr.CodeTokenMalformed, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(raw) > maxTokenSize {
		err := lgerr.New(lgerr.CodeTokenMalformed, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		// Restricting to HS256 both enforces the wire contract and
		// closes the algorithm confusion hole where alg:none or an
		// asymmetric alg could bypass HMAC verification.
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(v.config.ClockSkew),
	}
	if v.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		key, err := v.keyForToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return []byte(key.Value()), nil
	}, parserOpts...)
	if err != nil {
		classified := classifyTokenError(err)
		finishSpan(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := lgerr.New(lgerr.CodeTokenMalformed, "auth: unable to extract token claims")
		finishSpan(span, err)
		return nil, err
	}

	claims, err := DecodeClaims(map[string]any(mc), DecodeOptions{MaxBuckets: v.config.MaxBuckets})
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("auth.subject", claims.Subject),
		attribute.Int("auth.bucket_count", len(claims.Buckets)),
	)
	return claims, nil
}

// keyForToken selects the signing key named by the token's kid header, or
// the first configured key when no kid is present.
func (v *Validator) keyForToken(ctx context.Context, token *jwt.Token) (Secret, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return v.resolver.resolve(ctx, v.config.Keys[0])
	}
	ks, ok := v.keysByID[kid]
	if !ok {
		return "", lgerr.Newf(lgerr.CodeTokenSignature, "auth: unrecognized signing key id %q", kid)
	}
	return v.resolver.resolve(ctx, ks)
}

// classifyTokenError converts jwt library errors into the platform
// failure taxonomy. Errors that are already coded pass through unchanged.
func classifyTokenError(err error) *lgerr.Error {
	if err == nil {
		return nil
	}
	if coded, ok := lgerr.AsError(err); ok {
		return coded
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return lgerr.Wrap(err, lgerr.CodeTokenExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return lgerr.Wrap(err, lgerr.CodeTokenMalformed, "auth: token is malformed")
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return lgerr.Wrap(err, lgerr.CodeTokenSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return lgerr.Wrap(err, lgerr.CodeTokenSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return lgerr.Wrap(err, lgerr.CodeTokenSignature, "auth: token is unverifiable")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return lgerr.Wrap(err, lgerr.CodeAuthentication, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return lgerr.Wrap(err, lgerr.CodeAuthentication, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return lgerr.Wrap(err, lgerr.CodeAuthentication, "auth: token issuer is invalid")
	case strings.Contains(err.Error(), "signing method"):
		return lgerr.Wrap(err, lgerr.CodeTokenSignature, "auth: token signing algorithm is not permitted")
	default:
		return lgerr.Wrap(err, lgerr.CodeTokenMalformed, "auth: token validation failed")
	}
}

// finishSpan records err on the span and marks it failed. Shared by the
// validation, exchange, and middleware paths.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
