package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// ---------------------------------------------------------------------------
// Secret redaction
// ---------------------------------------------------------------------------

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()
	s := Secret("super-sensitive-value")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-sensitive-value", s.Value())
}

func TestSecret_JSONDoesNotLeak(t *testing.T) {
	t.Parallel()
	payload := struct {
		Password Secret `json:"password"`
	}{Password: "super-sensitive-value"}

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "super-sensitive-value")
	assert.Contains(t, string(out), "[REDACTED]")
}

// ---------------------------------------------------------------------------
// KeySource validation
// ---------------------------------------------------------------------------

func TestKeySource_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ks      KeySource
		wantErr bool
	}{
		{
			name: "inline",
			ks:   KeySource{Inline: Secret(testSigningKey)},
		},
		{
			name: "reference",
			ks:   KeySource{Ref: &ParameterRef{Name: "signing-key"}},
		},
		{
			name:    "neither",
			ks:      KeySource{},
			wantErr: true,
		},
		{
			name: "both",
			ks: KeySource{
				Inline: Secret(testSigningKey),
				Ref:    &ParameterRef{Name: "signing-key"},
			},
			wantErr: true,
		},
		{
			name:    "inline too short",
			ks:      KeySource{Inline: "short"},
			wantErr: true,
		},
		{
			name:    "reference without name",
			ks:      KeySource{Ref: &ParameterRef{Region: "eu-1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ks.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// keyResolver caching
// ---------------------------------------------------------------------------

func TestKeyResolver_CachesPerNameAndRegion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	resolver := newKeyResolver(ParameterSourceFunc(
		func(_ context.Context, ref ParameterRef) (Secret, error) {
			calls.Add(1)
			return Secret(testSigningKey + ref.Region), nil
		}))

	euKey := KeySource{Ref: &ParameterRef{Name: "signing-key", Region: "eu-1"}}
	usKey := KeySource{Ref: &ParameterRef{Name: "signing-key", Region: "us-1"}}

	ctx := context.Background()
	for range 5 {
		got, err := resolver.resolve(ctx, euKey)
		require.NoError(t, err)
		assert.Equal(t, testSigningKey+"eu-1", got.Value())
	}
	got, err := resolver.resolve(ctx, usKey)
	require.NoError(t, err)
	assert.Equal(t, testSigningKey+"us-1", got.Value())

	assert.Equal(t, int32(2), calls.Load(),
		"each (name, region) pair should be resolved once")
}

func TestKeyResolver_InlineBypassesSource(t *testing.T) {
	t.Parallel()

	resolver := newKeyResolver(nil)
	got, err := resolver.resolve(context.Background(), KeySource{Inline: Secret(testSigningKey)})
	require.NoError(t, err)
	assert.Equal(t, testSigningKey, got.Value())
}

func TestKeyResolver_ShortResolvedKeyRejected(t *testing.T) {
	t.Parallel()

	resolver := newKeyResolver(ParameterSourceFunc(
		func(context.Context, ParameterRef) (Secret, error) {
			return "short", nil
		}))
	_, err := resolver.resolve(context.Background(),
		KeySource{Ref: &ParameterRef{Name: "signing-key"}})
	require.Error(t, err)
	coded, ok := lgerr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, lgerr.CodeInternalConfiguration, coded.Code)
}

func TestKeyResolver_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	resolver := newKeyResolver(ParameterSourceFunc(
		func(context.Context, ParameterRef) (Secret, error) {
			return Secret(testSigningKey), nil
		}))
	ks := KeySource{Ref: &ParameterRef{Name: "signing-key"}}

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := resolver.resolve(context.Background(), ks)
			assert.NoError(t, err)
			assert.Equal(t, testSigningKey, got.Value())
		}()
	}
	wg.Wait()
}
