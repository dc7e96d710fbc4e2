package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakegate/lakegate-core/internal/testutil"
	lgredis "github.com/lakegate/lakegate-core/pkg/clients/redis"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// fakeCmdable is an in-memory stand-in for a Redis server, covering the
// commands the session store issues.
type fakeCmdable struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Duration
}

func newFakeCmdable() *fakeCmdable {
	return &fakeCmdable{
		data:    make(map[string]string),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeCmdable) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	}
	f.expires[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			delete(f.expires, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCmdable) TTL(ctx context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	ttl, ok := f.expires[key]
	if !ok {
		return redis.NewDurationResult(-2*time.Second, nil)
	}
	return redis.NewDurationResult(ttl, nil)
}

func (f *fakeCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeCmdable) Close() error { return nil }

var _ lgredis.Cmdable = (*fakeCmdable)(nil)

func newFakeRedisStore(ttl time.Duration) (*RedisSessionStore, *fakeCmdable) {
	fake := newFakeCmdable()
	client := lgredis.NewFromClient(fake, nil)
	return NewRedisSessionStore(client, ttl), fake
}

// ---------------------------------------------------------------------------
// Round trip
// ---------------------------------------------------------------------------

func TestRedisSessionStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, fake := newFakeRedisStore(0)

	rec := newSessionRecord("sess-1", "user-1")
	rec.Claims.Roles = []string{"analyst"}
	rec.Claims.Buckets = map[string]struct{}{"sales-eu": {}, "logs-*": {}}
	require.NoError(t, store.Store(ctx, rec))

	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.True(t, got.Claims.HasPermission(PermissionRead))
	assert.True(t, got.Claims.HasBucket("sales-eu"))
	assert.True(t, got.Claims.HasBucket("logs-2026"))
	assert.True(t, got.Claims.HasRole("analyst"))
	assert.False(t, got.CreatedAt.IsZero())

	// The default TTL rides along on the SET.
	assert.Equal(t, DefaultSessionTTL, fake.expires[sessionKeyPrefix+"sess-1"])
}

func TestRedisSessionStore_CredentialsNeverSerialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, fake := newFakeRedisStore(0)

	rec := newSessionRecord("sess-1", "user-1")
	rec.Claims.Credentials = &ShortLivedCredentials{
		AccessKey:    "AKIA123",
		SecretKey:    "super-sensitive-value",
		SessionToken: "session-token-value",
	}
	require.NoError(t, store.Store(ctx, rec))

	stored := fake.data[sessionKeyPrefix+"sess-1"]
	assert.NotContains(t, stored, "AKIA123")
	assert.NotContains(t, stored, "super-sensitive-value")
	assert.NotContains(t, stored, "session-token-value")
}

// ---------------------------------------------------------------------------
// Miss and corruption handling
// ---------------------------------------------------------------------------

func TestRedisSessionStore_MissIsSessionExpired(t *testing.T) {
	t.Parallel()
	store, _ := newFakeRedisStore(0)
	_, err := store.Lookup(context.Background(), "never-stored")
	testutil.RequireErrorCode(t, err, lgerr.CodeSessionExpired)
}

func TestRedisSessionStore_CorruptRecordDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, fake := newFakeRedisStore(0)
	fake.data[sessionKeyPrefix+"sess-1"] = "{not json"

	_, err := store.Lookup(ctx, "sess-1")
	testutil.RequireErrorCode(t, err, lgerr.CodeSessionExpired)
	assert.NotContains(t, fake.data, sessionKeyPrefix+"sess-1",
		"a corrupt record is deleted so the next request stores a fresh one")
}

// ---------------------------------------------------------------------------
// Store semantics
// ---------------------------------------------------------------------------

func TestRedisSessionStore_RejectsEmptyID(t *testing.T) {
	t.Parallel()
	store, _ := newFakeRedisStore(0)
	err := store.Store(context.Background(), &SessionRecord{})
	testutil.RequireErrorCode(t, err, lgerr.CodeValidation)
}

func TestRedisSessionStore_LastWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newFakeRedisStore(0)

	first := newSessionRecord("sess-1", "user-1")
	second := newSessionRecord("sess-1", "user-1")
	second.CredentialHandle = "role:analyst"

	require.NoError(t, store.Store(ctx, first))
	require.NoError(t, store.Store(ctx, second))

	got, err := store.Lookup(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "role:analyst", got.CredentialHandle)
}

func TestRedisSessionStore_CustomTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, fake := newFakeRedisStore(10 * time.Minute)

	require.NoError(t, store.Store(ctx, newSessionRecord("sess-1", "user-1")))
	assert.Equal(t, 10*time.Minute, fake.expires[sessionKeyPrefix+"sess-1"])
}

func TestRedisSessionStore_Invalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newFakeRedisStore(0)

	require.NoError(t, store.Store(ctx, newSessionRecord("sess-1", "user-1")))
	require.NoError(t, store.Invalidate(ctx, "sess-1"))

	_, err := store.Lookup(ctx, "sess-1")
	testutil.RequireErrorCode(t, err, lgerr.CodeSessionExpired)
}
