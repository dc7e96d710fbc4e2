package auth

import (
	"context"
	"encoding/json"
	"time"

	lgredis "github.com/lakegate/lakegate-core/pkg/clients/redis"
	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// sessionKeyPrefix namespaces session records in the shared Redis
// database.
const sessionKeyPrefix = "lakegate:session:"

// sessionWire is the Redis serialization of a [SessionRecord]. Sets are
// flattened to sorted-insensitive slices, and credentials are never part
// of the wire form: only the in-process exchange cache holds secret
// material, so a compromised cache dump yields claims but no keys.
type sessionWire struct {
	SessionID        string    `json:"session_id"`
	Subject          string    `json:"subject"`
	ExpiresAt        time.Time `json:"expires_at"`
	Issuer           string    `json:"issuer,omitempty"`
	Audience         string    `json:"audience,omitempty"`
	Scope            string    `json:"scope,omitempty"`
	Level            string    `json:"level,omitempty"`
	Permissions      []string  `json:"permissions,omitempty"`
	Buckets          []string  `json:"buckets,omitempty"`
	Roles            []string  `json:"roles,omitempty"`
	CredentialHandle string    `json:"credential_handle,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toWire(rec *SessionRecord) *sessionWire {
	w := &sessionWire{
		SessionID:        rec.SessionID,
		Subject:          rec.Subject,
		CredentialHandle: rec.CredentialHandle,
		CreatedAt:        rec.CreatedAt,
	}
	if c := rec.Claims; c != nil {
		w.ExpiresAt = c.ExpiresAt
		w.Issuer = c.Issuer
		w.Audience = c.Audience
		w.Scope = c.Scope
		w.Level = c.Level
		w.Permissions = c.PermissionList()
		w.Buckets = c.BucketList()
		w.Roles = append([]string(nil), c.Roles...)
	}
	return w
}

func (w *sessionWire) toRecord() *SessionRecord {
	claims := &ClaimSet{
		Subject:     w.Subject,
		ExpiresAt:   w.ExpiresAt,
		Issuer:      w.Issuer,
		Audience:    w.Audience,
		Scope:       w.Scope,
		Level:       w.Level,
		Permissions: make(map[string]struct{}, len(w.Permissions)),
		Buckets:     make(map[string]struct{}, len(w.Buckets)),
		Roles:       append([]string(nil), w.Roles...),
	}
	for _, p := range w.Permissions {
		claims.Permissions[p] = struct{}{}
	}
	for _, b := range w.Buckets {
		claims.Buckets[b] = struct{}{}
	}
	return &SessionRecord{
		SessionID:        w.SessionID,
		Subject:          w.Subject,
		Claims:           claims,
		CredentialHandle: w.CredentialHandle,
		CreatedAt:        w.CreatedAt,
	}
}

// RedisSessionStore is a [SessionStore] backed by Redis, for deployments
// where several gateway instances must agree on active sessions. Expiry
// is delegated to Redis key TTLs, so records vanish on their own and
// Lookup never has to reason about staleness beyond a missing key.
//
// Records round-trip through [sessionWire]; exchanged credentials are
// deliberately absent from the stored form and each instance re-runs the
// credential exchange on demand.
type RedisSessionStore struct {
	client *lgredis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a store over client. A zero or negative
// ttl means [DefaultSessionTTL].
func NewRedisSessionStore(client *lgredis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Lookup implements [SessionStore].
func (s *RedisSessionStore) Lookup(ctx context.Context, id string) (*SessionRecord, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id)
	if err != nil {
		if lgerr.IsNotFound(err) {
			return nil, lgerr.Newf(lgerr.CodeSessionExpired, "auth: session %q is not active", id)
		}
		return nil, err
	}
	var w sessionWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		// A corrupt record is unusable; drop it so the next request
		// stores a fresh one.
		_, _ = s.client.Del(ctx, sessionKeyPrefix+id)
		return nil, lgerr.Wrapf(err, lgerr.CodeSessionExpired,
			"auth: session %q record is unreadable", id)
	}
	return w.toRecord(), nil
}

// Store implements [SessionStore]. SET with an expiry makes the write
// atomic, so the newest record always wins.
func (s *RedisSessionStore) Store(ctx context.Context, rec *SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return lgerr.New(lgerr.CodeValidation, "auth: session record requires a session id")
	}
	if rec.CreatedAt.IsZero() {
		cp := *rec
		cp.CreatedAt = time.Now()
		rec = &cp
	}
	payload, err := json.Marshal(toWire(rec))
	if err != nil {
		return lgerr.Wrap(err, lgerr.CodeInternal, "auth: failed to encode session record")
	}
	return s.client.Set(ctx, sessionKeyPrefix+rec.SessionID, payload, s.ttl)
}

// Invalidate implements [SessionStore].
func (s *RedisSessionStore) Invalidate(ctx context.Context, id string) error {
	_, err := s.client.Del(ctx, sessionKeyPrefix+id)
	return err
}

var _ SessionStore = (*RedisSessionStore)(nil)
