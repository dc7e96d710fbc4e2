package auth

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// DefaultSessionTTL is how long a cached validation result remains usable
// before the token must be re-validated.
const DefaultSessionTTL = time.Hour

// memoryShardCount is the number of lock shards in [MemorySessionStore].
// Sharding keeps lookups for unrelated sessions from contending on a
// single lock under load.
const memoryShardCount = 32

// SessionRecord is a cached validation outcome keyed by session id.
// Records are immutable once stored; a re-validation stores a fresh
// record under the same id (last write wins).
type SessionRecord struct {
	// SessionID identifies the session across requests.
	SessionID string `json:"session_id"`

	// Subject is the authenticated principal, duplicated out of Claims
	// for cheap access in logs and audit events.
	Subject string `json:"subject"`

	// Claims is the expanded claim set from the validated token.
	Claims *ClaimSet `json:"claims"`

	// CredentialHandle names the credential entry associated with this
	// session, if any. The credentials themselves are never serialized;
	// only the in-memory exchange cache holds them.
	CredentialHandle string `json:"credential_handle,omitempty"`

	// CreatedAt is when the record was stored. Expiry is computed from
	// it, never mutated in place.
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore caches validation results per session id so repeated
// requests on the same session skip signature verification and claim
// expansion. A store is a cache, not a source of truth: a miss or an
// expired record simply forces re-validation.
type SessionStore interface {
	// Lookup returns the record for id. A missing or expired record
	// yields a CodeSessionExpired error; an expired record is removed
	// as a side effect.
	Lookup(ctx context.Context, id string) (*SessionRecord, error)

	// Store caches rec under rec.SessionID, unconditionally replacing
	// any previous record.
	Store(ctx context.Context, rec *SessionRecord) error

	// Invalidate removes the record for id. Removing an absent record
	// is not an error.
	Invalidate(ctx context.Context, id string) error
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type memoryShard struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

// MemorySessionStore is a sharded in-process [SessionStore]. It suits
// single-instance deployments and tests; multi-instance deployments
// should use [RedisSessionStore] so sessions survive instance restarts.
type MemorySessionStore struct {
	ttl    time.Duration
	shards [memoryShardCount]memoryShard
	now    func() time.Time
}

// NewMemorySessionStore creates a store with the given TTL. A zero or
// negative ttl means [DefaultSessionTTL].
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &MemorySessionStore{ttl: ttl, now: time.Now}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*SessionRecord)
	}
	return s
}

func (s *MemorySessionStore) shardFor(id string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%memoryShardCount]
}

// Lookup implements [SessionStore].
func (s *MemorySessionStore) Lookup(_ context.Context, id string) (*SessionRecord, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	rec, ok := shard.records[id]
	shard.mu.RUnlock()
	if !ok {
		return nil, lgerr.Newf(lgerr.CodeSessionExpired, "auth: session %q is not active", id)
	}
	if s.now().Sub(rec.CreatedAt) >= s.ttl {
		shard.mu.Lock()
		// Re-check under the write lock: a concurrent Store may have
		// refreshed the record since the read above.
		if cur, ok := shard.records[id]; ok && cur == rec {
			delete(shard.records, id)
		}
		shard.mu.Unlock()
		return nil, lgerr.Newf(lgerr.CodeSessionExpired, "auth: session %q has expired", id)
	}
	return rec, nil
}

// Store implements [SessionStore]. The newest record always wins.
func (s *MemorySessionStore) Store(_ context.Context, rec *SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return lgerr.New(lgerr.CodeValidation, "auth: session record requires a session id")
	}
	if rec.CreatedAt.IsZero() {
		cp := *rec
		cp.CreatedAt = s.now()
		rec = &cp
	}
	shard := s.shardFor(rec.SessionID)
	shard.mu.Lock()
	shard.records[rec.SessionID] = rec
	shard.mu.Unlock()
	return nil
}

// Invalidate implements [SessionStore].
func (s *MemorySessionStore) Invalidate(_ context.Context, id string) error {
	shard := s.shardFor(id)
	shard.mu.Lock()
	delete(shard.records, id)
	shard.mu.Unlock()
	return nil
}

// EvictExpired removes all records older than the TTL and reports how
// many were dropped. Expired records are also removed lazily on lookup,
// so calling this is optional housekeeping for long-lived processes.
func (s *MemorySessionStore) EvictExpired() int {
	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for id, rec := range shard.records {
			if !rec.CreatedAt.After(cutoff) {
				delete(shard.records, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	return evicted
}

// Len reports the number of cached records, expired or not.
func (s *MemorySessionStore) Len() int {
	n := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		n += len(shard.records)
		shard.mu.RUnlock()
	}
	return n
}

var _ SessionStore = (*MemorySessionStore)(nil)
