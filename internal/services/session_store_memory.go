package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
)

// memorySessionStore backs local development and tests. It keeps the same
// contract as the Redis store, including TTL expiry and version CAS, and
// round-trips through JSON so the codec and schema validation stay on the
// hot path.
type memorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	raw       []byte
	version   int64
	expiresAt time.Time
}

func NewMemorySessionStore(ttl time.Duration) SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &memorySessionStore{
		ttl:     ttl,
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (st *memorySessionStore) Load(ctx context.Context, sessionID string) (*story.Session, error) {
	st.mu.Lock()
	entry, ok := st.entries[sessionKey(sessionID)]
	if ok && st.now().After(entry.expiresAt) {
		delete(st.entries, sessionKey(sessionID))
		ok = false
	}
	st.mu.Unlock()

	if !ok {
		return nil, apierr.SessionNotFound(fmt.Errorf("session %q unknown or expired", sessionID))
	}
	return decodeSession(sessionID, entry.raw)
}

func (st *memorySessionStore) Save(ctx context.Context, s *story.Session) error {
	if s == nil {
		return apierr.Storage(fmt.Errorf("nil session"))
	}

	next := *s
	next.Version = s.Version + 1
	next.UpdatedAt = st.now().UTC()
	raw, err := encodeSession(&next)
	if err != nil {
		return err
	}

	key := sessionKey(s.ID)

	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.entries[key]
	if ok && st.now().After(entry.expiresAt) {
		delete(st.entries, key)
		ok = false
	}
	if ok {
		if entry.version != s.Version {
			return ErrVersionConflict
		}
	} else if s.Version != 0 {
		return apierr.SessionNotFound(fmt.Errorf("session %q expired during update", s.ID))
	}

	st.entries[key] = memoryEntry{
		raw:       raw,
		version:   next.Version,
		expiresAt: st.now().Add(st.ttl),
	}
	s.Version = next.Version
	s.UpdatedAt = next.UpdatedAt
	return nil
}

// corruptStored is a test hook: it replaces the stored document verbatim,
// bypassing validation, the way a buggy writer or manual edit would.
func (st *memorySessionStore) corruptStored(sessionID string, raw []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	key := sessionKey(sessionID)
	entry := st.entries[key]
	entry.raw = raw
	var head struct {
		Version int64 `json:"version"`
	}
	_ = json.Unmarshal(raw, &head)
	entry.version = head.Version
	if entry.expiresAt.IsZero() {
		entry.expiresAt = st.now().Add(st.ttl)
	}
	st.entries[key] = entry
}
