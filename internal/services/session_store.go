package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
)

// DefaultSessionTTL is how long a session survives without activity before
// the store forgets it. Every save refreshes the window.
const DefaultSessionTTL = 12 * time.Hour

// ErrVersionConflict is returned by Save when another writer has persisted
// the session since this copy was loaded. Callers either reload and retry or
// give up; they never overwrite blind.
var ErrVersionConflict = errors.New("session version conflict")

// SessionStore persists the session aggregate wholesale. Both directions
// revalidate the full schema: a structurally invalid stored document is store
// corruption, not something to coerce.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (*story.Session, error)
	Save(ctx context.Context, s *story.Session) error
}

func sessionKey(sessionID string) string {
	return "story:session:" + sessionID
}

func encodeSession(s *story.Session) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, apierr.Storage(fmt.Errorf("refusing to persist invalid session: %w", err))
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, apierr.Storage(fmt.Errorf("marshal session %q: %w", s.ID, err))
	}
	return raw, nil
}

func decodeSession(sessionID string, raw []byte) (*story.Session, error) {
	var s story.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apierr.Storage(fmt.Errorf("stored session %q is not valid JSON: %w", sessionID, err))
	}
	if err := s.Validate(); err != nil {
		return nil, apierr.Storage(fmt.Errorf("stored session %q failed schema validation: %w", sessionID, err))
	}
	return &s, nil
}
