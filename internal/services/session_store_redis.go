package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lullabyte/lullabyte-backend/internal/domain/story"
	"github.com/lullabyte/lullabyte-backend/internal/platform/apierr"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type redisSessionStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisSessionStore(log *logger.Logger, ttl time.Duration) (SessionStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisSessionStore{
		log: log.With("service", "RedisSessionStore"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (st *redisSessionStore) Load(ctx context.Context, sessionID string) (*story.Session, error) {
	raw, err := st.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, apierr.SessionNotFound(fmt.Errorf("session %q unknown or expired", sessionID))
	}
	if err != nil {
		return nil, apierr.Storage(fmt.Errorf("load session %q: %w", sessionID, err))
	}
	return decodeSession(sessionID, raw)
}

// Save is a compare-and-swap on the session's version counter, implemented
// with WATCH/MULTI so a concurrent writer makes the transaction fail instead
// of silently losing its update. The TTL is refreshed on every save.
func (st *redisSessionStore) Save(ctx context.Context, s *story.Session) error {
	if s == nil {
		return apierr.Storage(fmt.Errorf("nil session"))
	}
	key := sessionKey(s.ID)

	next := *s
	next.Version = s.Version + 1
	next.UpdatedAt = time.Now().UTC()
	raw, err := encodeSession(&next)
	if err != nil {
		return err
	}

	txErr := st.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			if s.Version != 0 {
				// The document expired underneath a long-running writer;
				// saving would silently resurrect it.
				return apierr.SessionNotFound(fmt.Errorf("session %q expired during update", s.ID))
			}
		case err != nil:
			return apierr.Storage(fmt.Errorf("read session %q for cas: %w", s.ID, err))
		default:
			var head struct {
				Version int64 `json:"version"`
			}
			if jsonErr := json.Unmarshal(stored, &head); jsonErr != nil {
				return apierr.Storage(fmt.Errorf("stored session %q is not valid JSON: %w", s.ID, jsonErr))
			}
			if head.Version != s.Version {
				return ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, st.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(txErr, goredis.TxFailedErr) {
		return ErrVersionConflict
	}
	if txErr != nil {
		if errors.Is(txErr, ErrVersionConflict) || apierr.IsKind(txErr, apierr.KindSessionNotFound) {
			return txErr
		}
		return apierr.Storage(fmt.Errorf("save session %q: %w", s.ID, txErr))
	}

	s.Version = next.Version
	s.UpdatedAt = next.UpdatedAt
	return nil
}
