package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prokat-bot/internal/dialog"
	"prokat-bot/pkg/redis"
)

// Store keeps dialog sessions in Redis, one JSON blob per identity.
// Redis guarantees per-key ordering, which is all the session contract
// needs once the transport serializes events per identity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

var _ dialog.SessionStore = (*Store)(nil)

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

// Get returns the stored session, or the zero (idle) session when none
// exists.
func (s *Store) Get(ctx context.Context, identity string) (dialog.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(identity))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return dialog.Session{}, nil
	}
	if err != nil {
		return dialog.Session{}, fmt.Errorf("get session: %w", err)
	}

	var session dialog.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return dialog.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *Store) Set(ctx context.Context, identity string, session dialog.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(identity), data, s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, sessionKey(identity)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CheckRateLimit counts events per identity in a rolling window and
// reports whether the limit is exceeded.
func (s *Store) CheckRateLimit(ctx context.Context, identity string, limit int64, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", identity)

	count, err := s.client.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	// Set expiry if this is the first increment
	if count == 1 {
		if _, err := s.client.Expire(ctx, key, window); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count > limit, nil
}

func sessionKey(identity string) string {
	return fmt.Sprintf("session:%s", identity)
}
