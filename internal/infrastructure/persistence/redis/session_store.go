package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
)

// SessionStore implements user.SessionStore on top of Cache.
type SessionStore struct {
	cache *Cache
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(cache *Cache) *SessionStore {
	return &SessionStore{cache: cache}
}

// Create stores the session under its token. A zero ttl uses TTLSession.
func (s *SessionStore) Create(ctx context.Context, sess user.Session, ttl time.Duration) error {
	if sess.Token == "" {
		return ErrCacheKeyEmpty
	}
	if ttl == 0 {
		ttl = TTLSession
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = sess.CreatedAt.Add(ttl)
	}
	if err := s.cache.Set(ctx, SessionKey(sess.Token), sess, ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the session for token. A missing or expired session is
// shared.ErrNotLoggedIn.
func (s *SessionStore) Get(ctx context.Context, token string) (*user.Session, error) {
	if token == "" {
		return nil, shared.ErrNotLoggedIn
	}

	var sess user.Session
	if err := s.cache.Get(ctx, SessionKey(token), &sess); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if sess.IsExpired(time.Now()) {
		return nil, shared.ErrNotLoggedIn
	}
	return &sess, nil
}

// Delete removes the session. Deleting an unknown token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.cache.Delete(ctx, SessionKey(token))
}
