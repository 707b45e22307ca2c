// Package memory holds process-local stores used when Redis is disabled.
// State is lost on restart and is not shared between replicas.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/pkg/timeutil"
)

// SessionStore implements user.SessionStore in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]user.Session
	clock    timeutil.Clock
}

// NewSessionStore creates an empty store.
func NewSessionStore(clock timeutil.Clock) *SessionStore {
	if clock == nil {
		clock = timeutil.NewSystemClock(time.UTC)
	}
	return &SessionStore{
		sessions: make(map[string]user.Session),
		clock:    clock,
	}
}

// Create stores the session. A zero ttl keeps ExpiresAt as given.
func (s *SessionStore) Create(_ context.Context, sess user.Session, ttl time.Duration) error {
	if sess.Token == "" {
		return shared.Validation("session", "Create", "Missing token")
	}
	if sess.ExpiresAt.IsZero() && ttl > 0 {
		sess.ExpiresAt = sess.CreatedAt.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return nil
}

// Get returns shared.ErrNotLoggedIn for unknown or expired tokens.
func (s *SessionStore) Get(_ context.Context, token string) (*user.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok || sess.IsExpired(s.clock.Now()) {
		return nil, shared.ErrNotLoggedIn
	}
	return &sess, nil
}

// Delete removes the session. Unknown tokens are ignored.
func (s *SessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, sess := range s.sessions {
		if sess.IsExpired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
