package redis

import (
	"context"
	"errors"

	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/pkg/circuitbreaker"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// ProfileCache stores per-user profile snapshots as JSON. Reads and writes
// go through a circuit breaker; invalidation always reaches Redis.
type ProfileCache struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
}

// NewProfileCache creates a new ProfileCache.
func NewProfileCache(cache *Cache, log *logger.Logger) *ProfileCache {
	return &ProfileCache{
		cache:   cache,
		breaker: newReadBreaker("redis-profile", log.Named("profile_cache")),
	}
}

// Get decodes the cached profile into dest. A miss is shared.ErrNotFound.
func (p *ProfileCache) Get(ctx context.Context, userID int64, dest interface{}) error {
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.cache.Get(ctx, ProfileKey(userID), dest)
	})
	if errors.Is(err, ErrCacheMiss) {
		return shared.ErrNotFound
	}
	return err
}

// Set caches the profile for TTLProfile.
func (p *ProfileCache) Set(ctx context.Context, userID int64, profile interface{}) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.cache.Set(ctx, ProfileKey(userID), profile, TTLProfile)
	})
}

// Invalidate drops the cached profile.
func (p *ProfileCache) Invalidate(ctx context.Context, userID int64) error {
	return p.cache.Delete(ctx, ProfileKey(userID))
}
