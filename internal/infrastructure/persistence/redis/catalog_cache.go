package redis

import (
	"context"
	"errors"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/pkg/circuitbreaker"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

// newReadBreaker guards an optional read cache. Misses are normal traffic
// and never open the circuit.
func newReadBreaker(name string, log *logger.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.CacheBreaker(name,
		func(err error) bool { return !errors.Is(err, ErrCacheMiss) },
		func(name string, from, to circuitbreaker.State) {
			log.Warn("cache circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	)
}

// CatalogCache is a read-through progression.ItemResolver. Redis failures
// degrade to the wrapped resolver; they never fail a lookup. After a few
// failures Redis is skipped until the breaker probes it again.
type CatalogCache struct {
	next    progression.ItemResolver
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewCatalogCache wraps next with a Redis cache.
func NewCatalogCache(next progression.ItemResolver, cache *Cache, log *logger.Logger) *CatalogCache {
	log = log.Named("catalog_cache")
	return &CatalogCache{
		next:    next,
		cache:   cache,
		breaker: newReadBreaker("redis-catalog", log),
		log:     log,
	}
}

// Resolve returns the cached item or loads and caches it.
func (c *CatalogCache) Resolve(ctx context.Context, kind progression.ActivityKind, itemID int64) (progression.ActivityItem, error) {
	key := CatalogItemKey(kind.String(), itemID)

	var item progression.ActivityItem
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Get(ctx, key, &item)
	})
	if err == nil {
		return item, nil
	}
	c.warn("catalog cache read failed", key, err)

	item, err = c.next.Resolve(ctx, kind, itemID)
	if err != nil {
		return progression.ActivityItem{}, err
	}

	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key, item, TTLCatalogItem)
	})
	c.warn("catalog cache write failed", key, err)

	return item, nil
}

func (c *CatalogCache) warn(msg, key string, err error) {
	if err == nil || errors.Is(err, ErrCacheMiss) || errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return
	}
	c.log.Warn(msg, logger.String("key", key), logger.Err(err))
}

// Breaker exposes the circuit state for health reporting.
func (c *CatalogCache) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

// Flush drops every cached catalog item. Called after reseeding.
func (c *CatalogCache) Flush(ctx context.Context) error {
	return c.cache.DeleteByPattern(ctx, PrefixCatalog+"*")
}
