package redis

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/cyberguard-training/internal/domain/progression"
	"github.com/cyberguard/cyberguard-training/internal/domain/shared"
	"github.com/cyberguard/cyberguard-training/internal/domain/user"
	"github.com/cyberguard/cyberguard-training/pkg/circuitbreaker"
	"github.com/cyberguard/cyberguard-training/pkg/logger"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "session:abc", SessionKey("abc"))
	assert.Equal(t, "profile:42", ProfileKey(42))
	assert.Equal(t, "catalog:module:7", CatalogItemKey("module", 7))
}

// unreachableCache points at a closed port so every command fails fast.
func unreachableCache() *Cache {
	return NewCacheFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	}))
}

type countingResolver struct {
	mu    sync.Mutex
	calls int
	item  progression.ActivityItem
	err   error
}

func (r *countingResolver) Resolve(ctx context.Context, kind progression.ActivityKind, id int64) (progression.ActivityItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.item, r.err
}

func TestCatalogCache_DegradesWhenRedisIsDown(t *testing.T) {
	cache := unreachableCache()
	defer cache.Close()

	next := &countingResolver{item: progression.ActivityItem{Kind: progression.KindModule, ID: 1, CategoryID: 2, XPReward: 10}}
	cc := NewCatalogCache(next, cache, logger.Nop())

	item, err := cc.Resolve(context.Background(), progression.KindModule, 1)
	require.NoError(t, err)
	assert.Equal(t, next.item, item)
	assert.Equal(t, 1, next.calls)

	for i := 0; i < 3; i++ {
		_, err = cc.Resolve(context.Background(), progression.KindModule, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cc.Breaker().State())
	assert.Equal(t, 4, next.calls)
}

func TestCatalogCache_PropagatesNotFound(t *testing.T) {
	cache := unreachableCache()
	defer cache.Close()

	next := &countingResolver{err: shared.ErrModuleNotFound}
	cc := NewCatalogCache(next, cache, logger.Nop())

	_, err := cc.Resolve(context.Background(), progression.KindModule, 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSessionStore_EmptyToken(t *testing.T) {
	store := NewSessionStore(unreachableCache())

	_, err := store.Get(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrNotLoggedIn)
	assert.NoError(t, store.Delete(context.Background(), ""))
	assert.ErrorIs(t, store.Create(context.Background(), user.Session{}, time.Minute), ErrCacheKeyEmpty)
}

func TestCache_ArgumentChecks(t *testing.T) {
	c := unreachableCache()
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", nil), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTEGRATION TESTS
// Require TEST_REDIS_ADDR pointing to a disposable Redis.
// ══════════════════════════════════════════════════════════════════════════════

func testCache(t *testing.T) *Cache {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	c := NewCacheFromClient(redis.NewClient(&redis.Options{Addr: addr}))
	require.NoError(t, c.Ping(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegration_SessionStore(t *testing.T) {
	store := NewSessionStore(testCache(t))
	ctx := context.Background()
	token := "it-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	sess := user.Session{Token: token, UserID: 7, Username: "alice", CreatedAt: time.Now()}
	require.NoError(t, store.Create(ctx, sess, time.Minute))

	got, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, shared.ErrNotLoggedIn)
}

func TestIntegration_CatalogCache(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	id := time.Now().UnixNano()

	next := &countingResolver{item: progression.ActivityItem{Kind: progression.KindScenario, ID: id, CategoryID: 3, XPReward: 50}}
	cc := NewCatalogCache(next, cache, logger.Nop())
	t.Cleanup(func() { _ = cache.Delete(ctx, CatalogItemKey("scenario", id)) })

	for i := 0; i < 3; i++ {
		item, err := cc.Resolve(ctx, progression.KindScenario, id)
		require.NoError(t, err)
		assert.Equal(t, shared.XP(50), item.XPReward)
	}
	assert.Equal(t, 1, next.calls)
}

func TestIntegration_ProfileCache(t *testing.T) {
	pc := NewProfileCache(testCache(t), logger.Nop())
	ctx := context.Background()
	userID := time.Now().UnixNano()

	var dest map[string]int
	assert.ErrorIs(t, pc.Get(ctx, userID, &dest), shared.ErrNotFound)

	require.NoError(t, pc.Set(ctx, userID, map[string]int{"level": 3}))
	require.NoError(t, pc.Get(ctx, userID, &dest))
	assert.Equal(t, 3, dest["level"])

	require.NoError(t, pc.Invalidate(ctx, userID))
	assert.ErrorIs(t, pc.Get(ctx, userID, &dest), shared.ErrNotFound)
}
