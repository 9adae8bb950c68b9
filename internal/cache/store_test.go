package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/export-service/internal/cache"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T) (*cache.Store, *miniredis.Miniredis, *clock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := cache.New(client, infralogger.NewNop(), cache.Options{LocalTTL: time.Minute, Now: c.Now})
	return store, mr, c
}

func TestStore_SetWritesBothTiers(t *testing.T) {
	t.Parallel()

	store, mr, _ := setup(t)
	ctx := t.Context()

	require.NoError(t, store.Set(ctx, "abc", "value", time.Hour))

	shared, err := mr.Get(cache.KeyPrefix + "abc")
	require.NoError(t, err)
	assert.Equal(t, "value", shared)
	assert.Equal(t, time.Hour, mr.TTL(cache.KeyPrefix+"abc"))

	v, ok := store.Get(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestStore_LocalTierServesWithoutShared(t *testing.T) {
	t.Parallel()

	store, mr, _ := setup(t)
	ctx := t.Context()

	require.NoError(t, store.Set(ctx, "abc", "value", time.Hour))
	mr.Del(cache.KeyPrefix + "abc")

	v, ok := store.Get(ctx, "abc")
	require.True(t, ok, "local tier should still hold the value")
	assert.Equal(t, "value", v)
}

func TestStore_ExpiredLocalFallsBackToShared(t *testing.T) {
	t.Parallel()

	store, mr, clk := setup(t)
	ctx := t.Context()

	require.NoError(t, store.Set(ctx, "abc", "old", time.Hour))
	require.NoError(t, mr.Set(cache.KeyPrefix+"abc", "new"))

	clk.Advance(61 * time.Second)

	v, ok := store.Get(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, "new", v)

	mr.Del(cache.KeyPrefix + "abc")
	v, ok = store.Get(ctx, "abc")
	require.True(t, ok, "shared hit repopulates the local tier")
	assert.Equal(t, "new", v)
}

func TestStore_Miss(t *testing.T) {
	t.Parallel()

	store, _, _ := setup(t)

	_, ok := store.Get(t.Context(), "missing")
	assert.False(t, ok)
}

func TestStore_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	store, _, _ := setup(t)
	ctx := t.Context()

	type payload struct {
		URL   string `json:"url"`
		Total int64  `json:"total"`
	}

	require.NoError(t, store.SetJSON(ctx, "k", payload{URL: "https://files/x.xlsx", Total: 7}, time.Hour))

	var got payload
	require.True(t, store.GetJSON(ctx, "k", &got))
	assert.Equal(t, payload{URL: "https://files/x.xlsx", Total: 7}, got)
}

func TestStore_Invalidate(t *testing.T) {
	t.Parallel()

	store, mr, _ := setup(t)
	ctx := t.Context()

	require.NoError(t, store.Set(ctx, "payment-a", "1", time.Hour))
	require.NoError(t, store.Set(ctx, "payment-b", "2", time.Hour))
	require.NoError(t, store.Set(ctx, "wallet-a", "3", time.Hour))

	n, err := store.Invalidate(ctx, "payment*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := store.Get(ctx, "payment-a")
	assert.False(t, ok)
	assert.False(t, mr.Exists(cache.KeyPrefix+"payment-b"))

	_, ok = store.Get(ctx, "wallet-a")
	assert.True(t, ok)
}

func TestStore_LocalOnly(t *testing.T) {
	t.Parallel()

	store := cache.New(nil, nil, cache.Options{})
	ctx := t.Context()

	require.NoError(t, store.Set(ctx, "k", "v", time.Hour))
	v, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	n, err := store.Invalidate(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_LocalTierIsBounded(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := cache.New(nil, infralogger.NewNop(), cache.Options{
		LocalTTL:        time.Minute,
		MaxLocalEntries: 3,
		Now:             clk.Now,
	})
	ctx := t.Context()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Set(ctx, key, key, time.Hour))
	}
	require.Equal(t, 3, store.LocalLen())

	clk.Advance(2 * time.Minute)
	require.NoError(t, store.Set(ctx, "d", "d", time.Hour))
	assert.Equal(t, 1, store.LocalLen(), "expired entries are swept at the cap")

	clk.Advance(time.Second)
	require.NoError(t, store.Set(ctx, "e", "e", time.Hour))
	clk.Advance(time.Second)
	require.NoError(t, store.Set(ctx, "f", "f", time.Hour))
	clk.Advance(time.Second)
	require.NoError(t, store.Set(ctx, "g", "g", time.Hour))
	assert.Equal(t, 3, store.LocalLen())

	_, ok := store.Get(ctx, "d")
	assert.False(t, ok, "the entry closest to expiry is evicted")
	v, ok := store.Get(ctx, "g")
	require.True(t, ok)
	assert.Equal(t, "g", v)
}
