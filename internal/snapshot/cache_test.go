package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, zerolog.Nop()), mr
}

func cachePair(t *testing.T) models.Pair {
	t.Helper()
	pair, err := models.NewPair("ETH", "USDT", models.Interval5m)
	require.NoError(t, err)
	return pair
}

func TestCacheTickerRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	pair := cachePair(t)
	ctx := context.Background()

	_, ok := cache.GetTicker(ctx, pair)
	assert.False(t, ok)

	want := models.Ticker{
		Last: 3100.5, Bid: 3100, Ask: 3101, Volume24h: 999,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cache.SetTicker(ctx, pair, want)

	got, ok := cache.GetTicker(ctx, pair)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCacheCandlesRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	pair := cachePair(t)
	ctx := context.Background()

	open := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)
	want := []models.Candle{{
		OpenTime: open, Open: 3000, High: 3010, Low: 2995, Close: 3005,
		Volume: 12, CloseTime: open.Add(5 * time.Minute), Trades: 40,
	}}
	cache.SetCandles(ctx, pair, want)

	got, ok := cache.GetCandles(ctx, pair)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCacheDepthRoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	pair := cachePair(t)
	ctx := context.Background()

	want := models.DepthLevels{
		Bids:      []models.PriceLevel{{Price: 3100, Size: 2}},
		Asks:      []models.PriceLevel{{Price: 3101, Size: 1}},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cache.SetDepth(ctx, pair, want)

	got, ok := cache.GetDepth(ctx, pair)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, mr := setupTestCache(t)
	pair := cachePair(t)
	ctx := context.Background()

	cache.SetTicker(ctx, pair, models.Ticker{
		Last: 1, Bid: 1, Ask: 1, Timestamp: time.Now().UTC(),
	})

	mr.FastForward(tickerTTL + time.Second)

	_, ok := cache.GetTicker(ctx, pair)
	assert.False(t, ok)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	pair := cachePair(t)

	require.NoError(t, mr.Set(tickerKey(pair), "not json"))

	_, ok := cache.GetTicker(context.Background(), pair)
	assert.False(t, ok)
}

func TestNilCacheIsMissOnly(t *testing.T) {
	var cache *Cache
	pair := cachePair(t)
	ctx := context.Background()

	_, ok := cache.GetTicker(ctx, pair)
	assert.False(t, ok)
	_, ok = cache.GetCandles(ctx, pair)
	assert.False(t, ok)
	_, ok = cache.GetDepth(ctx, pair)
	assert.False(t, ok)

	// Writes are no-ops, not panics.
	cache.SetTicker(ctx, pair, models.Ticker{})
	cache.SetCandles(ctx, pair, nil)
	cache.SetDepth(ctx, pair, models.DepthLevels{})

	assert.Error(t, cache.Health(ctx))
	assert.Nil(t, NewCache(nil, zerolog.Nop()))
}
