package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// Cache is the optional Redis fast path in front of the provider chain. A
// nil Cache is fully functional and always misses; every Redis failure
// degrades to a miss so assembly never depends on Redis being up.
type Cache struct {
	client *redis.Client
	log    zerolog.Logger
}

// Component TTLs. Candle windows use half the pair interval instead.
const (
	tickerTTL = 3 * time.Second
	depthTTL  = 5 * time.Second

	cacheOpTimeout = 500 * time.Millisecond
)

// NewCache wraps a Redis client. A nil client yields a nil, miss-only cache.
func NewCache(client *redis.Client, log zerolog.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{
		client: client,
		log:    log.With().Str("component", "snapshot_cache").Logger(),
	}
}

func candleKey(pair models.Pair) string {
	return fmt.Sprintf("quorum:candles:%s:%s", pair.Symbol(), pair.Interval)
}

func tickerKey(pair models.Pair) string {
	return fmt.Sprintf("quorum:ticker:%s", pair.Symbol())
}

func depthKey(pair models.Pair) string {
	return fmt.Sprintf("quorum:depth:%s", pair.Symbol())
}

// get unmarshals a key into dst, reporting a hit. Errors degrade to misses.
func (c *Cache) get(ctx context.Context, key string, dst interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.client.Get(opCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("key", key).Msg("Cache read error, treating as miss")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		return false
	}
	return true
}

// set marshals value under key. Failures are logged and swallowed.
func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache entry")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, key, data, ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// GetCandles returns a cached candle window, if any. Staleness is judged by
// the assembler, not here.
func (c *Cache) GetCandles(ctx context.Context, pair models.Pair) ([]models.Candle, bool) {
	var candles []models.Candle
	if !c.get(ctx, candleKey(pair), &candles) || len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

// SetCandles caches a window for half the pair interval.
func (c *Cache) SetCandles(ctx context.Context, pair models.Pair, candles []models.Candle) {
	c.set(ctx, candleKey(pair), candles, pair.Interval.Duration()/2)
}

// GetTicker returns a cached ticker, if any.
func (c *Cache) GetTicker(ctx context.Context, pair models.Pair) (models.Ticker, bool) {
	var t models.Ticker
	if !c.get(ctx, tickerKey(pair), &t) {
		return models.Ticker{}, false
	}
	return t, true
}

// SetTicker caches the latest quote.
func (c *Cache) SetTicker(ctx context.Context, pair models.Pair, t models.Ticker) {
	c.set(ctx, tickerKey(pair), t, tickerTTL)
}

// GetDepth returns a cached book, if any.
func (c *Cache) GetDepth(ctx context.Context, pair models.Pair) (models.DepthLevels, bool) {
	var d models.DepthLevels
	if !c.get(ctx, depthKey(pair), &d) {
		return models.DepthLevels{}, false
	}
	return d, true
}

// SetDepth caches the book.
func (c *Cache) SetDepth(ctx context.Context, pair models.Pair, d models.DepthLevels) {
	c.set(ctx, depthKey(pair), d, depthTTL)
}

// Health pings Redis.
func (c *Cache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not configured")
	}
	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
