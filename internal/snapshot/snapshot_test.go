package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

type fakeMarket struct {
	candlesFn func() ([]models.Candle, string, error)
	tickerFn  func() (models.Ticker, string, error)
	depthFn   func() (models.DepthLevels, string, error)
	derivsFn  func() (models.DerivativesFact, string, error)

	hasFunding bool

	candleCalls int
	tickerCalls int
	depthCalls  int
}

func (f *fakeMarket) FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, string, error) {
	f.candleCalls++
	return f.candlesFn()
}

func (f *fakeMarket) FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, string, error) {
	f.tickerCalls++
	return f.tickerFn()
}

func (f *fakeMarket) FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, string, error) {
	f.depthCalls++
	return f.depthFn()
}

func (f *fakeMarket) FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, string, error) {
	if f.derivsFn != nil {
		return f.derivsFn()
	}
	return models.DerivativesFact{}, "", fmt.Errorf("no derivatives handler")
}

func (f *fakeMarket) HasCapability(c models.Capability) bool {
	if c == models.CapFunding || c == models.CapOI {
		return f.hasFunding
	}
	return true
}

var snapNow = time.Date(2026, 3, 1, 12, 3, 17, 0, time.UTC)

func snapPair(t *testing.T) models.Pair {
	t.Helper()
	pair, err := models.NewPair("BTC", "USDT", models.Interval5m)
	require.NoError(t, err)
	return pair
}

// freshCandles ends at the last closed 5m bucket before snapNow, well inside
// the one-interval staleness budget.
func freshCandles(n int) []models.Candle {
	step := 5 * time.Minute
	lastOpen := snapNow.Truncate(step).Add(-step)

	out := make([]models.Candle, 0, n)
	for i := n - 1; i >= 0; i-- {
		open := lastOpen.Add(-time.Duration(i) * step)
		px := 50000 + float64(n-i)*10
		out = append(out, models.Candle{
			OpenTime: open, Open: px - 5, High: px + 20, Low: px - 20,
			Close: px, Volume: 30, CloseTime: open.Add(step), Trades: 100,
		})
	}
	return out
}

func freshTicker() models.Ticker {
	return models.Ticker{
		Last: 50600.5, Bid: 50600, Ask: 50601, Volume24h: 8000,
		Timestamp: snapNow.Add(-time.Second),
	}
}

func freshDepth() models.DepthLevels {
	return models.DepthLevels{
		Bids:      []models.PriceLevel{{Price: 50600, Size: 3}, {Price: 50599, Size: 2}},
		Asks:      []models.PriceLevel{{Price: 50601, Size: 1}, {Price: 50602, Size: 4}},
		Timestamp: snapNow.Add(-2 * time.Second),
	}
}

func workingMarket() *fakeMarket {
	return &fakeMarket{
		candlesFn: func() ([]models.Candle, string, error) { return freshCandles(60), "primary", nil },
		tickerFn:  func() (models.Ticker, string, error) { return freshTicker(), "primary", nil },
		depthFn:   func() (models.DepthLevels, string, error) { return freshDepth(), "primary", nil },
	}
}

func newTestAssembler(t *testing.T, market MarketData, cache *Cache) *Assembler {
	t.Helper()
	return NewAssembler(market, cache, zerolog.Nop(),
		WithAssemblerClock(func() time.Time { return snapNow }))
}

func TestAssembleFullQuality(t *testing.T) {
	market := workingMarket()
	market.hasFunding = true
	market.derivsFn = func() (models.DerivativesFact, string, error) {
		return models.DerivativesFact{
			FundingRate: 0.0001, OpenInterest: 120000, Basis: 12.5,
			Timestamp: snapNow.Add(-30 * time.Second),
		}, "primary", nil
	}

	snap, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.NoError(t, err)

	assert.Equal(t, models.SnapshotFull, snap.Quality)
	require.NotNil(t, snap.Derivatives)
	assert.InDelta(t, 0.0001, snap.Derivatives.FundingRate, 1e-12)
	require.NotNil(t, snap.Features)
	assert.Greater(t, snap.Features.RealizedVolPct, 0.0)

	// T_snap is the oldest required component: the candle close.
	assert.Equal(t, snapNow.Truncate(5*time.Minute), snap.TSnap)
}

func TestAssemblePartialWhenDerivativesFail(t *testing.T) {
	market := workingMarket()
	market.hasFunding = true
	market.derivsFn = func() (models.DerivativesFact, string, error) {
		return models.DerivativesFact{}, "", fmt.Errorf("futures endpoint down")
	}

	snap, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotPartial, snap.Quality)
	assert.Nil(t, snap.Derivatives)
}

func TestAssemblePartialWhenDerivativesStale(t *testing.T) {
	market := workingMarket()
	market.hasFunding = true
	market.derivsFn = func() (models.DerivativesFact, string, error) {
		return models.DerivativesFact{
			FundingRate: 0.0002, OpenInterest: 1, Timestamp: snapNow.Add(-5 * time.Minute),
		}, "primary", nil
	}

	snap, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotPartial, snap.Quality)
	assert.Nil(t, snap.Derivatives)
}

func TestAssembleFullWhenDerivativesNotConfigured(t *testing.T) {
	market := workingMarket()
	market.hasFunding = false

	snap, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotFull, snap.Quality)
	assert.Nil(t, snap.Derivatives)
}

func TestAssembleFailsWhenCandlesExhausted(t *testing.T) {
	market := workingMarket()
	market.candlesFn = func() ([]models.Candle, string, error) {
		return nil, "", fmt.Errorf("all providers exhausted")
	}

	_, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Contains(t, err.Error(), "candles")
}

func TestAssembleFailsOnStaleTicker(t *testing.T) {
	market := workingMarket()
	market.tickerFn = func() (models.Ticker, string, error) {
		stale := freshTicker()
		stale.Timestamp = snapNow.Add(-30 * time.Second)
		return stale, "primary", nil
	}

	_, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Contains(t, err.Error(), "ticker")
}

func TestAssembleFailsOnStaleCandles(t *testing.T) {
	market := workingMarket()
	market.candlesFn = func() ([]models.Candle, string, error) {
		old := freshCandles(60)
		shift := 20 * time.Minute
		for i := range old {
			old[i].OpenTime = old[i].OpenTime.Add(-shift)
			old[i].CloseTime = old[i].CloseTime.Add(-shift)
		}
		return old, "primary", nil
	}

	_, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Contains(t, err.Error(), "staleness budget")
}

func TestAssembleFailsWhenWindowTooShortForFeatures(t *testing.T) {
	market := workingMarket()
	market.candlesFn = func() ([]models.Candle, string, error) { return freshCandles(10), "primary", nil }

	_, err := newTestAssembler(t, market, nil).Assemble(context.Background(), snapPair(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Contains(t, err.Error(), "features")
}

func TestAssembleServesFromCacheOnSecondCall(t *testing.T) {
	cache, _ := setupTestCache(t)
	market := workingMarket()
	asm := newTestAssembler(t, market, cache)
	ctx := context.Background()

	_, err := asm.Assemble(ctx, snapPair(t))
	require.NoError(t, err)
	assert.Equal(t, 1, market.candleCalls)
	assert.Equal(t, 1, market.tickerCalls)
	assert.Equal(t, 1, market.depthCalls)

	_, err = asm.Assemble(ctx, snapPair(t))
	require.NoError(t, err)
	assert.Equal(t, 1, market.candleCalls)
	assert.Equal(t, 1, market.tickerCalls)
	assert.Equal(t, 1, market.depthCalls)
}

func TestAssembleIgnoresStaleCacheEntries(t *testing.T) {
	cache, _ := setupTestCache(t)
	pair := snapPair(t)
	ctx := context.Background()

	stale := freshTicker()
	stale.Timestamp = snapNow.Add(-time.Minute)
	cache.SetTicker(ctx, pair, stale)

	market := workingMarket()
	snap, err := newTestAssembler(t, market, cache).Assemble(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, 1, market.tickerCalls)
	assert.Equal(t, freshTicker().Timestamp, snap.Ticker.Timestamp)
}

func TestCustomBudgetsApply(t *testing.T) {
	market := workingMarket()
	asm := NewAssembler(market, nil, zerolog.Nop(),
		WithAssemblerClock(func() time.Time { return snapNow }),
		WithBudgets(Budgets{CandleIntervals: 1, Ticker: 500 * time.Millisecond, Depth: 10 * time.Second, Derivatives: time.Minute}),
	)

	// The default ticker (1s old) violates a 500ms budget.
	_, err := asm.Assemble(context.Background(), snapPair(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}
