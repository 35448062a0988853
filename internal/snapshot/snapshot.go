// Package snapshot assembles the immutable market snapshot a decision cycle
// runs on: candle window, ticker and depth through the provider failover
// chain (with an optional Redis fast path), plus optional derivatives
// context and the computed feature block.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quorum-trader/internal/indicators"
	"quorum-trader/pkg/models"
)

// ErrDataUnavailable marks a cycle that cannot run: a required component
// could not be fetched fresh from any provider.
var ErrDataUnavailable = errors.New("market data unavailable")

// MarketData is the provider chain surface the assembler consumes. The
// second return value names the serving provider.
type MarketData interface {
	FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, string, error)
	FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, string, error)
	FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, string, error)
	FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, string, error)
	HasCapability(c models.Capability) bool
}

// Budgets are the per-component staleness limits. CandleIntervals is a
// multiplier of the pair interval.
type Budgets struct {
	CandleIntervals float64
	Ticker          time.Duration
	Depth           time.Duration
	Derivatives     time.Duration
}

// DefaultBudgets returns the standard staleness limits.
func DefaultBudgets() Budgets {
	return Budgets{
		CandleIntervals: 1,
		Ticker:          5 * time.Second,
		Depth:           10 * time.Second,
		Derivatives:     60 * time.Second,
	}
}

// Assembler builds snapshots.
type Assembler struct {
	market  MarketData
	cache   *Cache
	budgets Budgets

	candleLimit int
	depthLevels int
	indicators  indicators.Config

	now     func() time.Time
	log     zerolog.Logger
	metrics *assemblerMetrics
}

// AssemblerOption customizes an Assembler.
type AssemblerOption func(*Assembler)

// WithBudgets overrides the staleness budgets.
func WithBudgets(b Budgets) AssemblerOption {
	return func(a *Assembler) { a.budgets = b }
}

// WithCandleLimit sets the candle window length.
func WithCandleLimit(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.candleLimit = n
		}
	}
}

// WithDepthLevels sets how many book levels to request.
func WithDepthLevels(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.depthLevels = n
		}
	}
}

// WithIndicatorConfig overrides the indicator periods.
func WithIndicatorConfig(cfg indicators.Config) AssemblerOption {
	return func(a *Assembler) { a.indicators = cfg }
}

// WithAssemblerClock injects a clock for tests.
func WithAssemblerClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler creates an assembler over the provider chain. cache may be
// nil.
func NewAssembler(market MarketData, cache *Cache, log zerolog.Logger, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		market:      market,
		cache:       cache,
		budgets:     DefaultBudgets(),
		candleLimit: 120,
		depthLevels: 20,
		indicators:  indicators.DefaultConfig(),
		now:         time.Now,
		log:         log.With().Str("component", "snapshot").Logger(),
		metrics:     getOrCreateAssemblerMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the snapshot for one cycle. It returns ErrDataUnavailable
// (wrapped with component detail) when any required component cannot be
// served fresh; derivatives failures only degrade quality to PARTIAL.
func (a *Assembler) Assemble(ctx context.Context, pair models.Pair) (*models.MarketSnapshot, error) {
	start := a.now()

	candles, err := a.candles(ctx, pair)
	if err != nil {
		return nil, err
	}
	ticker, err := a.ticker(ctx, pair)
	if err != nil {
		return nil, err
	}
	depth, err := a.depth(ctx, pair)
	if err != nil {
		return nil, err
	}

	quality := models.SnapshotFull
	var derivatives *models.DerivativesFact
	if a.market.HasCapability(models.CapFunding) {
		if fact, ok := a.derivatives(ctx, pair); ok {
			derivatives = &fact
		} else {
			quality = models.SnapshotPartial
			a.metrics.partialSnapshots.WithLabelValues(pair.String()).Inc()
		}
	}

	features, err := indicators.ComputeFeatures(candles, ticker, depth, a.indicators)
	if err != nil {
		return nil, fmt.Errorf("%w: features for %s: %v", ErrDataUnavailable, pair, err)
	}

	snap := &models.MarketSnapshot{
		Pair:        pair,
		TSnap:       snapshotTime(candles, ticker, depth),
		Quality:     quality,
		Candles:     candles,
		Ticker:      ticker,
		Depth:       depth,
		Derivatives: derivatives,
		Features:    features,
	}

	a.metrics.assembleSeconds.WithLabelValues(pair.String()).Observe(a.now().Sub(start).Seconds())
	a.log.Debug().
		Str("pair", pair.String()).
		Time("t_snap", snap.TSnap).
		Str("quality", string(snap.Quality)).
		Int("candles", len(candles)).
		Msg("Snapshot assembled")
	return snap, nil
}

// snapshotTime is the oldest timestamp among the required components, so no
// required input is older than the snapshot claims.
func snapshotTime(candles []models.Candle, ticker models.Ticker, depth models.DepthLevels) time.Time {
	t := candles[len(candles)-1].CloseTime
	if ticker.Timestamp.Before(t) {
		t = ticker.Timestamp
	}
	if depth.Timestamp.Before(t) {
		t = depth.Timestamp
	}
	return t
}

func (a *Assembler) candleBudget(pair models.Pair) time.Duration {
	mult := a.budgets.CandleIntervals
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(pair.Interval.Duration()) * mult)
}

// candlesFresh requires the newest candle to have closed within the budget.
func (a *Assembler) candlesFresh(pair models.Pair, candles []models.Candle) bool {
	if len(candles) == 0 {
		return false
	}
	age := a.now().Sub(candles[len(candles)-1].CloseTime)
	return age <= a.candleBudget(pair)
}

func (a *Assembler) candles(ctx context.Context, pair models.Pair) ([]models.Candle, error) {
	if cached, ok := a.cache.GetCandles(ctx, pair); ok && a.candlesFresh(pair, cached) {
		a.metrics.cacheHits.WithLabelValues("candles").Inc()
		return cached, nil
	}

	candles, servedBy, err := a.market.FetchCandles(ctx, pair, pair.Interval, a.candleLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: candles for %s: %v", ErrDataUnavailable, pair, err)
	}
	if !a.candlesFresh(pair, candles) {
		return nil, fmt.Errorf("%w: candles for %s from %s exceed staleness budget", ErrDataUnavailable, pair, servedBy)
	}
	a.cache.SetCandles(ctx, pair, candles)
	return candles, nil
}

func (a *Assembler) ticker(ctx context.Context, pair models.Pair) (models.Ticker, error) {
	if cached, ok := a.cache.GetTicker(ctx, pair); ok && a.now().Sub(cached.Timestamp) <= a.budgets.Ticker {
		a.metrics.cacheHits.WithLabelValues("ticker").Inc()
		return cached, nil
	}

	ticker, servedBy, err := a.market.FetchTicker(ctx, pair)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("%w: ticker for %s: %v", ErrDataUnavailable, pair, err)
	}
	if age := a.now().Sub(ticker.Timestamp); age > a.budgets.Ticker {
		return models.Ticker{}, fmt.Errorf("%w: ticker for %s from %s is %s old", ErrDataUnavailable, pair, servedBy, age)
	}
	a.cache.SetTicker(ctx, pair, ticker)
	return ticker, nil
}

func (a *Assembler) depth(ctx context.Context, pair models.Pair) (models.DepthLevels, error) {
	if cached, ok := a.cache.GetDepth(ctx, pair); ok && a.now().Sub(cached.Timestamp) <= a.budgets.Depth {
		a.metrics.cacheHits.WithLabelValues("depth").Inc()
		return cached, nil
	}

	depth, servedBy, err := a.market.FetchDepth(ctx, pair, a.depthLevels)
	if err != nil {
		return models.DepthLevels{}, fmt.Errorf("%w: depth for %s: %v", ErrDataUnavailable, pair, err)
	}
	if age := a.now().Sub(depth.Timestamp); age > a.budgets.Depth {
		return models.DepthLevels{}, fmt.Errorf("%w: depth for %s from %s is %s old", ErrDataUnavailable, pair, servedBy, age)
	}
	a.cache.SetDepth(ctx, pair, depth)
	return depth, nil
}

// derivatives is best-effort; any failure or staleness degrades to absent.
func (a *Assembler) derivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, bool) {
	fact, servedBy, err := a.market.FetchDerivatives(ctx, pair)
	if err != nil {
		a.log.Debug().Err(err).Str("pair", pair.String()).Msg("Derivatives unavailable, snapshot degrades to PARTIAL")
		return models.DerivativesFact{}, false
	}
	if age := a.now().Sub(fact.Timestamp); age > a.budgets.Derivatives {
		a.log.Debug().
			Str("pair", pair.String()).
			Str("provider", servedBy).
			Dur("age", age).
			Msg("Derivatives stale, snapshot degrades to PARTIAL")
		return models.DerivativesFact{}, false
	}
	return fact, true
}
