package providers

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"quorum-trader/pkg/models"
)

// SimProvider synthesizes market data from a seeded walk. The same pair,
// interval and clock always yield the same candles, which keeps dev runs
// and tests reproducible without network access.
type SimProvider struct {
	id   string
	caps models.CapabilitySet
	now  func() time.Time
}

// SimOption adjusts the simulated provider.
type SimOption func(*SimProvider)

// WithSimClock overrides the wall clock.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *SimProvider) { s.now = now }
}

// NewSimProvider creates a provider advertising every capability.
func NewSimProvider(id string, opts ...SimOption) *SimProvider {
	if id == "" {
		id = "sim"
	}
	s := &SimProvider{
		id:   id,
		caps: models.NewCapabilitySet(models.AllCapabilities...),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimProvider) ID() string {
	return s.id
}

func (s *SimProvider) Capabilities() models.CapabilitySet {
	return s.caps
}

// basePrice derives a stable anchor price per asset from its name.
func basePrice(base string) float64 {
	switch base {
	case "BTC":
		return 52000
	case "ETH":
		return 3100
	case "SOL":
		return 140
	}
	h := fnv.New32a()
	h.Write([]byte(base))
	return 20 + float64(h.Sum32()%80000)/100
}

// pairSeed folds the pair symbol into a walk seed.
func pairSeed(pair models.Pair) int64 {
	h := fnv.New64a()
	h.Write([]byte(pair.Symbol()))
	return int64(h.Sum64())
}

// priceAt is a smooth deterministic price path: two slow sine components
// over the anchor plus per-bucket jitter, indexed by candle number.
func priceAt(seed int64, anchor float64, idx int64) float64 {
	k := float64(idx)
	trend := 1 + 0.06*math.Sin(2*math.Pi*k/96) + 0.025*math.Sin(2*math.Pi*k/17)
	rng := rand.New(rand.NewSource(seed + idx))
	jitter := 1 + (rng.Float64()-0.5)*0.01
	return anchor * trend * jitter
}

func (s *SimProvider) candleAt(pair models.Pair, interval models.Interval, openTime time.Time) models.Candle {
	step := interval.Duration()
	seed := pairSeed(pair)
	anchor := basePrice(pair.Base)
	idx := openTime.Unix() / int64(step.Seconds())

	open := priceAt(seed, anchor, idx)
	closeP := priceAt(seed, anchor, idx+1)
	rng := rand.New(rand.NewSource(seed ^ (idx * 2654435761)))

	hi := math.Max(open, closeP) * (1 + rng.Float64()*0.004)
	lo := math.Min(open, closeP) * (1 - rng.Float64()*0.004)
	vol := 50 + rng.Float64()*450

	return models.Candle{
		OpenTime:  openTime,
		Open:      open,
		High:      hi,
		Low:       lo,
		Close:     closeP,
		Volume:    vol,
		CloseTime: openTime.Add(step),
		Trades:    100 + rng.Int63n(4000),
	}
}

func (s *SimProvider) FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	step := interval.Duration()
	// The latest candle is the last fully closed bucket.
	latestOpen := s.now().UTC().Truncate(step).Add(-step)

	candles := make([]models.Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		openTime := latestOpen.Add(-time.Duration(i) * step)
		candles = append(candles, s.candleAt(pair, interval, openTime))
	}
	return candles, nil
}

func (s *SimProvider) FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticker{}, err
	}
	seed := pairSeed(pair)
	anchor := basePrice(pair.Base)
	now := s.now().UTC()
	idx := now.Unix() / 60

	last := priceAt(seed, anchor, idx)
	spread := last * 0.0008
	return models.Ticker{
		Last:      last,
		Bid:       last - spread/2,
		Ask:       last + spread/2,
		Volume24h: 12000 + float64(idx%5000),
		Timestamp: now,
	}, nil
}

func (s *SimProvider) FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, error) {
	if err := ctx.Err(); err != nil {
		return models.DepthLevels{}, err
	}
	if levels <= 0 {
		levels = 20
	}
	ticker, err := s.FetchTicker(ctx, pair)
	if err != nil {
		return models.DepthLevels{}, err
	}

	rng := rand.New(rand.NewSource(pairSeed(pair) ^ (s.now().UTC().Unix() / 10)))
	tick := ticker.Last * 0.0004

	depth := models.DepthLevels{
		Bids:      make([]models.PriceLevel, 0, levels),
		Asks:      make([]models.PriceLevel, 0, levels),
		Timestamp: ticker.Timestamp,
	}
	for i := 0; i < levels; i++ {
		depth.Bids = append(depth.Bids, models.PriceLevel{
			Price: ticker.Bid - float64(i)*tick,
			Size:  0.5 + rng.Float64()*8,
		})
		depth.Asks = append(depth.Asks, models.PriceLevel{
			Price: ticker.Ask + float64(i)*tick,
			Size:  0.5 + rng.Float64()*8,
		})
	}
	return depth, nil
}

func (s *SimProvider) FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, error) {
	if err := ctx.Err(); err != nil {
		return models.DerivativesFact{}, err
	}
	now := s.now().UTC()
	idx := now.Unix() / 3600
	rng := rand.New(rand.NewSource(pairSeed(pair) + idx))

	last, err := s.FetchTicker(ctx, pair)
	if err != nil {
		return models.DerivativesFact{}, err
	}
	return models.DerivativesFact{
		FundingRate:  (rng.Float64() - 0.45) * 0.0004,
		OpenInterest: 90000 + rng.Float64()*30000,
		Basis:        last.Last * (rng.Float64() - 0.4) * 0.001,
		Timestamp:    now,
	}, nil
}
