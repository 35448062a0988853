package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// BinanceProvider serves spot market data from Binance and derivatives
// context (funding, open interest, basis) from Binance futures.
type BinanceProvider struct {
	id      string
	client  *binance.Client
	futures *futures.Client
	caps    models.CapabilitySet
	hasAuth bool
	log     zerolog.Logger
}

// BinanceConfig configures the Binance provider.
type BinanceConfig struct {
	ID           string
	APIKey       string
	SecretKey    string
	BaseURL      string
	Testnet      bool
	Capabilities models.CapabilitySet
}

// NewBinanceProvider creates the provider. With Testnet set the sandbox
// endpoints are used for both spot and futures.
func NewBinanceProvider(cfg BinanceConfig, log zerolog.Logger) *BinanceProvider {
	if cfg.Testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	fclient := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	id := cfg.ID
	if id == "" {
		id = "binance"
	}
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = models.NewCapabilitySet(models.AllCapabilities...)
	}

	return &BinanceProvider{
		id:      id,
		client:  client,
		futures: fclient,
		caps:    caps,
		hasAuth: cfg.APIKey != "",
		log:     log.With().Str("component", "provider").Str("provider", id).Logger(),
	}
}

func (b *BinanceProvider) ID() string {
	return b.id
}

func (b *BinanceProvider) Capabilities() models.CapabilitySet {
	return b.caps
}

// classify maps go-binance errors onto the provider error taxonomy using
// Binance API error codes.
func (b *BinanceProvider) classify(err error) *ProviderError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // TOO_MANY_REQUESTS, TOO_MANY_ORDERS
			return NewRateLimited(b.id, 0, err)
		case -1002, -2014, -2015: // UNAUTHORIZED, bad API key, rejected key
			return NewProviderError(b.id, KindAuth, err)
		case -1121, -1100, -1102, -1104: // invalid symbol / malformed params
			return NewProviderError(b.id, KindPermanent, err)
		default:
			return NewProviderError(b.id, KindTransient, err)
		}
	}
	return NewProviderError(b.id, KindTransient, err)
}

func (b *BinanceProvider) FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(string(interval)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, b.classify(err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, perr := b.parseKline(k)
		if perr != nil {
			return nil, NewProviderError(b.id, KindPermanent, perr)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (b *BinanceProvider) parseKline(k *binance.Kline) (models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad kline open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad kline high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad kline low %q: %w", k.Low, err)
	}
	closePx, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad kline close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("bad kline volume %q: %w", k.Volume, err)
	}

	return models.Candle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Trades:    k.TradeNum,
	}, nil
}

func (b *BinanceProvider) FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().
		Symbol(pair.Symbol()).
		Do(ctx)
	if err != nil {
		return models.Ticker{}, b.classify(err)
	}
	if len(stats) == 0 {
		return models.Ticker{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("no ticker stats for %s", pair.Symbol()))
	}

	s := stats[0]
	last, err := strconv.ParseFloat(s.LastPrice, 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad last price %q: %w", s.LastPrice, err))
	}
	bid, err := strconv.ParseFloat(s.BidPrice, 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad bid price %q: %w", s.BidPrice, err))
	}
	ask, err := strconv.ParseFloat(s.AskPrice, 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad ask price %q: %w", s.AskPrice, err))
	}
	volume, err := strconv.ParseFloat(s.Volume, 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad volume %q: %w", s.Volume, err))
	}

	return models.Ticker{
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume24h: volume,
		Timestamp: time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}

func (b *BinanceProvider) FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, error) {
	resp, err := b.client.NewDepthService().
		Symbol(pair.Symbol()).
		Limit(levels).
		Do(ctx)
	if err != nil {
		return models.DepthLevels{}, b.classify(err)
	}

	depth := models.DepthLevels{
		Bids:      make([]models.PriceLevel, 0, len(resp.Bids)),
		Asks:      make([]models.PriceLevel, 0, len(resp.Asks)),
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range resp.Bids {
		price, qty, perr := parseBookLevel(lvl.Price, lvl.Quantity)
		if perr != nil {
			return models.DepthLevels{}, NewProviderError(b.id, KindPermanent, perr)
		}
		depth.Bids = append(depth.Bids, models.PriceLevel{Price: price, Size: qty})
	}
	for _, lvl := range resp.Asks {
		price, qty, perr := parseBookLevel(lvl.Price, lvl.Quantity)
		if perr != nil {
			return models.DepthLevels{}, NewProviderError(b.id, KindPermanent, perr)
		}
		depth.Asks = append(depth.Asks, models.PriceLevel{Price: price, Size: qty})
	}
	return depth, nil
}

func parseBookLevel(priceStr, qtyStr string) (float64, float64, error) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad depth price %q: %w", priceStr, err)
	}
	qty, err := strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad depth size %q: %w", qtyStr, err)
	}
	return price, qty, nil
}

// FetchDerivatives reads funding rate, open interest and mark/index basis
// from the futures API for the perpetual matching the spot pair.
func (b *BinanceProvider) FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, error) {
	premium, err := b.futures.NewPremiumIndexService().
		Symbol(pair.Symbol()).
		Do(ctx)
	if err != nil {
		return models.DerivativesFact{}, b.classify(err)
	}
	if len(premium) == 0 {
		return models.DerivativesFact{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("no premium index for %s", pair.Symbol()))
	}

	funding, err := strconv.ParseFloat(premium[0].LastFundingRate, 64)
	if err != nil {
		return models.DerivativesFact{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad funding rate %q: %w", premium[0].LastFundingRate, err))
	}
	mark, err := strconv.ParseFloat(premium[0].MarkPrice, 64)
	if err != nil {
		return models.DerivativesFact{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad mark price %q: %w", premium[0].MarkPrice, err))
	}
	index, err := strconv.ParseFloat(premium[0].IndexPrice, 64)
	if err != nil {
		return models.DerivativesFact{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad index price %q: %w", premium[0].IndexPrice, err))
	}

	oi, err := b.futures.NewGetOpenInterestService().
		Symbol(pair.Symbol()).
		Do(ctx)
	if err != nil {
		return models.DerivativesFact{}, b.classify(err)
	}
	openInterest, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return models.DerivativesFact{}, NewProviderError(b.id, KindPermanent, fmt.Errorf("bad open interest %q: %w", oi.OpenInterest, err))
	}

	return models.DerivativesFact{
		FundingRate:  funding,
		OpenInterest: openInterest,
		Basis:        mark - index,
		Timestamp:    time.UnixMilli(premium[0].Time).UTC(),
	}, nil
}

// ProbeAuth verifies credentials with an account read. Providers configured
// without credentials skip the probe.
func (b *BinanceProvider) ProbeAuth(ctx context.Context) error {
	if !b.hasAuth {
		return nil
	}
	if _, err := b.client.NewGetAccountService().Do(ctx); err != nil {
		return b.classify(err)
	}
	return nil
}
