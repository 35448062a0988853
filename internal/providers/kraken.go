package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

const krakenDefaultBaseURL = "https://api.kraken.com"

// KrakenProvider serves spot market data from Kraken's public REST API.
// It carries no derivatives capabilities.
type KrakenProvider struct {
	id     string
	client *resty.Client
	caps   models.CapabilitySet
	log    zerolog.Logger
}

// KrakenConfig configures the Kraken provider.
type KrakenConfig struct {
	ID           string
	BaseURL      string
	Capabilities models.CapabilitySet
}

// NewKrakenProvider creates the provider.
func NewKrakenProvider(cfg KrakenConfig, log zerolog.Logger) *KrakenProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = krakenDefaultBaseURL
	}
	id := cfg.ID
	if id == "" {
		id = "kraken"
	}
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = models.NewCapabilitySet(models.CapCandles, models.CapTicker, models.CapDepth)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json")

	return &KrakenProvider{
		id:     id,
		client: client,
		caps:   caps,
		log:    log.With().Str("component", "provider").Str("provider", id).Logger(),
	}
}

func (k *KrakenProvider) ID() string {
	return k.id
}

func (k *KrakenProvider) Capabilities() models.CapabilitySet {
	return k.caps
}

// symbol maps the pair to Kraken's naming; Kraken uses XBT for bitcoin.
func (k *KrakenProvider) symbol(pair models.Pair) string {
	base := pair.Base
	if base == "BTC" {
		base = "XBT"
	}
	quote := pair.Quote
	if quote == "BTC" {
		quote = "XBT"
	}
	return base + quote
}

var krakenIntervalMinutes = map[models.Interval]int{
	models.Interval1m:  1,
	models.Interval5m:  5,
	models.Interval15m: 15,
	models.Interval1h:  60,
	models.Interval4h:  240,
	models.Interval1d:  1440,
}

// krakenEnvelope is the common response wrapper: a (possibly empty) error
// list plus an endpoint-specific result object.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// classifyAPIError maps Kraken's error strings onto the taxonomy.
func (k *KrakenProvider) classifyAPIError(msgs []string) *ProviderError {
	joined := strings.Join(msgs, "; ")
	err := fmt.Errorf("kraken api error: %s", joined)
	switch {
	case strings.Contains(joined, "Rate limit") || strings.Contains(joined, "Too many requests"):
		return NewRateLimited(k.id, 0, err)
	case strings.Contains(joined, "Invalid key") || strings.Contains(joined, "Invalid signature") || strings.Contains(joined, "Permission denied"):
		return NewProviderError(k.id, KindAuth, err)
	case strings.Contains(joined, "Unknown asset") || strings.Contains(joined, "Invalid arguments"):
		return NewProviderError(k.id, KindPermanent, err)
	default:
		return NewProviderError(k.id, KindTransient, err)
	}
}

// do executes a public GET and unwraps the Kraken envelope.
func (k *KrakenProvider) do(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	resp, err := k.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, NewProviderError(k.id, KindTransient, err)
	}

	if resp.StatusCode() != 200 {
		kind := classifyHTTPStatus(resp.StatusCode())
		httpErr := fmt.Errorf("kraken http %d: %s", resp.StatusCode(), resp.Status())
		if kind == KindRateLimited {
			return nil, NewRateLimited(k.id, parseRetryAfter(resp.Header().Get("Retry-After")), httpErr)
		}
		return nil, NewProviderError(k.id, kind, httpErr)
	}

	var envelope krakenEnvelope
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad kraken response: %w", err))
	}
	if len(envelope.Error) > 0 {
		return nil, k.classifyAPIError(envelope.Error)
	}
	return envelope.Result, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// firstResultEntry returns the single pair-keyed entry of a Kraken result
// map; Kraken responds with its own canonical pair name as the key.
func firstResultEntry(result json.RawMessage, skip map[string]bool) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(result, &m); err != nil {
		return nil, fmt.Errorf("bad result map: %w", err)
	}
	for key, raw := range m {
		if skip[key] {
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("empty result map")
}

func (k *KrakenProvider) FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, error) {
	minutes, ok := krakenIntervalMinutes[interval]
	if !ok {
		return nil, NewProviderError(k.id, KindPermanent, fmt.Errorf("unsupported interval %s", interval))
	}

	result, err := k.do(ctx, "/0/public/OHLC", map[string]string{
		"pair":     k.symbol(pair),
		"interval": strconv.Itoa(minutes),
	})
	if err != nil {
		return nil, err
	}

	raw, ferr := firstResultEntry(result, map[string]bool{"last": true})
	if ferr != nil {
		return nil, NewProviderError(k.id, KindPermanent, ferr)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad OHLC rows: %w", err))
	}

	step := interval.Duration()
	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		c, perr := parseKrakenOHLCRow(row, step)
		if perr != nil {
			return nil, NewProviderError(k.id, KindPermanent, fmt.Errorf("OHLC row %d: %w", i, perr))
		}
		candles = append(candles, c)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// parseKrakenOHLCRow decodes [time, open, high, low, close, vwap, volume,
// count]; prices and volume arrive as JSON strings.
func parseKrakenOHLCRow(row []json.RawMessage, step time.Duration) (models.Candle, error) {
	if len(row) < 8 {
		return models.Candle{}, fmt.Errorf("want 8 fields, got %d", len(row))
	}

	var epoch int64
	if err := json.Unmarshal(row[0], &epoch); err != nil {
		return models.Candle{}, fmt.Errorf("bad time: %w", err)
	}
	fields := make([]float64, 0, 6)
	for _, idx := range []int{1, 2, 3, 4, 5, 6} {
		var s string
		if err := json.Unmarshal(row[idx], &s); err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", idx, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d %q: %w", idx, s, err)
		}
		fields = append(fields, f)
	}
	var trades int64
	if err := json.Unmarshal(row[7], &trades); err != nil {
		return models.Candle{}, fmt.Errorf("bad count: %w", err)
	}

	openTime := time.Unix(epoch, 0).UTC()
	return models.Candle{
		OpenTime:  openTime,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[5],
		CloseTime: openTime.Add(step),
		Trades:    trades,
	}, nil
}

// krakenTicker is the per-pair Ticker payload; a=[ask,...], b=[bid,...],
// c=[last,...], v=[today, last24h].
type krakenTicker struct {
	A []string `json:"a"`
	B []string `json:"b"`
	C []string `json:"c"`
	V []string `json:"v"`
}

func (k *KrakenProvider) FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, error) {
	result, err := k.do(ctx, "/0/public/Ticker", map[string]string{"pair": k.symbol(pair)})
	if err != nil {
		return models.Ticker{}, err
	}

	raw, ferr := firstResultEntry(result, nil)
	if ferr != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, ferr)
	}

	var t krakenTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad ticker payload: %w", err))
	}
	if len(t.A) == 0 || len(t.B) == 0 || len(t.C) == 0 || len(t.V) < 2 {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("incomplete ticker payload"))
	}

	ask, err := strconv.ParseFloat(t.A[0], 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad ask %q: %w", t.A[0], err))
	}
	bid, err := strconv.ParseFloat(t.B[0], 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad bid %q: %w", t.B[0], err))
	}
	last, err := strconv.ParseFloat(t.C[0], 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad last %q: %w", t.C[0], err))
	}
	vol, err := strconv.ParseFloat(t.V[1], 64)
	if err != nil {
		return models.Ticker{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad 24h volume %q: %w", t.V[1], err))
	}

	return models.Ticker{
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume24h: vol,
		Timestamp: time.Now().UTC(),
	}, nil
}

// krakenDepth levels arrive as [price, volume, timestamp] triples.
type krakenDepth struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

func (k *KrakenProvider) FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, error) {
	result, err := k.do(ctx, "/0/public/Depth", map[string]string{
		"pair":  k.symbol(pair),
		"count": strconv.Itoa(levels),
	})
	if err != nil {
		return models.DepthLevels{}, err
	}

	raw, ferr := firstResultEntry(result, nil)
	if ferr != nil {
		return models.DepthLevels{}, NewProviderError(k.id, KindPermanent, ferr)
	}

	var book krakenDepth
	if err := json.Unmarshal(raw, &book); err != nil {
		return models.DepthLevels{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bad depth payload: %w", err))
	}

	depth := models.DepthLevels{
		Bids:      make([]models.PriceLevel, 0, len(book.Bids)),
		Asks:      make([]models.PriceLevel, 0, len(book.Asks)),
		Timestamp: time.Now().UTC(),
	}
	for i, row := range book.Bids {
		lvl, perr := parseKrakenDepthRow(row)
		if perr != nil {
			return models.DepthLevels{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("bid %d: %w", i, perr))
		}
		depth.Bids = append(depth.Bids, lvl)
	}
	for i, row := range book.Asks {
		lvl, perr := parseKrakenDepthRow(row)
		if perr != nil {
			return models.DepthLevels{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("ask %d: %w", i, perr))
		}
		depth.Asks = append(depth.Asks, lvl)
	}
	return depth, nil
}

func parseKrakenDepthRow(row []json.RawMessage) (models.PriceLevel, error) {
	if len(row) < 2 {
		return models.PriceLevel{}, fmt.Errorf("want at least 2 fields, got %d", len(row))
	}
	var priceStr, sizeStr string
	if err := json.Unmarshal(row[0], &priceStr); err != nil {
		return models.PriceLevel{}, fmt.Errorf("bad price: %w", err)
	}
	if err := json.Unmarshal(row[1], &sizeStr); err != nil {
		return models.PriceLevel{}, fmt.Errorf("bad size: %w", err)
	}
	price, size, err := parseBookLevel(priceStr, sizeStr)
	if err != nil {
		return models.PriceLevel{}, err
	}
	return models.PriceLevel{Price: price, Size: size}, nil
}

// FetchDerivatives is unsupported; the registry never routes FUNDING or OI
// here because the capability set excludes them.
func (k *KrakenProvider) FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, error) {
	return models.DerivativesFact{}, NewProviderError(k.id, KindPermanent, fmt.Errorf("derivatives not supported"))
}
