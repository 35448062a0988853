package models

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
	Trades    int64     `json:"trades"`
}

// Validate checks the candle invariants: low <= min(open,close),
// max(open,close) <= high, non-negative volume, open before close.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("candle prices must be positive")
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo {
		return fmt.Errorf("candle low %.8f above min(open,close) %.8f", c.Low, lo)
	}
	if c.High < hi {
		return fmt.Errorf("candle high %.8f below max(open,close) %.8f", c.High, hi)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle volume must be non-negative, got %.8f", c.Volume)
	}
	if !c.OpenTime.Before(c.CloseTime) {
		return fmt.Errorf("candle open_time %s not before close_time %s", c.OpenTime, c.CloseTime)
	}
	return nil
}

// PriceLevel is one bid or ask level in an order book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// DepthLevels is a snapshot of the top of an order book. Bids are ordered by
// descending price, asks by ascending price.
type DepthLevels struct {
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// Validate checks ordering, positivity and that the book is uncrossed.
func (d DepthLevels) Validate() error {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return fmt.Errorf("depth requires at least one bid and one ask")
	}
	for i, lvl := range d.Bids {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			return fmt.Errorf("bid level %d must have positive price and size", i)
		}
		if i > 0 && lvl.Price >= d.Bids[i-1].Price {
			return fmt.Errorf("bids must be strictly descending at level %d", i)
		}
	}
	for i, lvl := range d.Asks {
		if lvl.Price <= 0 || lvl.Size <= 0 {
			return fmt.Errorf("ask level %d must have positive price and size", i)
		}
		if i > 0 && lvl.Price <= d.Asks[i-1].Price {
			return fmt.Errorf("asks must be strictly ascending at level %d", i)
		}
	}
	if d.Bids[0].Price >= d.Asks[0].Price {
		return fmt.Errorf("crossed book: best bid %.8f >= best ask %.8f", d.Bids[0].Price, d.Asks[0].Price)
	}
	return nil
}

// BestBid returns the highest bid price.
func (d DepthLevels) BestBid() float64 {
	if len(d.Bids) == 0 {
		return 0
	}
	return d.Bids[0].Price
}

// BestAsk returns the lowest ask price.
func (d DepthLevels) BestAsk() float64 {
	if len(d.Asks) == 0 {
		return 0
	}
	return d.Asks[0].Price
}

// Ticker is the latest top-of-book quote and 24h volume for a pair.
type Ticker struct {
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks bid <= last <= ask and positivity.
func (t Ticker) Validate() error {
	if t.Last <= 0 || t.Bid <= 0 || t.Ask <= 0 {
		return fmt.Errorf("ticker prices must be positive")
	}
	if t.Bid > t.Last || t.Last > t.Ask {
		return fmt.Errorf("ticker invariant bid <= last <= ask violated: %.8f/%.8f/%.8f", t.Bid, t.Last, t.Ask)
	}
	if t.Volume24h < 0 {
		return fmt.Errorf("ticker 24h volume must be non-negative")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("ticker timestamp is required")
	}
	return nil
}

// DerivativesFact carries optional derivatives-market context for a cycle.
type DerivativesFact struct {
	FundingRate  float64   `json:"funding_rate"`
	OpenInterest float64   `json:"open_interest"`
	Basis        float64   `json:"basis"`
	Timestamp    time.Time `json:"timestamp"`
}

// SnapshotQuality marks whether every optional component of a snapshot was
// assembled within its staleness budget.
type SnapshotQuality string

const (
	SnapshotFull    SnapshotQuality = "FULL"
	SnapshotPartial SnapshotQuality = "PARTIAL"
)

// FeatureSet is the indicator block computed once per cycle from the candle
// window. RealizedVolPct is the single volatility figure read by both the
// volatility guard and the position sizer.
type FeatureSet struct {
	RSI14          float64 `json:"rsi_14"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	SMA20          float64 `json:"sma_20"`
	EMA12          float64 `json:"ema_12"`
	EMA26          float64 `json:"ema_26"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerLower float64 `json:"bollinger_lower"`
	RealizedVolPct float64 `json:"realized_vol_pct"`
	SpreadPct      float64 `json:"spread_pct"`
	DepthImbalance float64 `json:"depth_imbalance"`
}

// MarketSnapshot is the immutable data bundle one cycle runs on. TSnap is the
// minimum timestamp among required components; no required component is older.
type MarketSnapshot struct {
	Pair        Pair             `json:"pair"`
	TSnap       time.Time        `json:"t_snap"`
	Quality     SnapshotQuality  `json:"quality"`
	Candles     []Candle         `json:"candles"`
	Ticker      Ticker           `json:"ticker"`
	Depth       DepthLevels      `json:"depth"`
	Derivatives *DerivativesFact `json:"derivatives,omitempty"`
	Features    *FeatureSet      `json:"features,omitempty"`
}

// LastClose returns the close of the most recent candle, or 0 when empty.
func (s *MarketSnapshot) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// ReferencePrice is the price the sizer converts quote notional at.
func (s *MarketSnapshot) ReferencePrice() float64 {
	if s.Ticker.Last > 0 {
		return s.Ticker.Last
	}
	return s.LastClose()
}
