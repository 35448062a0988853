package providers

import (
	"fmt"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

func newTestBinance() *BinanceProvider {
	return NewBinanceProvider(BinanceConfig{ID: "binance"}, zerolog.Nop())
}

func TestBinanceClassifyAPICodes(t *testing.T) {
	tests := []struct {
		name string
		code int64
		want ErrorKind
	}{
		{name: "too many requests", code: -1003, want: KindRateLimited},
		{name: "order rate limit", code: -1015, want: KindRateLimited},
		{name: "unauthorized", code: -1002, want: KindAuth},
		{name: "bad api key format", code: -2014, want: KindAuth},
		{name: "rejected key", code: -2015, want: KindAuth},
		{name: "invalid symbol", code: -1121, want: KindPermanent},
		{name: "illegal chars", code: -1100, want: KindPermanent},
		{name: "unknown code", code: -9999, want: KindTransient},
	}

	b := newTestBinance()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.classify(&common.APIError{Code: tt.code, Message: tt.name})
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, "binance", err.Provider)
		})
	}
}

func TestBinanceClassifyPlainErrorIsTransient(t *testing.T) {
	b := newTestBinance()
	err := b.classify(fmt.Errorf("connection reset"))
	assert.Equal(t, KindTransient, err.Kind)
}

func TestBinanceParseKline(t *testing.T) {
	b := newTestBinance()

	openMs := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC).UnixMilli()
	closeMs := time.Date(2026, 3, 1, 11, 59, 59, 999_000_000, time.UTC).UnixMilli()

	c, err := b.parseKline(&binance.Kline{
		OpenTime:  openMs,
		Open:      "52000.10",
		High:      "52150.00",
		Low:       "51900.55",
		Close:     "52100.00",
		Volume:    "345.678",
		CloseTime: closeMs,
		TradeNum:  9876,
	})
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(openMs).UTC(), c.OpenTime)
	assert.Equal(t, time.UnixMilli(closeMs).UTC(), c.CloseTime)
	assert.InDelta(t, 52000.10, c.Open, 1e-9)
	assert.InDelta(t, 52150.00, c.High, 1e-9)
	assert.InDelta(t, 51900.55, c.Low, 1e-9)
	assert.InDelta(t, 52100.00, c.Close, 1e-9)
	assert.InDelta(t, 345.678, c.Volume, 1e-9)
	assert.Equal(t, int64(9876), c.Trades)
	require.NoError(t, c.Validate())
}

func TestBinanceParseKlineRejectsBadNumbers(t *testing.T) {
	b := newTestBinance()

	_, err := b.parseKline(&binance.Kline{
		OpenTime: time.Now().UnixMilli(),
		Open:     "not-a-number",
		High:     "1", Low: "1", Close: "1", Volume: "1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestParseBookLevel(t *testing.T) {
	price, size, err := parseBookLevel("50100.25", "1.75")
	require.NoError(t, err)
	assert.InDelta(t, 50100.25, price, 1e-9)
	assert.InDelta(t, 1.75, size, 1e-9)

	_, _, err = parseBookLevel("bad", "1")
	assert.Error(t, err)
}

func TestBinanceDefaultCapabilitiesIncludeDerivatives(t *testing.T) {
	b := newTestBinance()
	caps := b.Capabilities()
	for _, c := range []models.Capability{models.CapCandles, models.CapTicker, models.CapDepth, models.CapFunding, models.CapOI} {
		assert.True(t, caps.Has(c), "missing capability %s", c)
	}
}
