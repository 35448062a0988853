package portfolio

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

var fillAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPaper(t *testing.T, cash float64) *Paper {
	t.Helper()
	// Zero fees keep the arithmetic exact for assertions.
	p, err := NewPaper(cash, zerolog.Nop(), WithFees(0, 0))
	require.NoError(t, err)
	return p
}

func intent(t *testing.T, side models.Signal, qty, refPrice float64) *models.TradeIntent {
	t.Helper()
	pair, err := models.NewPair("BTC", "USDT", models.Interval1h)
	require.NoError(t, err)
	return &models.TradeIntent{
		Pair:             pair,
		Side:             side,
		QuantityBase:     qty,
		SourceDecisionID: uuid.New(),
		Timestamp:        fillAt,
		SizingInputs:     models.SizingInputs{ReferencePrice: refPrice, PositionQuote: qty * refPrice},
	}
}

func TestBuyMovesCashIntoPosition(t *testing.T) {
	p := newTestPaper(t, 10000)

	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	state := p.State()
	assert.InDelta(t, 5000.0, state.CashQuote, 1e-6)
	require.Contains(t, state.Positions, "BTC")
	assert.InDelta(t, 0.1, state.Positions["BTC"].Qty, 1e-9)
	assert.InDelta(t, 50000.0, state.Positions["BTC"].AvgEntry, 1e-6)
	assert.InDelta(t, 5000.0, state.OpenRiskExposure, 1e-6)
	assert.InDelta(t, 10000.0, state.Equity(), 1e-6)
}

func TestBuyAveragesEntryAcrossLots(t *testing.T) {
	p := newTestPaper(t, 20000)

	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))
	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 60000)))

	state := p.State()
	require.Contains(t, state.Positions, "BTC")
	assert.InDelta(t, 0.2, state.Positions["BTC"].Qty, 1e-9)
	assert.InDelta(t, 55000.0, state.Positions["BTC"].AvgEntry, 1e-6)
}

func TestSellClosesPositionAndRealizesCash(t *testing.T) {
	p := newTestPaper(t, 10000)
	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	require.NoError(t, p.Execute(intent(t, models.SignalSell, 0.1, 55000)))

	state := p.State()
	assert.NotContains(t, state.Positions, "BTC")
	assert.InDelta(t, 10500.0, state.CashQuote, 1e-6)
	assert.Zero(t, state.OpenRiskExposure)
}

func TestSellClampsToHeldQuantity(t *testing.T) {
	p := newTestPaper(t, 10000)
	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	// Asking to sell more than held liquidates the position, never shorts.
	require.NoError(t, p.Execute(intent(t, models.SignalSell, 1.0, 50000)))

	state := p.State()
	assert.NotContains(t, state.Positions, "BTC")
	assert.InDelta(t, 10000.0, state.CashQuote, 1e-6)
}

func TestSellWithoutPositionFails(t *testing.T) {
	p := newTestPaper(t, 10000)
	err := p.Execute(intent(t, models.SignalSell, 0.1, 50000))
	assert.ErrorContains(t, err, "no BTC position")
}

func TestBuyRejectsInsufficientCash(t *testing.T) {
	p := newTestPaper(t, 100)
	err := p.Execute(intent(t, models.SignalBuy, 1.0, 50000))
	assert.ErrorContains(t, err, "insufficient cash")

	// The failed fill must not touch the book.
	state := p.State()
	assert.InDelta(t, 100.0, state.CashQuote, 1e-9)
	assert.Empty(t, state.Positions)
}

func TestFeesAndSlippageReduceProceeds(t *testing.T) {
	p, err := NewPaper(10000, zerolog.Nop(), WithFees(0.001, 0.0005))
	require.NoError(t, err)

	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	// Fill at 50000*1.0005 = 50025; cost 5002.50; fee 5.0025.
	state := p.State()
	assert.InDelta(t, 10000-5002.50-5.0025, state.CashQuote, 1e-6)
	assert.InDelta(t, 50025.0, state.Positions["BTC"].AvgEntry, 1e-6)
}

func TestMarkToMarketTracksDrawdown(t *testing.T) {
	p := newTestPaper(t, 10000)
	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	// Rally establishes a new peak, then a slide opens a drawdown.
	p.MarkToMarket("BTC", 60000)
	state := p.State()
	assert.Zero(t, state.DrawdownFromPeak)
	assert.InDelta(t, 1000.0, state.Positions["BTC"].UnrealizedPnL, 1e-6)

	p.MarkToMarket("BTC", 49500)
	state = p.State()
	// Peak 11000, equity 9950: drawdown (11000-9950)/11000.
	assert.InDelta(t, 1050.0/11000.0, state.DrawdownFromPeak, 1e-9)
	assert.InDelta(t, -50.0, state.Positions["BTC"].UnrealizedPnL, 1e-6)
}

func TestStateIsIsolatedCopy(t *testing.T) {
	p := newTestPaper(t, 10000)
	require.NoError(t, p.Execute(intent(t, models.SignalBuy, 0.1, 50000)))

	state := p.State()
	state.Positions["BTC"] = models.Position{Qty: 999}
	state.CashQuote = 0

	fresh := p.State()
	assert.InDelta(t, 0.1, fresh.Positions["BTC"].Qty, 1e-9)
	assert.InDelta(t, 5000.0, fresh.CashQuote, 1e-6)
}

func TestNewPaperRejectsNonPositiveCash(t *testing.T) {
	_, err := NewPaper(0, zerolog.Nop())
	assert.Error(t, err)
}
