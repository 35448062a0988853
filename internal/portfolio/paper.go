// Package portfolio implements the paper execution collaborator: an
// in-process book that consumes trade intents, simulates fills with slippage
// and taker fees, and serves the read-only portfolio view the guard chain
// and sizer consume. The core never talks to a live venue.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quorum-trader/pkg/models"
)

// Default fill simulation parameters, Binance-flavored.
const (
	defaultTakerFee = 0.001  // 0.1%
	defaultSlippage = 0.0005 // 0.05%
)

type position struct {
	qty      decimal.Decimal
	avgEntry decimal.Decimal
	mark     decimal.Decimal
}

func (p position) unrealized() decimal.Decimal {
	if p.mark.IsZero() {
		return decimal.Zero
	}
	return p.mark.Sub(p.avgEntry).Mul(p.qty)
}

// Paper is the paper-trading portfolio. All mutation goes through Execute
// and MarkToMarket; State hands out consistent copies.
type Paper struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*position
	peak      decimal.Decimal

	takerFee decimal.Decimal
	slippage decimal.Decimal

	lastFill time.Time
	fills    int64

	log     zerolog.Logger
	metrics *paperMetrics
}

// Option adjusts paper portfolio construction.
type Option func(*Paper)

// WithFees overrides the taker fee and slippage fractions.
func WithFees(takerFee, slippage float64) Option {
	return func(p *Paper) {
		p.takerFee = decimal.NewFromFloat(takerFee)
		p.slippage = decimal.NewFromFloat(slippage)
	}
}

// NewPaper seeds a paper portfolio with initial cash in quote currency.
func NewPaper(initialCashQuote float64, log zerolog.Logger, opts ...Option) (*Paper, error) {
	if initialCashQuote <= 0 {
		return nil, fmt.Errorf("initial cash must be positive, got %.2f", initialCashQuote)
	}
	cash := decimal.NewFromFloat(initialCashQuote)
	p := &Paper{
		cash:      cash,
		positions: make(map[string]*position),
		peak:      cash,
		takerFee:  decimal.NewFromFloat(defaultTakerFee),
		slippage:  decimal.NewFromFloat(defaultSlippage),
		log:       log.With().Str("component", "paper_portfolio").Logger(),
		metrics:   getOrCreatePaperMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log.Info().
		Float64("initial_cash", initialCashQuote).
		Msg("Paper portfolio initialized")
	return p, nil
}

// Execute fills an intent against the book. BUY slips up, SELL slips down,
// and the taker fee always comes out of cash. Execution failures are the
// collaborator's problem, never the cycle's: callers log and move on.
func (p *Paper) Execute(intent *models.TradeIntent) error {
	if intent == nil {
		return fmt.Errorf("nil intent")
	}
	qty := decimal.NewFromFloat(intent.QuantityBase)
	if qty.Sign() <= 0 {
		return fmt.Errorf("intent quantity must be positive, got %s", qty)
	}
	ref := decimal.NewFromFloat(intent.SizingInputs.ReferencePrice)
	if ref.Sign() <= 0 {
		return fmt.Errorf("intent reference price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	base := intent.Pair.Base
	one := decimal.NewFromInt(1)

	switch intent.Side {
	case models.SignalBuy:
		fill := ref.Mul(one.Add(p.slippage))
		cost := qty.Mul(fill)
		fee := cost.Mul(p.takerFee)
		total := cost.Add(fee)
		if p.cash.LessThan(total) {
			return fmt.Errorf("insufficient cash: need %s, have %s", total.StringFixed(2), p.cash.StringFixed(2))
		}
		p.cash = p.cash.Sub(total)

		pos, ok := p.positions[base]
		if !ok {
			pos = &position{avgEntry: fill, mark: fill}
			p.positions[base] = pos
		} else {
			// Weighted-average entry across the old lot and the new fill.
			oldNotional := pos.qty.Mul(pos.avgEntry)
			pos.avgEntry = oldNotional.Add(cost).Div(pos.qty.Add(qty))
		}
		pos.qty = pos.qty.Add(qty)
		pos.mark = fill

	case models.SignalSell:
		pos, ok := p.positions[base]
		if !ok || pos.qty.Sign() <= 0 {
			return fmt.Errorf("no %s position to sell", base)
		}
		if qty.GreaterThan(pos.qty) {
			qty = pos.qty
		}
		fill := ref.Mul(one.Sub(p.slippage))
		proceeds := qty.Mul(fill)
		fee := proceeds.Mul(p.takerFee)
		p.cash = p.cash.Add(proceeds.Sub(fee))

		pos.qty = pos.qty.Sub(qty)
		pos.mark = fill
		if pos.qty.Sign() <= 0 {
			delete(p.positions, base)
		}

	default:
		return fmt.Errorf("intent side %q is not tradable", intent.Side)
	}

	p.fills++
	p.lastFill = intent.Timestamp
	p.updatePeakLocked()
	p.observeLocked()

	p.log.Info().
		Str("pair", intent.Pair.String()).
		Str("side", string(intent.Side)).
		Float64("quantity", intent.QuantityBase).
		Float64("reference_price", intent.SizingInputs.ReferencePrice).
		Str("cash", p.cash.StringFixed(2)).
		Msg("Paper fill executed")
	return nil
}

// MarkToMarket updates a position's mark price so unrealized PnL, equity and
// drawdown track the market between fills.
func (p *Paper) MarkToMarket(base string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[base]
	if !ok {
		return
	}
	pos.mark = decimal.NewFromFloat(price)
	p.updatePeakLocked()
	p.observeLocked()
}

// State returns a consistent read-only copy for the guard chain and sizer.
func (p *Paper) State() models.PortfolioState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := models.PortfolioState{
		CashQuote: p.cash.InexactFloat64(),
		Positions: make(map[string]models.Position, len(p.positions)),
	}

	exposure := decimal.Zero
	for base, pos := range p.positions {
		state.Positions[base] = models.Position{
			Qty:           pos.qty.InexactFloat64(),
			AvgEntry:      pos.avgEntry.InexactFloat64(),
			UnrealizedPnL: pos.unrealized().InexactFloat64(),
		}
		exposure = exposure.Add(pos.qty.Mul(pos.markOrEntry()))
	}
	state.OpenRiskExposure = exposure.InexactFloat64()

	equity := p.equityLocked()
	if p.peak.Sign() > 0 && equity.LessThan(p.peak) {
		state.DrawdownFromPeak = p.peak.Sub(equity).Div(p.peak).InexactFloat64()
	}
	return state
}

// Fills returns the number of executed intents.
func (p *Paper) Fills() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fills
}

func (pos *position) markOrEntry() decimal.Decimal {
	if pos.mark.Sign() > 0 {
		return pos.mark
	}
	return pos.avgEntry
}

func (p *Paper) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.qty.Mul(pos.markOrEntry()))
	}
	return equity
}

func (p *Paper) updatePeakLocked() {
	if equity := p.equityLocked(); equity.GreaterThan(p.peak) {
		p.peak = equity
	}
}

func (p *Paper) observeLocked() {
	equity := p.equityLocked()
	p.metrics.equity.Set(equity.InexactFloat64())
	p.metrics.cash.Set(p.cash.InexactFloat64())
	if p.peak.Sign() > 0 {
		dd := p.peak.Sub(equity).Div(p.peak)
		if dd.Sign() < 0 {
			dd = decimal.Zero
		}
		p.metrics.drawdown.Set(dd.InexactFloat64())
	}
}
