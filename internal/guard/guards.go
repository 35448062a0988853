package guard

import (
	"fmt"
	"sync"
	"time"

	"quorum-trader/pkg/models"
)

// ExposureGuard vetoes intents that would push total open notional above
// the portfolio-wide cap.
type ExposureGuard struct {
	CapQuote float64
}

func (g *ExposureGuard) ID() string { return "exposure" }

func (g *ExposureGuard) Check(in *Input) models.GuardOutcome {
	projected := in.Portfolio.OpenRiskExposure + in.ProposedNotional
	if projected > g.CapQuote {
		return veto(g.ID(), fmt.Sprintf(
			"projected exposure %.2f exceeds cap %.2f", projected, g.CapQuote))
	}
	return models.PassOutcome()
}

// ConcentrationGuard vetoes intents that would let a single base asset
// exceed its share of portfolio equity.
type ConcentrationGuard struct {
	PerAssetCapPct float64
}

func (g *ConcentrationGuard) ID() string { return "concentration" }

func (g *ConcentrationGuard) Check(in *Input) models.GuardOutcome {
	// Buying grows both the position and total equity by the notional;
	// selling reduces concentration and always passes here.
	if in.Decision.Signal != models.SignalBuy {
		return models.PassOutcome()
	}

	base := in.Decision.Pair.Base
	var positionValue float64
	if pos, ok := in.Portfolio.Positions[base]; ok {
		positionValue = pos.Value()
	}

	equity := in.Portfolio.Equity()
	projectedShare := (positionValue + in.ProposedNotional) / (equity + in.ProposedNotional) * 100
	if equity <= 0 {
		projectedShare = 100
	}
	if projectedShare > g.PerAssetCapPct {
		return veto(g.ID(), fmt.Sprintf(
			"%s would be %.1f%% of equity, cap is %.1f%%", base, projectedShare, g.PerAssetCapPct))
	}
	return models.PassOutcome()
}

// DrawdownGuard downgrades to HOLD while the portfolio sits at or beyond
// the configured drawdown from its peak. DrawdownFromPeak is a fraction;
// PausePct is a percentage.
type DrawdownGuard struct {
	PausePct float64
}

func (g *DrawdownGuard) ID() string { return "drawdown" }

func (g *DrawdownGuard) Check(in *Input) models.GuardOutcome {
	ddPct := in.Portfolio.DrawdownFromPeak * 100
	if ddPct >= g.PausePct {
		return downgrade(g.ID(), fmt.Sprintf(
			"drawdown %.1f%% at or beyond pause threshold %.1f%%", ddPct, g.PausePct))
	}
	return models.PassOutcome()
}

// CooldownTable tracks the last trade time per pair. The orchestrator
// records a trade only when an intent is actually published.
type CooldownTable struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownTable creates an empty table.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{last: make(map[string]time.Time)}
}

// RecordTrade stamps the pair's last trade time.
func (t *CooldownTable) RecordTrade(pair models.Pair, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[pair.String()] = at
}

// LastTrade returns the last trade time for the pair, if any.
func (t *CooldownTable) LastTrade(pair models.Pair) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.last[pair.String()]
	return at, ok
}

// CooldownGuard vetoes a pair traded more recently than the cooldown
// window. A decision exactly at last_trade + cooldown passes.
type CooldownGuard struct {
	Window time.Duration
	Table  *CooldownTable
	Now    func() time.Time
}

func (g *CooldownGuard) ID() string { return "cooldown" }

func (g *CooldownGuard) Check(in *Input) models.GuardOutcome {
	if g.Table == nil || g.Window <= 0 {
		return models.PassOutcome()
	}
	last, ok := g.Table.LastTrade(in.Decision.Pair)
	if !ok {
		return models.PassOutcome()
	}

	now := time.Now()
	if g.Now != nil {
		now = g.Now()
	}
	if now.Before(last.Add(g.Window)) {
		remaining := last.Add(g.Window).Sub(now)
		return veto(g.ID(), fmt.Sprintf(
			"pair traded %s ago, %s of cooldown remaining", now.Sub(last), remaining))
	}
	return models.PassOutcome()
}

// VolatilityGuard downgrades to HOLD when realized volatility exceeds the
// upper bound. It reads the volatility figure computed once per cycle.
type VolatilityGuard struct {
	UpperPct float64
}

func (g *VolatilityGuard) ID() string { return "volatility" }

func (g *VolatilityGuard) Check(in *Input) models.GuardOutcome {
	if in.Snapshot == nil || in.Snapshot.Features == nil {
		return downgrade(g.ID(), "realized volatility unavailable")
	}
	vol := in.Snapshot.Features.RealizedVolPct
	if vol > g.UpperPct {
		return downgrade(g.ID(), fmt.Sprintf(
			"realized volatility %.2f%% above upper bound %.2f%%", vol, g.UpperPct))
	}
	return models.PassOutcome()
}
