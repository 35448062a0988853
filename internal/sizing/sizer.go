// Package sizing converts a guard-approved decision into a quote-denominated
// position and a base quantity at the snapshot reference price. Confidence
// scales the position up, realized volatility scales it down, and the result
// is clamped to the configured quote range.
package sizing

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"quorum-trader/internal/config"
	"quorum-trader/pkg/models"
)

const (
	quotePrecision    = 2
	quantityPrecision = 8
)

// Sizer computes trade intents from actionable decisions.
type Sizer struct {
	cfg config.SizingConfig
	log zerolog.Logger
}

// NewSizer validates the sizing parameters and returns a sizer.
func NewSizer(cfg config.SizingConfig, log zerolog.Logger) (*Sizer, error) {
	if cfg.BaseNotionalQuote <= 0 {
		return nil, fmt.Errorf("base notional must be positive, got %.2f", cfg.BaseNotionalQuote)
	}
	if cfg.MinQuote <= 0 || cfg.MaxQuote < cfg.MinQuote {
		return nil, fmt.Errorf("quote bounds [%.2f, %.2f] invalid", cfg.MinQuote, cfg.MaxQuote)
	}
	if cfg.ConfidenceMultiplier <= 0 {
		return nil, fmt.Errorf("confidence multiplier must be positive, got %.2f", cfg.ConfidenceMultiplier)
	}
	if cfg.VolFloor <= 0 || cfg.VolCap < cfg.VolFloor {
		return nil, fmt.Errorf("volatility bounds [%.2f, %.2f] invalid", cfg.VolFloor, cfg.VolCap)
	}
	return &Sizer{
		cfg: cfg,
		log: log.With().Str("component", "sizer").Logger(),
	}, nil
}

// Size maps the decision onto a TradeIntent. The position in quote currency is
//
//	clamp(base * confidence_factor / vol_factor, min_quote, max_quote)
//
// where confidence_factor = clamp(confidence/100 * multiplier, 0.1, 1.0) and
// vol_factor = max(0.1, (clamp(vol, floor, cap)/2)^sensitivity). Every input
// and intermediate factor lands in SizingInputs so the intent is auditable
// from its journal record alone.
func (s *Sizer) Size(cycleID uuid.UUID, d *models.CombinedDecision, snap *models.MarketSnapshot, at time.Time) (*models.TradeIntent, error) {
	if d == nil || !d.Actionable() {
		return nil, fmt.Errorf("decision is not actionable")
	}
	if snap == nil || snap.Features == nil {
		return nil, fmt.Errorf("snapshot features unavailable")
	}
	refPrice := snap.ReferencePrice()
	if refPrice <= 0 {
		return nil, fmt.Errorf("reference price %.8f is not positive", refPrice)
	}

	volPct := snap.Features.RealizedVolPct
	confidenceFactor := clamp(float64(d.Confidence)/100*s.cfg.ConfidenceMultiplier, 0.1, 1.0)
	volFactor := math.Max(0.1, math.Pow(clamp(volPct, s.cfg.VolFloor, s.cfg.VolCap)/2, s.cfg.VolSensitivity))
	rawQuote := clamp(s.cfg.BaseNotionalQuote*confidenceFactor/volFactor, s.cfg.MinQuote, s.cfg.MaxQuote)

	positionQuote := decimal.NewFromFloat(rawQuote).Round(quotePrecision)
	// Quantity is floored so the notional actually spent never exceeds
	// position_quote.
	quantity := positionQuote.Div(decimal.NewFromFloat(refPrice)).RoundDown(quantityPrecision)
	if quantity.IsZero() {
		return nil, fmt.Errorf("position %s quote at price %.2f floors to zero quantity", positionQuote, refPrice)
	}

	intent := &models.TradeIntent{
		Pair:             d.Pair,
		Side:             d.Signal,
		QuantityBase:     quantity.InexactFloat64(),
		SourceDecisionID: cycleID,
		Timestamp:        at,
		SizingInputs: models.SizingInputs{
			BaseNotional:     s.cfg.BaseNotionalQuote,
			Confidence:       d.Confidence,
			ConfidenceFactor: confidenceFactor,
			VolPct:           volPct,
			VolFactor:        volFactor,
			PositionQuote:    positionQuote.InexactFloat64(),
			ReferencePrice:   refPrice,
		},
	}

	s.log.Debug().
		Str("pair", d.Pair.String()).
		Str("side", string(d.Signal)).
		Int("confidence", d.Confidence).
		Float64("vol_pct", volPct).
		Float64("position_quote", intent.SizingInputs.PositionQuote).
		Float64("quantity_base", intent.QuantityBase).
		Msg("Sized intent")
	return intent, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
