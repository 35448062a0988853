package guard

import (
	"github.com/rs/zerolog"

	"quorum-trader/internal/config"
	"quorum-trader/pkg/models"
)

// Chain evaluates guards in order and stops at the first objection.
type Chain struct {
	guards  []Guard
	log     zerolog.Logger
	metrics *guardMetrics
}

// NewChain builds a chain over the given guards.
func NewChain(log zerolog.Logger, guards ...Guard) *Chain {
	return &Chain{
		guards:  guards,
		log:     log.With().Str("component", "guard_chain").Logger(),
		metrics: getOrCreateGuardMetrics(),
	}
}

// FromConfig wires the mandatory guards in their standard order: exposure,
// concentration, drawdown, cooldown, volatility.
func FromConfig(cfg config.GuardsConfig, cooldowns *CooldownTable, log zerolog.Logger) *Chain {
	return NewChain(log,
		&ExposureGuard{CapQuote: cfg.ExposureCapQuote},
		&ConcentrationGuard{PerAssetCapPct: cfg.PerAssetCapPct},
		&DrawdownGuard{PausePct: cfg.DrawdownPausePct},
		&CooldownGuard{Window: cfg.Cooldown(), Table: cooldowns},
		&VolatilityGuard{UpperPct: cfg.VolUpperPct},
	)
}

// Evaluate runs the chain. HOLD decisions never reach the guards; they pass
// vacuously since there is no intent to stop.
func (c *Chain) Evaluate(in *Input) models.GuardOutcome {
	if in.Decision == nil || !in.Decision.Actionable() {
		return models.PassOutcome()
	}

	for _, g := range c.guards {
		outcome := g.Check(in)
		if outcome.Result == models.GuardPass {
			continue
		}

		c.metrics.outcomes.WithLabelValues(g.ID(), string(outcome.Result)).Inc()
		c.log.Info().
			Str("pair", in.Decision.Pair.String()).
			Str("guard", g.ID()).
			Str("result", string(outcome.Result)).
			Str("reason", outcome.Reason).
			Msg("Guard stopped decision")
		return outcome
	}
	return models.PassOutcome()
}

// Guards exposes the ordered guard list.
func (c *Chain) Guards() []Guard {
	return c.guards
}
