package config

import (
	"errors"
	"fmt"
	"math"

	"quorum-trader/pkg/models"
)

// ErrInvalid marks configuration errors. The CLI maps it to exit code 2; the
// process refuses to start on any error wrapping it.
var ErrInvalid = errors.New("invalid configuration")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks every configuration invariant the components rely on.
func (c *Config) Validate() error {
	if c.Environment.DeployEnv != "dev" && c.Environment.DeployEnv != "prod" {
		return invalidf("environment.deploy_env must be dev or prod, got %q", c.Environment.DeployEnv)
	}

	if err := c.validatePairs(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateAnalysts(); err != nil {
		return err
	}
	if err := c.validateCombiner(); err != nil {
		return err
	}
	if err := c.validateGuards(); err != nil {
		return err
	}
	if err := c.validateSizing(); err != nil {
		return err
	}

	if c.Journal.Path == "" {
		return invalidf("journal.path is required")
	}
	if c.Portfolio.InitialCashQuote < 0 {
		return invalidf("portfolio.initial_cash_quote must be non-negative")
	}
	if c.Server.APIPort <= 0 || c.Server.APIPort > 65535 {
		return invalidf("server.api_port %d out of range", c.Server.APIPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return invalidf("server.metrics_port %d out of range", c.Server.MetricsPort)
	}
	if c.Retry.MaxAttempts < 1 {
		return invalidf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseBackoffMs <= 0 || c.Retry.MaxBackoffMs < c.Retry.BaseBackoffMs {
		return invalidf("retry backoff window invalid: base=%dms max=%dms", c.Retry.BaseBackoffMs, c.Retry.MaxBackoffMs)
	}

	return nil
}

func (c *Config) validatePairs() error {
	if len(c.Pairs) == 0 {
		return invalidf("at least one pair is required")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for i, pc := range c.Pairs {
		pair, err := pc.Pair()
		if err != nil {
			return invalidf("pairs[%d]: %v", i, err)
		}
		key := pair.String() + ":" + string(pair.Interval)
		if seen[key] {
			return invalidf("pairs[%d]: duplicate schedule %s %s", i, pair, pair.Interval)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return invalidf("at least one provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, pc := range c.Providers {
		if pc.ID == "" {
			return invalidf("providers[%d]: id is required", i)
		}
		if seen[pc.ID] {
			return invalidf("providers[%d]: duplicate provider id %q", i, pc.ID)
		}
		seen[pc.ID] = true
		if pc.Role != "primary" && pc.Role != "fallback" {
			return invalidf("providers[%d] (%s): role must be primary or fallback, got %q", i, pc.ID, pc.Role)
		}
		if len(pc.Capabilities) == 0 {
			return invalidf("providers[%d] (%s): at least one capability is required", i, pc.ID)
		}
		for _, cap := range pc.Capabilities {
			if _, err := models.ParseCapability(cap); err != nil {
				return invalidf("providers[%d] (%s): %v", i, pc.ID, err)
			}
		}
		if pc.RateLimitRPS < 0 {
			return invalidf("providers[%d] (%s): rate_limit_rps must be non-negative", i, pc.ID)
		}
	}
	return nil
}

func (c *Config) validateAnalysts() error {
	if len(c.Analysts) == 0 {
		return invalidf("at least one analyst is required")
	}
	var sum float64
	seen := make(map[string]bool, len(c.Analysts))
	for i, ac := range c.Analysts {
		if ac.ID == "" {
			return invalidf("analysts[%d]: id is required", i)
		}
		if seen[ac.ID] {
			return invalidf("analysts[%d]: duplicate analyst id %q", i, ac.ID)
		}
		seen[ac.ID] = true
		if ac.Weight < 0 || ac.Weight > 1 {
			return invalidf("analysts[%d] (%s): weight %.4f outside [0,1]", i, ac.ID, ac.Weight)
		}
		if ac.TimeoutMs < 0 {
			return invalidf("analysts[%d] (%s): timeout_ms must be non-negative", i, ac.ID)
		}
		switch ac.Source.Provider {
		case "", "static", "http", "gemini":
		case "mcp":
			if ac.Source.Command == "" || ac.Source.Tool == "" {
				return invalidf("analysts[%d] (%s): mcp source requires command and tool", i, ac.ID)
			}
		default:
			return invalidf("analysts[%d] (%s): unknown source provider %q", i, ac.ID, ac.Source.Provider)
		}
		sum += ac.Weight
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return invalidf("analyst weights must sum to 1, got %.9f", sum)
	}
	return nil
}

func (c *Config) validateCombiner() error {
	if c.Combiner.ThetaBuy <= 0 || c.Combiner.ThetaBuy > 1 {
		return invalidf("combiner.theta_buy %.4f outside (0,1]", c.Combiner.ThetaBuy)
	}
	if c.Combiner.ThetaSell <= 0 || c.Combiner.ThetaSell > 1 {
		return invalidf("combiner.theta_sell %.4f outside (0,1]", c.Combiner.ThetaSell)
	}
	if c.Combiner.FallbackPenalty < 0 || c.Combiner.FallbackPenalty > 1 {
		return invalidf("combiner.fallback_penalty %.4f outside [0,1]", c.Combiner.FallbackPenalty)
	}
	return nil
}

func (c *Config) validateGuards() error {
	g := c.Guards
	if g.ExposureCapQuote <= 0 {
		return invalidf("guards.exposure_cap_quote must be positive")
	}
	if g.PerAssetCapPct <= 0 || g.PerAssetCapPct > 100 {
		return invalidf("guards.per_asset_cap_pct %.2f outside (0,100]", g.PerAssetCapPct)
	}
	if g.DrawdownPausePct <= 0 || g.DrawdownPausePct > 100 {
		return invalidf("guards.drawdown_pause_pct %.2f outside (0,100]", g.DrawdownPausePct)
	}
	if g.CooldownSec < 0 {
		return invalidf("guards.cooldown_sec must be non-negative")
	}
	if g.VolUpperPct <= 0 {
		return invalidf("guards.vol_upper_pct must be positive")
	}
	return nil
}

func (c *Config) validateSizing() error {
	s := c.Sizing
	if s.BaseNotionalQuote <= 0 {
		return invalidf("sizing.base_notional_quote must be positive")
	}
	if s.MinQuote <= 0 || s.MaxQuote < s.MinQuote {
		return invalidf("sizing quote bounds invalid: min=%.2f max=%.2f", s.MinQuote, s.MaxQuote)
	}
	if s.ConfidenceMultiplier <= 0 {
		return invalidf("sizing.confidence_multiplier must be positive")
	}
	if s.VolFloor <= 0 || s.VolCap < s.VolFloor {
		return invalidf("sizing vol bounds invalid: floor=%.2f cap=%.2f", s.VolFloor, s.VolCap)
	}
	if s.VolSensitivity < 0 {
		return invalidf("sizing.vol_sensitivity must be non-negative")
	}
	return nil
}
