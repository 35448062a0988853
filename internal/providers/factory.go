package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"quorum-trader/internal/config"
	"quorum-trader/pkg/models"
)

// BuildFromConfig instantiates the configured providers in declaration
// order. Credentials come from the environment variables each entry names.
func BuildFromConfig(cfg *config.Config, log zerolog.Logger) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := buildProvider(cfg, pc, log)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func buildProvider(cfg *config.Config, pc config.ProviderConfig, log zerolog.Logger) (Provider, error) {
	caps, err := parseCapabilities(pc.Capabilities)
	if err != nil {
		return nil, err
	}

	switch kind := providerKind(pc.ID); kind {
	case "binance":
		return NewBinanceProvider(BinanceConfig{
			ID:           pc.ID,
			APIKey:       os.Getenv(pc.KeyEnvName()),
			SecretKey:    os.Getenv(pc.SecretEnvName()),
			BaseURL:      pc.BaseURL,
			Testnet:      cfg.Environment.DeployEnv != "prod",
			Capabilities: caps,
		}, log), nil
	case "kraken":
		return NewKrakenProvider(KrakenConfig{
			ID:           pc.ID,
			BaseURL:      pc.BaseURL,
			Capabilities: caps,
		}, log), nil
	case "sim":
		return NewSimProvider(pc.ID), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// providerKind strips an instance suffix so "binance-spot" and "binance"
// both select the Binance implementation.
func providerKind(id string) string {
	lower := strings.ToLower(id)
	for _, kind := range []string{"binance", "kraken", "sim"} {
		if strings.HasPrefix(lower, kind) {
			return kind
		}
	}
	return lower
}

func parseCapabilities(names []string) (models.CapabilitySet, error) {
	if len(names) == 0 {
		return nil, nil // provider default
	}
	caps := make(models.CapabilitySet, len(names))
	for _, name := range names {
		c, err := models.ParseCapability(name)
		if err != nil {
			return nil, err
		}
		caps[c] = struct{}{}
	}
	return caps, nil
}

// NewRegistryFromConfig builds the providers and wraps them in a failover
// registry using the configured retry policy, roles and rate limits.
func NewRegistryFromConfig(cfg *config.Config, log zerolog.Logger) (*Registry, error) {
	provs, err := BuildFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	roles := make(map[string]string, len(cfg.Providers))
	rateLimits := make(map[string]float64, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		roles[pc.ID] = pc.Role
		if pc.RateLimitRPS > 0 {
			rateLimits[pc.ID] = pc.RateLimitRPS
		}
	}

	policy := RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseBackoff:    cfg.Retry.BaseBackoff(),
		MaxBackoff:     cfg.Retry.MaxBackoff(),
		JitterFraction: 0.2,
	}

	return NewRegistry(provs, roles, rateLimits, log,
		WithRetryPolicy(policy),
		WithAttemptTimeout(cfg.Retry.PerAttemptTimeout()),
	), nil
}
