package providers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/internal/config"
	"quorum-trader/pkg/models"
)

func TestBuildFromConfig(t *testing.T) {
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{DeployEnv: "dev"},
		Providers: []config.ProviderConfig{
			{ID: "binance-spot", Role: "primary", Capabilities: []string{"CANDLES", "TICKER", "DEPTH"}},
			{ID: "kraken", Role: "fallback"},
			{ID: "sim-dev", Role: "fallback"},
		},
	}

	provs, err := BuildFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, provs, 3)

	assert.Equal(t, "binance-spot", provs[0].ID())
	assert.IsType(t, &BinanceProvider{}, provs[0])
	assert.False(t, provs[0].Capabilities().Has(models.CapFunding))

	assert.IsType(t, &KrakenProvider{}, provs[1])
	assert.IsType(t, &SimProvider{}, provs[2])
}

func TestBuildFromConfigUnknownKind(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{{ID: "coinbase", Role: "primary"}},
	}

	_, err := BuildFromConfig(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider kind")
}

func TestBuildFromConfigRejectsBadCapability(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.ProviderConfig{{ID: "sim", Capabilities: []string{"ORDERBOOKS"}}},
	}

	_, err := BuildFromConfig(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestProviderKind(t *testing.T) {
	assert.Equal(t, "binance", providerKind("binance-spot"))
	assert.Equal(t, "binance", providerKind("Binance"))
	assert.Equal(t, "kraken", providerKind("kraken-eu"))
	assert.Equal(t, "sim", providerKind("sim-dev"))
	assert.Equal(t, "coinbase", providerKind("coinbase"))
}

func TestNewRegistryFromConfigServesThroughSim(t *testing.T) {
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{DeployEnv: "dev"},
		Providers:   []config.ProviderConfig{{ID: "sim", Role: "primary"}},
		Retry: config.RetryConfig{
			MaxAttempts:         2,
			BaseBackoffMs:       1,
			MaxBackoffMs:        4,
			PerAttemptTimeoutMs: 1000,
		},
	}

	reg, err := NewRegistryFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)

	pair := testPair(t)
	candles, servedBy, err := reg.FetchCandles(context.Background(), pair, pair.Interval, 40)
	require.NoError(t, err)
	assert.Equal(t, "sim", servedBy)
	assert.Len(t, candles, 40)

	ticker, _, err := reg.FetchTicker(context.Background(), pair)
	require.NoError(t, err)
	require.NoError(t, ticker.Validate())
}
