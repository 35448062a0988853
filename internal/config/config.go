// Package config loads, defaults and validates the application
// configuration. Secrets never live in the config file; provider and LLM
// credentials are read from the environment variables the config names.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"quorum-trader/pkg/models"
)

// Config holds all application configuration.
type Config struct {
	Environment EnvironmentConfig `mapstructure:"environment"`
	Pairs       []PairConfig      `mapstructure:"pairs"`
	Providers   []ProviderConfig  `mapstructure:"providers"`
	Analysts    []AnalystConfig   `mapstructure:"analysts"`
	Combiner    CombinerConfig    `mapstructure:"combiner"`
	Guards      GuardsConfig      `mapstructure:"guards"`
	Sizing      SizingConfig      `mapstructure:"sizing"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Portfolio   PortfolioConfig   `mapstructure:"portfolio"`
	Server      ServerConfig      `mapstructure:"server"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	NATS        NATSConfig        `mapstructure:"nats"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Retry       RetryConfig       `mapstructure:"retry"`
}

// EnvironmentConfig selects deployment defaults such as sandbox vs live
// provider endpoints.
type EnvironmentConfig struct {
	DeployEnv string `mapstructure:"deploy_env"` // "dev" or "prod"
}

// PairConfig declares one scheduled (pair, interval).
type PairConfig struct {
	Base     string `mapstructure:"base"`
	Quote    string `mapstructure:"quote"`
	Interval string `mapstructure:"interval"`
}

// Pair converts the config entry into a domain Pair.
func (p PairConfig) Pair() (models.Pair, error) {
	iv, err := models.ParseInterval(p.Interval)
	if err != nil {
		return models.Pair{}, err
	}
	return models.NewPair(p.Base, p.Quote, iv)
}

// ProviderConfig declares one market-data provider in failover priority
// order. KeyEnv and SecretEnv name the environment variables carrying
// credentials; they default to <ID>_KEY and <ID>_SECRET.
type ProviderConfig struct {
	ID           string   `mapstructure:"id"`
	Role         string   `mapstructure:"role"` // "primary" or "fallback"
	Capabilities []string `mapstructure:"capabilities"`
	BaseURL      string   `mapstructure:"base_url"`
	KeyEnv       string   `mapstructure:"key_env"`
	SecretEnv    string   `mapstructure:"secret_env"`
	RateLimitRPS float64  `mapstructure:"rate_limit_rps"`
}

// KeyEnvName returns the env var holding the provider API key.
func (p ProviderConfig) KeyEnvName() string {
	if p.KeyEnv != "" {
		return p.KeyEnv
	}
	return strings.ToUpper(p.ID) + "_KEY"
}

// SecretEnvName returns the env var holding the provider API secret.
func (p ProviderConfig) SecretEnvName() string {
	if p.SecretEnv != "" {
		return p.SecretEnv
	}
	return strings.ToUpper(p.ID) + "_SECRET"
}

// AnalystConfig declares one analyst slot. Weights across all analysts must
// sum to 1.
type AnalystConfig struct {
	ID        string              `mapstructure:"id"`
	Role      string              `mapstructure:"role"`
	Weight    float64             `mapstructure:"weight"`
	TimeoutMs int                 `mapstructure:"timeout_ms"`
	Source    AnalystSourceConfig `mapstructure:"source"`
}

// Timeout returns the per-analyst deadline.
func (a AnalystConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// AnalystSourceConfig selects the opinion source backing an analyst.
// Command, Args and Tool apply to the mcp provider only.
type AnalystSourceConfig struct {
	Provider string   `mapstructure:"provider"` // "static", "http", "gemini", "mcp"
	Model    string   `mapstructure:"model"`
	Prompt   string   `mapstructure:"prompt"`
	Command  string   `mapstructure:"command"`
	Args     []string `mapstructure:"args"`
	Tool     string   `mapstructure:"tool"`
}

// CombinerConfig holds the decision-combiner thresholds.
type CombinerConfig struct {
	ThetaBuy        float64 `mapstructure:"theta_buy"`
	ThetaSell       float64 `mapstructure:"theta_sell"`
	FallbackPenalty float64 `mapstructure:"fallback_penalty"`
}

// GuardsConfig holds the guard-chain limits.
type GuardsConfig struct {
	ExposureCapQuote float64 `mapstructure:"exposure_cap_quote"`
	PerAssetCapPct   float64 `mapstructure:"per_asset_cap_pct"`
	DrawdownPausePct float64 `mapstructure:"drawdown_pause_pct"`
	CooldownSec      int     `mapstructure:"cooldown_sec"`
	VolUpperPct      float64 `mapstructure:"vol_upper_pct"`
}

// Cooldown returns the cooldown window as a duration.
func (g GuardsConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownSec) * time.Second
}

// SizingConfig holds the position-sizing formula parameters.
type SizingConfig struct {
	BaseNotionalQuote    float64 `mapstructure:"base_notional_quote"`
	MinQuote             float64 `mapstructure:"min_quote"`
	MaxQuote             float64 `mapstructure:"max_quote"`
	ConfidenceMultiplier float64 `mapstructure:"confidence_multiplier"`
	VolFloor             float64 `mapstructure:"vol_floor"`
	VolCap               float64 `mapstructure:"vol_cap"`
	VolSensitivity       float64 `mapstructure:"vol_sensitivity"`
}

// JournalConfig holds the decision-journal sink settings.
type JournalConfig struct {
	Path            string `mapstructure:"path"`
	FsyncEachRecord bool   `mapstructure:"fsync_each_record"`
}

// PortfolioConfig seeds the paper portfolio.
type PortfolioConfig struct {
	InitialCashQuote float64 `mapstructure:"initial_cash_quote"`
}

// ServerConfig holds the control-plane and metrics listen ports.
type ServerConfig struct {
	APIPort     int `mapstructure:"api_port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// RedisConfig holds the optional snapshot-cache settings. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig holds the optional journal-mirror database settings.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN builds the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// NATSConfig holds the optional intent/decision bus settings.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LLMConfig holds the default opinion-source settings shared by analysts
// whose source config does not override them.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	Model     string `mapstructure:"model"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// Timeout returns the LLM request deadline.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// RetryConfig holds the central provider retry policy.
type RetryConfig struct {
	MaxAttempts         int `mapstructure:"max_attempts"`
	BaseBackoffMs       int `mapstructure:"base_backoff_ms"`
	MaxBackoffMs        int `mapstructure:"max_backoff_ms"`
	PerAttemptTimeoutMs int `mapstructure:"per_attempt_timeout_ms"`
}

// BaseBackoff returns the initial backoff as a duration.
func (r RetryConfig) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// PerAttemptTimeout returns the timeout applied to each provider call.
func (r RetryConfig) PerAttemptTimeout() time.Duration {
	return time.Duration(r.PerAttemptTimeoutMs) * time.Millisecond
}

// Load reads configuration from file and environment variables, applies
// defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("quorum")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults plus environment only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Pairs, providers and
// analysts have no defaults; a deployment must declare them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment.deploy_env", "dev")

	v.SetDefault("combiner.theta_buy", 0.15)
	v.SetDefault("combiner.theta_sell", 0.15)
	v.SetDefault("combiner.fallback_penalty", 0.5)

	v.SetDefault("guards.exposure_cap_quote", 10000.0)
	v.SetDefault("guards.per_asset_cap_pct", 25.0)
	v.SetDefault("guards.drawdown_pause_pct", 10.0)
	v.SetDefault("guards.cooldown_sec", 300)
	v.SetDefault("guards.vol_upper_pct", 8.0)

	v.SetDefault("sizing.base_notional_quote", 1000.0)
	v.SetDefault("sizing.min_quote", 50.0)
	v.SetDefault("sizing.max_quote", 2500.0)
	v.SetDefault("sizing.confidence_multiplier", 1.2)
	v.SetDefault("sizing.vol_floor", 0.5)
	v.SetDefault("sizing.vol_cap", 10.0)
	v.SetDefault("sizing.vol_sensitivity", 1.0)

	v.SetDefault("journal.path", "data/journal.jsonl")
	v.SetDefault("journal.fsync_each_record", true)

	v.SetDefault("portfolio.initial_cash_quote", 10000.0)

	v.SetDefault("server.api_port", 8090)
	v.SetDefault("server.metrics_port", 9091)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.database", "quorum")
	v.SetDefault("postgres.ssl_mode", "disable")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "quorum")

	v.SetDefault("llm.provider", "static")
	v.SetDefault("llm.base_url", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.api_key_env", "LLM_API_KEY")
	v.SetDefault("llm.model", "gpt-4-turbo")
	v.SetDefault("llm.timeout_ms", 30000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_backoff_ms", 250)
	v.SetDefault("retry.max_backoff_ms", 4000)
	v.SetDefault("retry.per_attempt_timeout_ms", 10000)
}
