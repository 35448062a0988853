package analyst

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"quorum-trader/internal/config"
	"quorum-trader/internal/llm"
)

// NewPoolFromConfig builds the full analyst pool, one opinion source per
// configured slot. The returned closer shuts down sources that hold
// processes or connections (currently MCP) and must be called on shutdown.
func NewPoolFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pool, func() error, error) {
	slots := make([]Slot, 0, len(cfg.Analysts))
	var closers []io.Closer

	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, ac := range cfg.Analysts {
		source, err := buildSource(ctx, cfg, ac, log)
		if err != nil {
			closeAll() //nolint:errcheck // returning the construction error
			return nil, nil, fmt.Errorf("analyst %s: %w", ac.ID, err)
		}
		if c, ok := source.(io.Closer); ok {
			closers = append(closers, c)
		}

		a, err := New(ac, source, log)
		if err != nil {
			closeAll() //nolint:errcheck
			return nil, nil, err
		}
		slots = append(slots, Slot{Analyst: a, Weight: ac.Weight, Timeout: ac.Timeout()})
	}

	pool, err := NewPool(slots, log)
	if err != nil {
		closeAll() //nolint:errcheck
		return nil, nil, err
	}
	return pool, closeAll, nil
}

// buildSource maps one analyst's source config onto an llm.Source. An empty
// provider inherits the deployment-wide llm.provider setting.
func buildSource(ctx context.Context, cfg *config.Config, ac config.AnalystConfig, log zerolog.Logger) (llm.Source, error) {
	provider := ac.Source.Provider
	if provider == "" {
		provider = cfg.LLM.Provider
	}

	model := ac.Source.Model
	if model == "" {
		model = cfg.LLM.Model
	}

	switch provider {
	case "", "static":
		return llm.StaticSource{}, nil

	case "http":
		return llm.NewHTTPSource(llm.HTTPConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  os.Getenv(cfg.LLM.APIKeyEnv),
			Model:   model,
			Timeout: cfg.LLM.Timeout(),
		}, log), nil

	case "gemini":
		return llm.NewGeminiSource(ctx, os.Getenv(cfg.LLM.APIKeyEnv), model, log)

	case "mcp":
		return llm.NewMCPSource(ctx, llm.MCPConfig{
			Command:     ac.Source.Command,
			Args:        ac.Source.Args,
			Tool:        ac.Source.Tool,
			CallTimeout: ac.Timeout(),
		}, log)

	default:
		return nil, fmt.Errorf("unknown opinion source provider %q", provider)
	}
}
