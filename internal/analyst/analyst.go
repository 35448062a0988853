// Package analyst runs the configured analyst slots in parallel against one
// snapshot and normalizes whatever comes back into schema-clean opinions.
// Failures never propagate across slots: a broken analyst degrades to a
// fallback opinion and the cycle carries on.
package analyst

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quorum-trader/internal/config"
	"quorum-trader/internal/llm"
	"quorum-trader/pkg/models"
)

// Built-in analyst roles.
const (
	RoleTechnical    = "technical"
	RoleSentiment    = "sentiment"
	RoleLiquidity    = "liquidity"
	RoleFunding      = "funding"
	RoleOpenInterest = "open-interest"
)

// Analyst is one opinion slot. Opine must honor ctx; the pool wraps every
// call in a per-slot timeout.
type Analyst interface {
	ID() string
	Role() string
	Opine(ctx context.Context, snap *models.MarketSnapshot) (models.AnalystOpinion, error)
}

// Constructor builds an analyst for a role. Deployments can register custom
// roles next to the built-ins.
type Constructor func(cfg config.AnalystConfig, source llm.Source, log zerolog.Logger) (Analyst, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// RegisterRole adds a role constructor. Registering an existing role
// replaces it.
func RegisterRole(role string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[role] = ctor
}

// Roles returns the registered role names.
func Roles() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for role := range registry {
		out = append(out, role)
	}
	return out
}

func init() {
	for _, role := range []string{RoleTechnical, RoleSentiment, RoleLiquidity, RoleFunding, RoleOpenInterest} {
		RegisterRole(role, newSourceAnalyst)
	}
}

// New builds the analyst declared by cfg using its registered role
// constructor.
func New(cfg config.AnalystConfig, source llm.Source, log zerolog.Logger) (Analyst, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Role]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown analyst role %q", cfg.Role)
	}
	return ctor(cfg, source, log)
}

// SourceAnalyst renders role prompts, asks its opinion source and stamps
// identity, time and data quality onto the draft.
type SourceAnalyst struct {
	id     string
	role   string
	prompt string
	source llm.Source
	now    func() time.Time
	log    zerolog.Logger
}

func newSourceAnalyst(cfg config.AnalystConfig, source llm.Source, log zerolog.Logger) (Analyst, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("analyst requires an id")
	}
	if source == nil {
		return nil, fmt.Errorf("analyst %s requires an opinion source", cfg.ID)
	}
	return &SourceAnalyst{
		id:     cfg.ID,
		role:   cfg.Role,
		prompt: cfg.Source.Prompt,
		source: source,
		now:    time.Now,
		log:    log.With().Str("component", "analyst").Str("analyst", cfg.ID).Logger(),
	}, nil
}

func (a *SourceAnalyst) ID() string   { return a.id }
func (a *SourceAnalyst) Role() string { return a.role }

// Opine asks the source for a draft and promotes it to a full opinion. The
// opinion's data quality mirrors the snapshot: an analyst reading a PARTIAL
// snapshot cannot claim FULL inputs.
func (a *SourceAnalyst) Opine(ctx context.Context, snap *models.MarketSnapshot) (models.AnalystOpinion, error) {
	draft, err := a.source.GenerateOpinion(ctx, llm.OpinionRequest{
		AnalystID:    a.id,
		Role:         a.role,
		SystemPrompt: systemPromptFor(a.role),
		UserPrompt:   buildUserPrompt(a.role, a.prompt, snap),
		Snapshot:     snap,
	})
	if err != nil {
		return models.AnalystOpinion{}, err
	}

	opinion := models.AnalystOpinion{
		AnalystID:   a.id,
		Signal:      draft.Signal,
		Confidence:  draft.Confidence,
		Reasoning:   draft.Reasoning,
		ProducedAt:  a.now(),
		DataQuality: opinionQuality(snap),
	}
	if err := opinion.Validate(); err != nil {
		return models.AnalystOpinion{}, fmt.Errorf("%w: %v", llm.ErrInvalidOutput, err)
	}
	return opinion, nil
}

func opinionQuality(snap *models.MarketSnapshot) models.DataQuality {
	if snap != nil && snap.Quality == models.SnapshotPartial {
		return models.QualityPartial
	}
	return models.QualityFull
}
