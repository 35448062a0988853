package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"quorum-trader/pkg/models"
)

// Demotion TTLs by error kind. Rate-limit demotions never undercut the
// server's retry hint.
const (
	demoteTransient   = 30 * time.Second
	demoteRateLimited = 60 * time.Second
	demoteAuth        = 10 * time.Minute
	demoteRegion      = 15 * time.Minute
	demotePermanent   = 5 * time.Minute
)

type health struct {
	unhealthyUntil time.Time
	reason         string
}

type entry struct {
	provider Provider
	priority int
	role     string
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	health   health
}

// Registry holds configured providers in priority order and serves the
// failover chain per capability. Reads are concurrent; health-state writes
// are serialized.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	retry   RetryPolicy

	attemptTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger
	metrics        *registryMetrics
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) RegistryOption {
	return func(r *Registry) { r.retry = p }
}

// WithAttemptTimeout bounds each individual provider call.
func WithAttemptTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.attemptTimeout = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry from providers in priority order.
// rateLimits maps provider id to requests-per-second; zero means unlimited.
func NewRegistry(provs []Provider, roles map[string]string, rateLimits map[string]float64, log zerolog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:        make(map[string]*entry, len(provs)),
		order:          make([]string, 0, len(provs)),
		retry:          DefaultRetryPolicy(),
		attemptTimeout: 10 * time.Second,
		now:            time.Now,
		log:            log.With().Str("component", "provider_registry").Logger(),
		metrics:        getOrCreateRegistryMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, p := range provs {
		var limiter *rate.Limiter
		if rps := rateLimits[p.ID()]; rps > 0 {
			limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
		r.entries[p.ID()] = &entry{
			provider: p,
			priority: i,
			role:     roles[p.ID()],
			breaker:  newProviderBreaker(p.ID(), r.log),
			limiter:  limiter,
		}
		r.order = append(r.order, p.ID())
	}
	return r
}

func newProviderBreaker(id string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
	})
}

// ProvidersFor returns the failover chain for a capability: healthy
// providers in priority order, then demoted ones in priority order. Demoted
// providers stay in the chain so a fully-demoted capability still gets
// attempts rather than failing outright.
func (r *Registry) ProvidersFor(capability models.Capability) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	healthy := make([]Provider, 0, len(r.order))
	demoted := make([]Provider, 0)
	for _, id := range r.order {
		e := r.entries[id]
		if !e.provider.Capabilities().Has(capability) {
			continue
		}
		if e.health.unhealthyUntil.After(now) {
			demoted = append(demoted, e.provider)
		} else {
			healthy = append(healthy, e.provider)
		}
	}
	return append(healthy, demoted...)
}

// MarkUnhealthy demotes a provider until the TTL expires or a successful
// call probes it back.
func (r *Registry) MarkUnhealthy(id, reason string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.health = health{unhealthyUntil: r.now().Add(ttl), reason: reason}
	r.metrics.providerHealthy.WithLabelValues(id).Set(0)
	r.log.Warn().
		Str("provider", id).
		Str("reason", reason).
		Dur("ttl", ttl).
		Msg("Provider marked unhealthy")
}

// MarkHealthy clears a provider's demotion.
func (r *Registry) MarkHealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	wasDemoted := e.health.unhealthyUntil.After(r.now())
	e.health = health{}
	r.metrics.providerHealthy.WithLabelValues(id).Set(1)
	if wasDemoted {
		r.log.Info().Str("provider", id).Msg("Provider healthy again")
	}
}

// HasCapability reports whether any configured provider serves the
// capability, regardless of current health.
func (r *Registry) HasCapability(c models.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if r.entries[id].provider.Capabilities().Has(c) {
			return true
		}
	}
	return false
}

// Healthy reports whether a provider is currently undemoted.
func (r *Registry) Healthy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	return !e.health.unhealthyUntil.After(r.now())
}

// demotionTTL picks the demotion window for a failed chain step.
func demotionTTL(err error) time.Duration {
	var pe *ProviderError
	kind := Classify(err)
	if errors.As(err, &pe) && pe.Kind == KindRateLimited && pe.RetryAfter > demoteRateLimited {
		return pe.RetryAfter
	}
	switch kind {
	case KindAuth:
		return demoteAuth
	case KindRegionBlocked:
		return demoteRegion
	case KindPermanent:
		return demotePermanent
	case KindRateLimited:
		return demoteRateLimited
	default:
		return demoteTransient
	}
}

// fetchThrough runs one provider call with rate limiting, the circuit
// breaker and the retry policy applied, and keeps the health table current.
func (r *Registry) fetchThrough(ctx context.Context, p Provider, op func(ctx context.Context) error) error {
	r.mu.RLock()
	e := r.entries[p.ID()]
	r.mu.RUnlock()

	err := WithRetry(ctx, r.retry, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attemptCtx := ctx
		if r.attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
			defer cancel()
		}
		_, berr := e.breaker.Execute(func() (interface{}, error) {
			return nil, op(attemptCtx)
		})
		if berr == gobreaker.ErrOpenState || berr == gobreaker.ErrTooManyRequests {
			return NewProviderError(p.ID(), KindTransient, berr)
		}
		return berr
	})

	if err != nil {
		r.metrics.providerErrors.WithLabelValues(p.ID(), string(Classify(err))).Inc()
		return err
	}
	r.MarkHealthy(p.ID())
	return nil
}

// FetchCandles walks the failover chain for CANDLES, validating results
// before accepting them. Invalid data counts as a provider failure.
func (r *Registry) FetchCandles(ctx context.Context, pair models.Pair, interval models.Interval, limit int) ([]models.Candle, string, error) {
	chain := r.ProvidersFor(models.CapCandles)
	if len(chain) == 0 {
		return nil, "", &ExhaustedError{Capability: models.CapCandles, Attempts: []error{fmt.Errorf("no provider supports CANDLES")}}
	}

	var attempts []error
	for _, p := range chain {
		var candles []models.Candle
		err := r.fetchThrough(ctx, p, func(ctx context.Context) error {
			got, ferr := p.FetchCandles(ctx, pair, interval, limit)
			if ferr != nil {
				return ferr
			}
			if verr := validateCandles(got, interval); verr != nil {
				return NewProviderError(p.ID(), KindPermanent, verr)
			}
			candles = got
			return nil
		})
		if err == nil {
			return candles, p.ID(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		attempts = append(attempts, err)
		r.MarkUnhealthy(p.ID(), err.Error(), demotionTTL(err))
		r.metrics.failovers.WithLabelValues(string(models.CapCandles)).Inc()
	}
	return nil, "", &ExhaustedError{Capability: models.CapCandles, Attempts: attempts}
}

// FetchTicker walks the failover chain for TICKER.
func (r *Registry) FetchTicker(ctx context.Context, pair models.Pair) (models.Ticker, string, error) {
	chain := r.ProvidersFor(models.CapTicker)
	if len(chain) == 0 {
		return models.Ticker{}, "", &ExhaustedError{Capability: models.CapTicker, Attempts: []error{fmt.Errorf("no provider supports TICKER")}}
	}

	var attempts []error
	for _, p := range chain {
		var ticker models.Ticker
		err := r.fetchThrough(ctx, p, func(ctx context.Context) error {
			got, ferr := p.FetchTicker(ctx, pair)
			if ferr != nil {
				return ferr
			}
			if verr := got.Validate(); verr != nil {
				return NewProviderError(p.ID(), KindPermanent, verr)
			}
			ticker = got
			return nil
		})
		if err == nil {
			return ticker, p.ID(), nil
		}
		if ctx.Err() != nil {
			return models.Ticker{}, "", ctx.Err()
		}
		attempts = append(attempts, err)
		r.MarkUnhealthy(p.ID(), err.Error(), demotionTTL(err))
		r.metrics.failovers.WithLabelValues(string(models.CapTicker)).Inc()
	}
	return models.Ticker{}, "", &ExhaustedError{Capability: models.CapTicker, Attempts: attempts}
}

// FetchDepth walks the failover chain for DEPTH.
func (r *Registry) FetchDepth(ctx context.Context, pair models.Pair, levels int) (models.DepthLevels, string, error) {
	chain := r.ProvidersFor(models.CapDepth)
	if len(chain) == 0 {
		return models.DepthLevels{}, "", &ExhaustedError{Capability: models.CapDepth, Attempts: []error{fmt.Errorf("no provider supports DEPTH")}}
	}

	var attempts []error
	for _, p := range chain {
		var depth models.DepthLevels
		err := r.fetchThrough(ctx, p, func(ctx context.Context) error {
			got, ferr := p.FetchDepth(ctx, pair, levels)
			if ferr != nil {
				return ferr
			}
			if verr := got.Validate(); verr != nil {
				return NewProviderError(p.ID(), KindPermanent, verr)
			}
			depth = got
			return nil
		})
		if err == nil {
			return depth, p.ID(), nil
		}
		if ctx.Err() != nil {
			return models.DepthLevels{}, "", ctx.Err()
		}
		attempts = append(attempts, err)
		r.MarkUnhealthy(p.ID(), err.Error(), demotionTTL(err))
		r.metrics.failovers.WithLabelValues(string(models.CapDepth)).Inc()
	}
	return models.DepthLevels{}, "", &ExhaustedError{Capability: models.CapDepth, Attempts: attempts}
}

// FetchDerivatives walks the chain for FUNDING and OI data. Derivatives are
// an optional snapshot component; callers treat exhaustion as absence.
func (r *Registry) FetchDerivatives(ctx context.Context, pair models.Pair) (models.DerivativesFact, string, error) {
	chain := r.ProvidersFor(models.CapFunding)
	if len(chain) == 0 {
		return models.DerivativesFact{}, "", &ExhaustedError{Capability: models.CapFunding, Attempts: []error{fmt.Errorf("no provider supports FUNDING")}}
	}

	var attempts []error
	for _, p := range chain {
		var fact models.DerivativesFact
		err := r.fetchThrough(ctx, p, func(ctx context.Context) error {
			got, ferr := p.FetchDerivatives(ctx, pair)
			if ferr != nil {
				return ferr
			}
			fact = got
			return nil
		})
		if err == nil {
			return fact, p.ID(), nil
		}
		if ctx.Err() != nil {
			return models.DerivativesFact{}, "", ctx.Err()
		}
		attempts = append(attempts, err)
		r.MarkUnhealthy(p.ID(), err.Error(), demotionTTL(err))
		r.metrics.failovers.WithLabelValues(string(models.CapFunding)).Inc()
	}
	return models.DerivativesFact{}, "", &ExhaustedError{Capability: models.CapFunding, Attempts: attempts}
}

// StartupProbe verifies credentials for every provider that can. A KindAuth
// failure is returned as-is so the caller can abort startup.
func (r *Registry) StartupProbe(ctx context.Context) error {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, id := range ids {
		r.mu.RLock()
		p := r.entries[id].provider
		r.mu.RUnlock()

		prober, ok := p.(AuthProber)
		if !ok {
			continue
		}
		if err := prober.ProbeAuth(ctx); err != nil {
			if Classify(err) == KindAuth {
				return fmt.Errorf("startup auth probe failed for %s: %w", id, err)
			}
			// Non-auth probe failures demote but do not block startup.
			r.MarkUnhealthy(id, err.Error(), demotionTTL(err))
			continue
		}
		r.log.Info().Str("provider", id).Msg("Startup auth probe passed")
	}
	return nil
}

// validateCandles applies the candle entity invariants plus chain-level
// checks: ascending open times and interval alignment.
func validateCandles(candles []models.Candle, interval models.Interval) error {
	if len(candles) == 0 {
		return fmt.Errorf("empty candle window")
	}
	step := interval.Duration()
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if !c.OpenTime.Equal(c.OpenTime.Truncate(step)) {
			return fmt.Errorf("candle %d open_time %s not aligned to %s", i, c.OpenTime, interval)
		}
		if i > 0 && !candles[i-1].OpenTime.Before(c.OpenTime) {
			return fmt.Errorf("candles not in ascending open_time order at %d", i)
		}
	}
	return nil
}
