package analyst

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quorum-trader/internal/llm"
	"quorum-trader/pkg/models"
)

// DefaultTimeout bounds one analyst call when the slot declares none.
const DefaultTimeout = 30 * time.Second

// Slot pairs an analyst with its combiner weight and deadline.
type Slot struct {
	Analyst Analyst
	Weight  float64
	Timeout time.Duration
}

// Result is one slot's outcome. A non-nil Err means the opinion is the
// fallback substitute, not what the analyst produced.
type Result struct {
	Opinion models.AnalystOpinion
	Weight  float64
	Err     error
}

// CycleError renders the slot failure for the journal, or nil for a clean
// slot.
func (r Result) CycleError() *models.CycleError {
	if r.Err == nil {
		return nil
	}
	kind := models.ErrKindAnalystFailed
	switch {
	case errors.Is(r.Err, context.DeadlineExceeded):
		kind = models.ErrKindAnalystTimeout
	case errors.Is(r.Err, llm.ErrInvalidOutput):
		kind = models.ErrKindAnalystInvalid
	}
	return &models.CycleError{
		Stage:  "analyze",
		Kind:   kind,
		Detail: fmt.Sprintf("%s: %v", r.Opinion.AnalystID, r.Err),
	}
}

// Pool fans one snapshot out to every slot concurrently and collects
// opinions in the configured slot order.
type Pool struct {
	slots   []Slot
	now     func() time.Time
	log     zerolog.Logger
	metrics *poolMetrics
}

// PoolOption adjusts pool construction.
type PoolOption func(*Pool)

// WithPoolClock injects the time source for fallback opinion timestamps.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool builds a pool over the given slots. Slots without a timeout get
// DefaultTimeout.
func NewPool(slots []Slot, log zerolog.Logger, opts ...PoolOption) (*Pool, error) {
	if len(slots) == 0 {
		return nil, fmt.Errorf("pool requires at least one analyst slot")
	}
	seen := make(map[string]bool, len(slots))
	for i := range slots {
		if slots[i].Analyst == nil {
			return nil, fmt.Errorf("slot %d has no analyst", i)
		}
		id := slots[i].Analyst.ID()
		if seen[id] {
			return nil, fmt.Errorf("duplicate analyst id %q", id)
		}
		seen[id] = true
		if slots[i].Weight < 0 {
			return nil, fmt.Errorf("analyst %s has negative weight", id)
		}
		if slots[i].Timeout <= 0 {
			slots[i].Timeout = DefaultTimeout
		}
	}

	p := &Pool{
		slots:   slots,
		now:     time.Now,
		log:     log.With().Str("component", "analyst_pool").Logger(),
		metrics: getOrCreatePoolMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int { return len(p.slots) }

// Analyze runs every slot against the snapshot. The returned results are in
// slot order regardless of completion order, one per slot, always
// len(slots) long. Failed or timed-out slots carry the fallback opinion and
// their error; nothing cancels the siblings.
func (p *Pool) Analyze(ctx context.Context, snap *models.MarketSnapshot) []Result {
	results := make([]Result, len(p.slots))

	var g errgroup.Group
	for i := range p.slots {
		slot := p.slots[i]
		idx := i
		g.Go(func() error {
			slotCtx, cancel := context.WithTimeout(ctx, slot.Timeout)
			defer cancel()

			start := time.Now()
			opinion, err := p.opine(slotCtx, slot.Analyst, snap)
			elapsed := time.Since(start)

			id := slot.Analyst.ID()
			p.metrics.opinionSeconds.WithLabelValues(id).Observe(elapsed.Seconds())

			if err != nil {
				p.metrics.fallbacks.WithLabelValues(id).Inc()
				p.log.Warn().
					Err(err).
					Str("analyst", id).
					Dur("elapsed", elapsed).
					Msg("Analyst slot degraded to fallback")
				results[idx] = Result{
					Opinion: models.FallbackOpinion(id, p.now()),
					Weight:  slot.Weight,
					Err:     err,
				}
				return nil
			}

			p.log.Debug().
				Str("analyst", id).
				Str("signal", string(opinion.Signal)).
				Int("confidence", opinion.Confidence).
				Dur("elapsed", elapsed).
				Msg("Analyst opinion collected")
			results[idx] = Result{Opinion: opinion, Weight: slot.Weight}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // closures never return errors; isolation is per-slot

	return results
}

// opine isolates one analyst call, converting panics into slot errors so a
// misbehaving analyst cannot take the cycle down.
func (p *Pool) opine(ctx context.Context, a Analyst, snap *models.MarketSnapshot) (op models.AnalystOpinion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyst panicked: %v", r)
		}
	}()
	op, err = a.Opine(ctx, snap)
	if err != nil {
		return models.AnalystOpinion{}, err
	}
	if verr := op.Validate(); verr != nil {
		return models.AnalystOpinion{}, fmt.Errorf("%w: %v", llm.ErrInvalidOutput, verr)
	}
	return op, nil
}
