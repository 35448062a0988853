// Package orchestrator drives one decision cycle from trigger to journal
// record: snapshot assembly, parallel analysis, weighted combination, the
// guard chain, sizing, publication and the append-only record. Errors are
// contained at the smallest responsible boundary; only a process shutdown
// aborts a cycle without a record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quorum-trader/internal/analyst"
	"quorum-trader/internal/bus"
	"quorum-trader/internal/decision"
	"quorum-trader/internal/guard"
	"quorum-trader/internal/sizing"
	"quorum-trader/internal/snapshot"
	"quorum-trader/pkg/models"
)

// DefaultCycleCap is the hard ceiling on one cycle regardless of interval.
// The effective deadline is min(2 x interval, cap).
const DefaultCycleCap = 90 * time.Second

// journalTimeout bounds the LOGGING stage separately from the cycle
// deadline: an expired cycle still gets its record written.
const journalTimeout = 10 * time.Second

// SnapshotAssembler builds the market snapshot a cycle runs on.
type SnapshotAssembler interface {
	Assemble(ctx context.Context, pair models.Pair) (*models.MarketSnapshot, error)
}

// AnalystPool fans a snapshot out to every analyst slot.
type AnalystPool interface {
	Analyze(ctx context.Context, snap *models.MarketSnapshot) []analyst.Result
	Size() int
}

// Journal is the append-only record sink. journal.Writer and
// journal.Memory both satisfy it.
type Journal interface {
	Append(ctx context.Context, rec *models.JournalRecord) error
}

// Executor is the execution collaborator consuming published intents and
// serving the portfolio view the guards read. The paper portfolio is the
// production implementation.
type Executor interface {
	Execute(intent *models.TradeIntent) error
	MarkToMarket(base string, price float64)
	State() models.PortfolioState
}

// Mirror optionally copies journal records into a queryable store. Mirror
// failures never fail a cycle.
type Mirror interface {
	InsertRecord(ctx context.Context, rec *models.JournalRecord) error
}

// Deps carries the pipeline components the engine wires together. Mirror is
// optional; everything else is required.
type Deps struct {
	Assembler SnapshotAssembler
	Pool      AnalystPool
	Combiner  *decision.Combiner
	Guards    *guard.Chain
	Sizer     *sizing.Sizer
	Journal   Journal
	Publisher bus.Publisher
	Executor  Executor
	Cooldowns *guard.CooldownTable
	Mirror    Mirror

	// MaxNotionalQuote is the sizing ceiling, used as the worst-case
	// proposed notional the exposure and concentration guards project with
	// (guards run before the sizer, which can only shrink it).
	MaxNotionalQuote float64
}

func (d Deps) validate() error {
	switch {
	case d.Assembler == nil:
		return fmt.Errorf("engine requires a snapshot assembler")
	case d.Pool == nil:
		return fmt.Errorf("engine requires an analyst pool")
	case d.Combiner == nil:
		return fmt.Errorf("engine requires a combiner")
	case d.Guards == nil:
		return fmt.Errorf("engine requires a guard chain")
	case d.Sizer == nil:
		return fmt.Errorf("engine requires a sizer")
	case d.Journal == nil:
		return fmt.Errorf("engine requires a journal")
	case d.Publisher == nil:
		return fmt.Errorf("engine requires a publisher (use bus.NewNop when disabled)")
	case d.Executor == nil:
		return fmt.Errorf("engine requires an executor")
	case d.Cooldowns == nil:
		return fmt.Errorf("engine requires a cooldown table")
	case d.MaxNotionalQuote <= 0:
		return fmt.Errorf("engine requires a positive max notional, got %.2f", d.MaxNotionalQuote)
	}
	return nil
}

// Engine owns the cycle lifecycle. One engine serves every pair; the
// scheduler's per-pair dispatchers guarantee at most one in-flight cycle
// per pair, so the engine itself keeps no per-pair locks beyond the status
// table.
type Engine struct {
	deps     Deps
	cycleCap time.Duration

	recordHook func(models.JournalRecord)

	now     func() time.Time
	log     zerolog.Logger
	metrics *engineMetrics

	mu     sync.Mutex
	paused bool
	stages map[string]Stage
	cycles uint64
}

// EngineOption adjusts engine construction.
type EngineOption func(*Engine)

// WithCycleCap overrides the hard per-cycle deadline ceiling.
func WithCycleCap(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cycleCap = d
		}
	}
}

// WithEngineClock injects a clock for tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRecordHook registers a callback invoked with every journal record
// after it is appended. The websocket tail uses it; the hook must not
// block.
func WithRecordHook(hook func(models.JournalRecord)) EngineOption {
	return func(e *Engine) { e.recordHook = hook }
}

// NewEngine wires the pipeline.
func NewEngine(deps Deps, log zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		deps:     deps,
		cycleCap: DefaultCycleCap,
		now:      time.Now,
		log:      log.With().Str("component", "orchestrator").Logger(),
		metrics:  getOrCreateEngineMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// cycleDeadline bounds one cycle at twice its candle interval, capped.
func cycleDeadline(iv models.Interval, ceiling time.Duration) time.Duration {
	d := 2 * iv.Duration()
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// RunCycle executes one cycle end to end. It is the scheduler's Runner and
// never returns an error: every failure is contained, recorded and scoped
// to this cycle. A cancelled parent context means process shutdown; the
// cycle is discarded without a record.
func (e *Engine) RunCycle(parent context.Context, trig models.Trigger) {
	if e.isPaused() {
		e.metrics.skippedPaused.Inc()
		e.log.Info().
			Str("pair", trig.Pair.String()).
			Str("cause", string(trig.Cause)).
			Msg("Trading paused, trigger dropped")
		return
	}

	c := newCycle(trig, e.now())
	deadline := cycleDeadline(trig.Interval, e.cycleCap)
	ctx, cancel := context.WithTimeout(parent, deadline)
	defer cancel()

	log := e.log.With().
		Str("cycle_id", c.id.String()).
		Str("pair", trig.Pair.String()).
		Str("interval", string(trig.Interval)).
		Str("cause", string(trig.Cause)).
		Logger()
	log.Info().Time("fire_time", trig.FireTime).Dur("deadline", deadline).Msg("Cycle started")

	e.execute(ctx, c, log)

	if parent.Err() != nil {
		// Shutdown: partial state is discarded, no record is written.
		e.setStage(trig.Pair, StageIdle)
		e.metrics.aborted.Inc()
		log.Warn().Str("stage", string(c.stage)).Msg("Cycle aborted by shutdown")
		return
	}

	e.finish(parent, c, log)
}

// execute runs the pipeline stages up to PUBLISHING, converting panics into
// an Internal cycle error so one bad component cannot take the process
// down.
func (e *Engine) execute(ctx context.Context, c *cycle, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.panics.Inc()
			c.fail(string(c.stage), models.ErrKindInternal, fmt.Sprintf("panic: %v", r))
			log.Error().Interface("panic", r).Str("stage", string(c.stage)).Msg("Cycle recovered from panic")
		}
	}()

	pair := c.trigger.Pair

	e.transition(c, StageFetching)
	snap, err := e.deps.Assembler.Assemble(ctx, pair)
	if err != nil {
		c.fail("fetch", fetchErrorKind(err), err.Error())
		return
	}
	c.snapshot = snap
	// Keep unrealized PnL and drawdown current before the guards copy the
	// portfolio state.
	e.deps.Executor.MarkToMarket(pair.Base, snap.ReferencePrice())

	e.transition(c, StageAnalyzing)
	c.results = e.deps.Pool.Analyze(ctx, snap)
	for _, res := range c.results {
		if cerr := res.CycleError(); cerr != nil {
			c.errors = append(c.errors, *cerr)
		}
	}

	e.transition(c, StageCombining)
	weighted := make([]decision.WeightedOpinion, len(c.results))
	for i, res := range c.results {
		weighted[i] = decision.WeightedOpinion{Opinion: res.Opinion, Weight: res.Weight}
	}
	d, err := e.deps.Combiner.Combine(pair, weighted, e.now())
	if err != nil {
		c.fail("combine", models.ErrKindInternal, err.Error())
		return
	}
	c.decision = d

	e.transition(c, StageGuarding)
	outcome := e.deps.Guards.Evaluate(&guard.Input{
		Decision:         d,
		Portfolio:        e.deps.Executor.State(),
		Snapshot:         snap,
		ProposedNotional: e.deps.MaxNotionalQuote,
	})
	c.outcome = &outcome
	if outcome.Result != models.GuardPass || !d.Actionable() {
		return
	}

	e.transition(c, StageSizing)
	intent, err := e.deps.Sizer.Size(c.id, d, snap, e.now())
	if err != nil {
		c.fail("size", models.ErrKindInternal, err.Error())
		return
	}
	c.intent = intent

	e.transition(c, StagePublishing)
	e.publish(ctx, c, log)
}

// publish hands the intent to the bus and the execution collaborator. Both
// are fire-and-forget from the cycle's point of view: the journal record is
// the source of truth and the intent stands once recorded.
func (e *Engine) publish(ctx context.Context, c *cycle, log zerolog.Logger) {
	if err := e.deps.Publisher.PublishIntent(ctx, c.intent); err != nil {
		log.Warn().Err(err).Msg("Intent publication failed")
	}
	if err := e.deps.Executor.Execute(c.intent); err != nil {
		c.fail("publish", models.ErrKindInternal, fmt.Sprintf("executor: %v", err))
		log.Warn().Err(err).Msg("Executor rejected intent")
	}
	// The cooldown clock starts at publication, not at fill.
	e.deps.Cooldowns.RecordTrade(c.trigger.Pair, e.now())
}

// finish is the LOGGING stage: publish the decision summary, append the
// record, mirror it, notify the tail. A journal write failure parks the
// record inside the writer and surfaces as a counter; the cycle stays
// valid.
func (e *Engine) finish(parent context.Context, c *cycle, log zerolog.Logger) {
	e.transition(c, StageLogging)

	logCtx, cancel := context.WithTimeout(parent, journalTimeout)
	defer cancel()

	if c.decision != nil {
		if err := e.deps.Publisher.PublishDecision(logCtx, c.id, c.decision); err != nil {
			log.Debug().Err(err).Msg("Decision publication failed")
		}
	}

	rec := c.record(e.now())
	if err := e.deps.Journal.Append(logCtx, rec); err != nil {
		log.Error().Err(err).Msg("Journal write failed, record parked for retry")
	}
	if e.deps.Mirror != nil {
		if err := e.deps.Mirror.InsertRecord(logCtx, rec); err != nil {
			log.Warn().Err(err).Msg("Decision mirror insert failed")
		}
	}
	if e.recordHook != nil {
		e.recordHook(*rec)
	}

	label := c.outcomeLabel()
	e.metrics.cycles.WithLabelValues(rec.Pair, label).Inc()
	e.metrics.cycleSeconds.WithLabelValues(rec.Pair).Observe(float64(rec.DurationMs) / 1000)

	e.mu.Lock()
	e.cycles++
	e.mu.Unlock()
	e.transition(c, StageIdle)

	evt := log.Info().Str("outcome", label).Int64("duration_ms", rec.DurationMs)
	if c.decision != nil {
		evt = evt.Str("signal", string(c.decision.Signal)).Int("confidence", c.decision.Confidence)
	}
	if len(c.errors) > 0 {
		evt = evt.Int("errors", len(c.errors))
	}
	evt.Msg("Cycle complete")
}

// fetchErrorKind maps assembler failures onto the journal taxonomy.
func fetchErrorKind(err error) models.ErrorKind {
	if errors.Is(err, snapshot.ErrDataUnavailable) {
		return models.ErrKindDataUnavailable
	}
	return models.ErrKindInternal
}

func (e *Engine) transition(c *cycle, s Stage) {
	c.stage = s
	e.setStage(c.trigger.Pair, s)
}

func (e *Engine) setStage(pair models.Pair, s Stage) {
	e.mu.Lock()
	if e.stages == nil {
		e.stages = make(map[string]Stage)
	}
	e.stages[pair.String()] = s
	e.mu.Unlock()
	e.metrics.stage.WithLabelValues(pair.String()).Set(s.ordinal())
}

// Pause stops new cycles from starting. In-flight cycles finish normally.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.log.Warn().Msg("Trading paused")
	}
}

// Resume re-enables cycle execution.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.log.Info().Msg("Trading resumed")
	}
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// PairStage is one pair's pipeline position for the status API.
type PairStage struct {
	Pair  string `json:"pair"`
	Stage Stage  `json:"stage"`
}

// Status is the engine view served by the control API.
type Status struct {
	Paused      bool        `json:"paused"`
	CyclesTotal uint64      `json:"cycles_total"`
	Analysts    int         `json:"analysts"`
	Pairs       []PairStage `json:"pairs"`
}

// Status reports the engine state, pairs ordered by name.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Paused:      e.paused,
		CyclesTotal: e.cycles,
		Analysts:    e.deps.Pool.Size(),
		Pairs:       make([]PairStage, 0, len(e.stages)),
	}
	for pair, stage := range e.stages {
		st.Pairs = append(st.Pairs, PairStage{Pair: pair, Stage: stage})
	}
	sort.Slice(st.Pairs, func(i, j int) bool { return st.Pairs[i].Pair < st.Pairs[j].Pair })
	return st
}
