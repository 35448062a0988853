package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/internal/analyst"
	"quorum-trader/internal/bus"
	"quorum-trader/internal/config"
	"quorum-trader/internal/decision"
	"quorum-trader/internal/guard"
	"quorum-trader/internal/journal"
	"quorum-trader/internal/llm"
	"quorum-trader/internal/portfolio"
	"quorum-trader/internal/providers"
	"quorum-trader/internal/sizing"
	"quorum-trader/internal/snapshot"
	"quorum-trader/pkg/models"
)

// End-to-end cycle scenarios with literal inputs and expected outputs, run
// through the real pool, combiner, guard chain, sizer and journal. Only the
// snapshot and the portfolio view are staged.

func lastRecord(t *testing.T, f *engineFixture) models.JournalRecord {
	t.Helper()
	records := f.journal.Records()
	require.NotEmpty(t, records)
	return records[len(records)-1]
}

func TestScenarioHappyPathEmitsIntent(t *testing.T) {
	f := newEngineFixture(t, withSlots([]analyst.Slot{
		{Analyst: &stubAnalyst{id: "a", signal: models.SignalBuy, conf: 80}, Weight: 0.5, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "b", signal: models.SignalBuy, conf: 60}, Weight: 0.3, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "c", signal: models.SignalHold, conf: 0}, Weight: 0.2, Timeout: time.Second},
	}))

	f.engine.RunCycle(context.Background(), engineTrigger(enginePair(t)))

	rec := lastRecord(t, f)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalBuy, rec.Decision.Signal)
	assert.InDelta(t, 0.58, rec.Decision.Score, 1e-9)
	assert.Equal(t, 58, rec.Decision.Confidence, "confidence is min(58, top agreeing analyst's 80)")

	require.NotNil(t, rec.GuardOutcome)
	assert.Equal(t, models.GuardPass, rec.GuardOutcome.Result)

	// base 1000 * conf_factor 0.696 / vol_factor 1.0 at 2% vol.
	require.NotNil(t, rec.Intent)
	assert.InDelta(t, 0.696, rec.Intent.SizingInputs.ConfidenceFactor, 1e-9)
	assert.InDelta(t, 1.0, rec.Intent.SizingInputs.VolFactor, 1e-9)
	assert.InDelta(t, 696.00, rec.Intent.SizingInputs.PositionQuote, 1e-9)
	assert.InDelta(t, 0.01338461, rec.Intent.QuantityBase, 1e-9, "696 quote at 52000, floored to 8dp")

	assert.Equal(t, 1, f.executor.executedCount())
}

func TestScenarioConflictHolds(t *testing.T) {
	f := newEngineFixture(t, withSlots([]analyst.Slot{
		{Analyst: &stubAnalyst{id: "bull", signal: models.SignalBuy, conf: 70}, Weight: 0.5, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "bear", signal: models.SignalSell, conf: 70}, Weight: 0.5, Timeout: time.Second},
	}))
	pair := enginePair(t)

	f.engine.RunCycle(context.Background(), engineTrigger(pair))

	rec := lastRecord(t, f)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalHold, rec.Decision.Signal)
	assert.Equal(t, 0, rec.Decision.Confidence)
	assert.InDelta(t, 0.0, rec.Decision.Score, 1e-9)

	// HOLD passes the guards vacuously and never reaches the sizer.
	require.NotNil(t, rec.GuardOutcome)
	assert.Equal(t, models.GuardPass, rec.GuardOutcome.Result)
	assert.Nil(t, rec.GuardOutcome.By)
	assert.Nil(t, rec.Intent)

	assert.Equal(t, 0, f.executor.executedCount())
	_, traded := f.cooldowns.LastTrade(pair)
	assert.False(t, traded, "a HOLD must not start the cooldown clock")
}

func TestScenarioFallbackPenaltyRenormalizes(t *testing.T) {
	f := newEngineFixture(t, withSlots([]analyst.Slot{
		{Analyst: &stubAnalyst{id: "fb", signal: models.SignalBuy, conf: 90, quality: models.QualityFallback}, Weight: 0.5, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "ok", signal: models.SignalHold, conf: 0}, Weight: 0.5, Timeout: time.Second},
	}))

	f.engine.RunCycle(context.Background(), engineTrigger(enginePair(t)))

	rec := lastRecord(t, f)
	require.Len(t, rec.Opinions, 2)
	assert.InDelta(t, 1.0/3, rec.Opinions[0].Weight, 1e-9)
	assert.InDelta(t, 2.0/3, rec.Opinions[1].Weight, 1e-9)
	assert.InDelta(t, 0.30, rec.Opinions[0].WeightedScore, 1e-9)

	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalBuy, rec.Decision.Signal)
	assert.InDelta(t, 0.30, rec.Decision.Score, 1e-9)
	assert.Equal(t, 30, rec.Decision.Confidence)
	require.NotNil(t, rec.Intent)
}

func TestScenarioCooldownVeto(t *testing.T) {
	guards := openGuardsConfig()
	guards.CooldownSec = 60
	f := newEngineFixture(t, withGuards(guards))
	pair := enginePair(t)

	// First cycle trades and stamps the cooldown table.
	f.engine.RunCycle(context.Background(), engineTrigger(pair))
	first := lastRecord(t, f)
	require.NotNil(t, first.Intent)

	// A second trigger inside the window is vetoed, no intent.
	f.engine.RunCycle(context.Background(), engineTrigger(pair))

	records := f.journal.Records()
	require.Len(t, records, 2)
	rec := records[1]

	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalBuy, rec.Decision.Signal, "the decision itself is unaffected")
	require.NotNil(t, rec.GuardOutcome)
	assert.Equal(t, models.GuardVeto, rec.GuardOutcome.Result)
	require.NotNil(t, rec.GuardOutcome.By)
	assert.Equal(t, "cooldown", *rec.GuardOutcome.By)
	assert.Nil(t, rec.Intent)

	assert.Equal(t, 1, f.executor.executedCount(), "only the first cycle may fill")
}

func TestScenarioDrawdownDowngrade(t *testing.T) {
	guards := openGuardsConfig()
	guards.DrawdownPausePct = 10
	f := newEngineFixture(t,
		withSlots([]analyst.Slot{
			{Analyst: &stubAnalyst{id: "solo", signal: models.SignalBuy, conf: 75}, Weight: 1.0, Timeout: time.Second},
		}),
		withGuards(guards),
	)
	f.executor.state.DrawdownFromPeak = 0.12

	f.engine.RunCycle(context.Background(), engineTrigger(enginePair(t)))

	rec := lastRecord(t, f)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalBuy, rec.Decision.Signal)
	assert.Equal(t, 75, rec.Decision.Confidence)

	require.NotNil(t, rec.GuardOutcome)
	assert.Equal(t, models.GuardDowngrade, rec.GuardOutcome.Result)
	require.NotNil(t, rec.GuardOutcome.By)
	assert.Equal(t, "drawdown", *rec.GuardOutcome.By)
	assert.Nil(t, rec.Intent)
	assert.Equal(t, 0, f.executor.executedCount())
}

func TestScenarioAllFallbackHoldsWithoutIntent(t *testing.T) {
	f := newEngineFixture(t, withSlots([]analyst.Slot{
		{Analyst: &stubAnalyst{id: "a", err: fmt.Errorf("down")}, Weight: 0.5, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "b", err: fmt.Errorf("down")}, Weight: 0.3, Timeout: time.Second},
		{Analyst: &stubAnalyst{id: "c", err: fmt.Errorf("down")}, Weight: 0.2, Timeout: time.Second},
	}))

	f.engine.RunCycle(context.Background(), engineTrigger(enginePair(t)))

	rec := lastRecord(t, f)
	require.Len(t, rec.Opinions, 3)
	for _, op := range rec.Opinions {
		assert.Equal(t, models.QualityFallback, op.DataQuality)
		assert.Equal(t, models.SignalHold, op.Signal)
	}
	require.Len(t, rec.Errors, 3)

	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalHold, rec.Decision.Signal)
	assert.Equal(t, 0, rec.Decision.Confidence)
	assert.Nil(t, rec.Intent)
}

func TestScenarioSingleAnalystFullWeight(t *testing.T) {
	f := newEngineFixture(t, withSlots([]analyst.Slot{
		{Analyst: &stubAnalyst{id: "solo", signal: models.SignalBuy, conf: 80}, Weight: 1.0, Timeout: time.Second},
	}))

	f.engine.RunCycle(context.Background(), engineTrigger(enginePair(t)))

	rec := lastRecord(t, f)
	require.NotNil(t, rec.Decision)
	assert.Equal(t, models.SignalBuy, rec.Decision.Signal)
	assert.Equal(t, 80, rec.Decision.Confidence)
	assert.InDelta(t, 0.80, rec.Decision.Score, 1e-9)
	require.Len(t, rec.Opinions, 1)
	assert.InDelta(t, 1.0, rec.Opinions[0].Weight, 1e-9)
	require.NotNil(t, rec.Intent)
}

// TestScenarioSimProviderEndToEnd runs a full cycle against the simulated
// provider through the real registry, assembler, static-source analysts and
// paper portfolio. No numbers are pinned; the point is that the whole wiring
// produces one schema-complete record.
func TestScenarioSimProviderEndToEnd(t *testing.T) {
	log := zerolog.Nop()
	pair, err := models.NewPair("BTC", "USDT", models.Interval5m)
	require.NoError(t, err)

	registry := providers.NewRegistry(
		[]providers.Provider{providers.NewSimProvider("sim")},
		map[string]string{"sim": "primary"},
		nil,
		log,
	)
	assembler := snapshot.NewAssembler(registry, nil, log)

	var slots []analyst.Slot
	for _, spec := range []struct {
		id, role string
		weight   float64
	}{
		{"tech-1", "technical", 0.4},
		{"sent-1", "sentiment", 0.3},
		{"liq-1", "liquidity", 0.3},
	} {
		a, err := analyst.New(config.AnalystConfig{ID: spec.id, Role: spec.role}, llm.StaticSource{}, log)
		require.NoError(t, err)
		slots = append(slots, analyst.Slot{Analyst: a, Weight: spec.weight, Timeout: 2 * time.Second})
	}
	pool, err := analyst.NewPool(slots, log)
	require.NoError(t, err)

	combiner, err := decision.NewCombiner(decision.DefaultConfig(), log)
	require.NoError(t, err)
	sizer, err := sizing.NewSizer(testSizingConfig(), log)
	require.NoError(t, err)
	paper, err := portfolio.NewPaper(10000, log)
	require.NoError(t, err)

	cooldowns := guard.NewCooldownTable()
	mem := journal.NewMemory()
	engine, err := NewEngine(Deps{
		Assembler: assembler,
		Pool:      pool,
		Combiner:  combiner,
		Guards: guard.FromConfig(config.GuardsConfig{
			ExposureCapQuote: 1e9,
			PerAssetCapPct:   100,
			DrawdownPausePct: 100,
			VolUpperPct:      1000,
		}, cooldowns, log),
		Sizer:            sizer,
		Journal:          mem,
		Publisher:        bus.NewNop(),
		Executor:         paper,
		Cooldowns:        cooldowns,
		MaxNotionalQuote: 2500,
	}, log)
	require.NoError(t, err)

	engine.RunCycle(context.Background(), models.Trigger{
		Pair:     pair,
		Interval: pair.Interval,
		FireTime: time.Now().UTC(),
		Cause:    models.CauseManual,
		Reason:   "wiring check",
	})

	records := mem.Records()
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, models.JournalSchemaVersion, rec.V)
	assert.Equal(t, "BTC/USDT", rec.Pair)
	assert.Equal(t, models.CauseManual, rec.Trigger.Cause)
	require.NotNil(t, rec.Snapshot, "the sim provider must satisfy every staleness budget")
	assert.Equal(t, models.SnapshotFull, rec.Snapshot.Quality)

	require.Len(t, rec.Opinions, 3)
	var weightSum float64
	for _, op := range rec.Opinions {
		weightSum += op.Weight
		assert.NotEqual(t, models.QualityFallback, op.DataQuality)
	}
	assert.InDelta(t, 1.0, weightSum, 1e-9)

	require.NotNil(t, rec.Decision)
	require.NotNil(t, rec.GuardOutcome)
	for _, cerr := range rec.Errors {
		assert.NotEqual(t, models.ErrKindDataUnavailable, cerr.Kind)
		assert.NotEqual(t, "analyze", cerr.Stage)
	}
	assert.GreaterOrEqual(t, rec.DurationMs, int64(0))
}
