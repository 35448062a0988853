package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"quorum-trader/internal/analyst"
	"quorum-trader/pkg/models"
)

// Stage names one step of the cycle state machine. Every cycle walks
// IDLE -> FETCHING -> ANALYZING -> COMBINING -> GUARDING -> SIZING ->
// PUBLISHING -> LOGGING -> IDLE; a failed step jumps straight to LOGGING.
type Stage string

const (
	StageIdle       Stage = "IDLE"
	StageFetching   Stage = "FETCHING"
	StageAnalyzing  Stage = "ANALYZING"
	StageCombining  Stage = "COMBINING"
	StageGuarding   Stage = "GUARDING"
	StageSizing     Stage = "SIZING"
	StagePublishing Stage = "PUBLISHING"
	StageLogging    Stage = "LOGGING"
)

// ordinal renders the stage for the pipeline gauge.
func (s Stage) ordinal() float64 {
	switch s {
	case StageFetching:
		return 1
	case StageAnalyzing:
		return 2
	case StageCombining:
		return 3
	case StageGuarding:
		return 4
	case StageSizing:
		return 5
	case StagePublishing:
		return 6
	case StageLogging:
		return 7
	default:
		return 0
	}
}

// cycle accumulates one trigger's state on its way to a journal record. The
// engine owns it exclusively; every field is written by exactly one stage
// and read-only afterwards.
type cycle struct {
	id      uuid.UUID
	trigger models.Trigger
	started time.Time
	stage   Stage

	snapshot *models.MarketSnapshot
	results  []analyst.Result
	decision *models.CombinedDecision
	outcome  *models.GuardOutcome
	intent   *models.TradeIntent
	errors   []models.CycleError
}

func newCycle(trig models.Trigger, started time.Time) *cycle {
	return &cycle{
		id:      uuid.New(),
		trigger: trig,
		started: started,
		stage:   StageIdle,
	}
}

// fail records a contained error against the stage that observed it.
func (c *cycle) fail(stage string, kind models.ErrorKind, detail string) {
	c.errors = append(c.errors, models.CycleError{Stage: stage, Kind: kind, Detail: detail})
}

// outcomeLabel classifies the finished cycle for metrics and the final log
// line.
func (c *cycle) outcomeLabel() string {
	switch {
	case c.intent != nil:
		return "intent"
	case c.outcome != nil && c.outcome.Result == models.GuardVeto:
		return "veto"
	case c.outcome != nil && c.outcome.Result == models.GuardDowngrade:
		return "downgrade"
	case c.decision != nil:
		return "hold"
	default:
		return "error"
	}
}

// record freezes the cycle into its journal form. Opinions and errors are
// always arrays, never null, so every record round-trips byte-identically.
func (c *cycle) record(finished time.Time) *models.JournalRecord {
	rec := &models.JournalRecord{
		V:          models.JournalSchemaVersion,
		CycleID:    c.id,
		Pair:       c.trigger.Pair.String(),
		Interval:   c.trigger.Interval,
		Trigger:    models.TriggerInfo{Cause: c.trigger.Cause, FireTime: c.trigger.FireTime},
		Opinions:   c.opinionRecords(),
		Errors:     c.errors,
		DurationMs: finished.Sub(c.started).Milliseconds(),
	}
	if rec.Errors == nil {
		rec.Errors = []models.CycleError{}
	}
	if c.snapshot != nil {
		rec.Snapshot = &models.SnapshotInfo{TSnap: c.snapshot.TSnap, Quality: c.snapshot.Quality}
	}
	if c.decision != nil {
		rec.Decision = &models.DecisionRecord{
			Signal:     c.decision.Signal,
			Confidence: c.decision.Confidence,
			Score:      c.decision.Score,
		}
	}
	rec.GuardOutcome = c.outcome
	if c.intent != nil {
		rec.Intent = &models.IntentRecord{
			Side:         c.intent.Side,
			QuantityBase: c.intent.QuantityBase,
			SizingInputs: c.intent.SizingInputs,
		}
	}
	return rec
}

// opinionRecords keeps the configured slot order. Once the combiner has
// run, each opinion carries the effective weight and signed score it
// contributed; before that, the raw configured weight stands in.
func (c *cycle) opinionRecords() []models.OpinionRecord {
	out := make([]models.OpinionRecord, 0, len(c.results))
	for _, res := range c.results {
		op := res.Opinion
		rec := models.OpinionRecord{
			AnalystID:   op.AnalystID,
			Signal:      op.Signal,
			Confidence:  op.Confidence,
			DataQuality: op.DataQuality,
			Weight:      res.Weight,
		}
		if c.decision != nil {
			if contrib, ok := c.decision.Contributions[op.AnalystID]; ok {
				rec.Weight = contrib.Weight
				rec.WeightedScore = contrib.WeightedScore
			}
		}
		out = append(out, rec)
	}
	return out
}
