package models

import (
	"time"

	"github.com/google/uuid"
)

// JournalSchemaVersion is the "v" field written on every record.
const JournalSchemaVersion = 1

// GuardResult is the outcome class of a guard-chain evaluation.
type GuardResult string

const (
	GuardPass      GuardResult = "PASS"
	GuardVeto      GuardResult = "VETO"
	GuardDowngrade GuardResult = "DOWNGRADE"
)

// GuardOutcome records which guard, if any, stopped or downgraded a decision.
// By is null for PASS.
type GuardOutcome struct {
	Result GuardResult `json:"result"`
	By     *string     `json:"by"`
	Reason string      `json:"reason,omitempty"`
}

// PassOutcome is the outcome for a chain no guard objected to.
func PassOutcome() GuardOutcome {
	return GuardOutcome{Result: GuardPass, By: nil}
}

// TriggerInfo is the journal view of the trigger that started the cycle.
type TriggerInfo struct {
	Cause    TriggerCause `json:"cause"`
	FireTime time.Time    `json:"fire_time"`
}

// SnapshotInfo is the journal view of the assembled snapshot.
type SnapshotInfo struct {
	TSnap   time.Time       `json:"t_snap"`
	Quality SnapshotQuality `json:"quality"`
}

// OpinionRecord is the journal view of one analyst slot, including the
// effective weight and signed weighted score the combiner assigned it.
type OpinionRecord struct {
	AnalystID     string      `json:"analyst_id"`
	Signal        Signal      `json:"signal"`
	Confidence    int         `json:"confidence"`
	DataQuality   DataQuality `json:"data_quality"`
	Weight        float64     `json:"weight"`
	WeightedScore float64     `json:"weighted_score"`
}

// DecisionRecord is the journal view of the combined decision.
type DecisionRecord struct {
	Signal     Signal  `json:"signal"`
	Confidence int     `json:"confidence"`
	Score      float64 `json:"score"`
}

// IntentRecord is the journal view of an emitted trade intent.
type IntentRecord struct {
	Side         Signal       `json:"side"`
	QuantityBase float64      `json:"quantity_base"`
	SizingInputs SizingInputs `json:"sizing_inputs"`
}

// JournalRecord is the append-only record of one cycle, serialized as one
// JSON object per line. The field set and shapes are stable; V guards them.
type JournalRecord struct {
	V            int             `json:"v"`
	CycleID      uuid.UUID       `json:"cycle_id"`
	Pair         string          `json:"pair"`
	Interval     Interval        `json:"interval"`
	Trigger      TriggerInfo     `json:"trigger"`
	Snapshot     *SnapshotInfo   `json:"snapshot"`
	Opinions     []OpinionRecord `json:"opinions"`
	Decision     *DecisionRecord `json:"decision"`
	GuardOutcome *GuardOutcome   `json:"guard_outcome"`
	Intent       *IntentRecord   `json:"intent"`
	Errors       []CycleError    `json:"errors"`
	DurationMs   int64           `json:"duration_ms"`
}
