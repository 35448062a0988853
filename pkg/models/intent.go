package models

import (
	"time"

	"github.com/google/uuid"
)

// SizingInputs records every input and intermediate factor of the position
// sizing formula so each intent is auditable from its journal record alone.
type SizingInputs struct {
	BaseNotional     float64 `json:"base_notional_quote"`
	Confidence       int     `json:"confidence"`
	ConfidenceFactor float64 `json:"confidence_factor"`
	VolPct           float64 `json:"vol_pct"`
	VolFactor        float64 `json:"vol_factor"`
	PositionQuote    float64 `json:"position_quote"`
	ReferencePrice   float64 `json:"reference_price"`
}

// TradeIntent is the core's terminal output for an actionable cycle. The core
// never places orders; an execution collaborator consumes intents.
type TradeIntent struct {
	Pair             Pair         `json:"pair"`
	Side             Signal       `json:"side"`
	QuantityBase     float64      `json:"quantity_base"`
	LimitPrice       *float64     `json:"limit_price,omitempty"`
	SourceDecisionID uuid.UUID    `json:"source_decision_id"`
	Timestamp        time.Time    `json:"timestamp"`
	SizingInputs     SizingInputs `json:"sizing_inputs"`
}
