package models

import (
	"fmt"
	"time"
)

// Signal is a directional trading signal.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Valid reports whether the signal is one of BUY, SELL, HOLD.
func (s Signal) Valid() bool {
	return s == SignalBuy || s == SignalSell || s == SignalHold
}

// Direction maps BUY to +1, SELL to -1 and HOLD to 0.
func (s Signal) Direction() float64 {
	switch s {
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	default:
		return 0
	}
}

// DataQuality describes how complete the inputs behind an opinion were.
type DataQuality string

const (
	QualityFull     DataQuality = "FULL"
	QualityPartial  DataQuality = "PARTIAL"
	QualityFallback DataQuality = "FALLBACK"
)

// Degraded reports whether the opinion should be downweighted by the combiner.
func (q DataQuality) Degraded() bool {
	return q == QualityPartial || q == QualityFallback
}

// AnalystOpinion is one analyst's read of a snapshot. Opinions are created by
// the analyst pool and read-only afterwards.
type AnalystOpinion struct {
	AnalystID   string      `json:"analyst_id"`
	Signal      Signal      `json:"signal"`
	Confidence  int         `json:"confidence"`
	Reasoning   string      `json:"reasoning"`
	ProducedAt  time.Time   `json:"produced_at"`
	DataQuality DataQuality `json:"data_quality"`
}

// Validate checks the opinion schema: known signal, confidence in [0,100].
func (o AnalystOpinion) Validate() error {
	if o.AnalystID == "" {
		return fmt.Errorf("opinion requires an analyst_id")
	}
	if !o.Signal.Valid() {
		return fmt.Errorf("opinion signal %q is not one of BUY/SELL/HOLD", o.Signal)
	}
	if o.Confidence < 0 || o.Confidence > 100 {
		return fmt.Errorf("opinion confidence %d outside [0,100]", o.Confidence)
	}
	return nil
}

// FallbackOpinion is the degraded opinion substituted for a failed, timed-out
// or schema-violating analyst slot.
func FallbackOpinion(analystID string, at time.Time) AnalystOpinion {
	return AnalystOpinion{
		AnalystID:   analystID,
		Signal:      SignalHold,
		Confidence:  0,
		Reasoning:   "analyst unavailable",
		ProducedAt:  at,
		DataQuality: QualityFallback,
	}
}
