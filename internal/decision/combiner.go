// Package decision implements the weighted-vote combiner that folds the
// analyst opinions of one cycle into a single directional decision.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// Config holds the combiner thresholds.
type Config struct {
	ThetaBuy        float64
	ThetaSell       float64
	FallbackPenalty float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{ThetaBuy: 0.15, ThetaSell: 0.15, FallbackPenalty: 0.5}
}

// WeightedOpinion pairs an opinion with its configured analyst weight.
type WeightedOpinion struct {
	Opinion models.AnalystOpinion
	Weight  float64
}

// Combiner folds weighted opinions into a CombinedDecision. It is stateless
// and deterministic: identical inputs always produce the identical decision.
type Combiner struct {
	cfg Config
	log zerolog.Logger
}

// NewCombiner validates thresholds and builds a combiner.
func NewCombiner(cfg Config, log zerolog.Logger) (*Combiner, error) {
	if cfg.ThetaBuy <= 0 || cfg.ThetaBuy > 1 {
		return nil, fmt.Errorf("theta_buy %.4f outside (0,1]", cfg.ThetaBuy)
	}
	if cfg.ThetaSell <= 0 || cfg.ThetaSell > 1 {
		return nil, fmt.Errorf("theta_sell %.4f outside (0,1]", cfg.ThetaSell)
	}
	if cfg.FallbackPenalty < 0 || cfg.FallbackPenalty > 1 {
		return nil, fmt.Errorf("fallback_penalty %.4f outside [0,1]", cfg.FallbackPenalty)
	}
	return &Combiner{
		cfg: cfg,
		log: log.With().Str("component", "combiner").Logger(),
	}, nil
}

// Combine runs the weighted vote. Opinions arrive in configured analyst
// order; weights must sum to 1 before any penalty.
func (c *Combiner) Combine(pair models.Pair, opinions []WeightedOpinion, at time.Time) (*models.CombinedDecision, error) {
	if len(opinions) == 0 {
		return nil, fmt.Errorf("no opinions to combine")
	}
	for _, wo := range opinions {
		if err := wo.Opinion.Validate(); err != nil {
			return nil, fmt.Errorf("opinion from %s: %w", wo.Opinion.AnalystID, err)
		}
		if wo.Weight < 0 {
			return nil, fmt.Errorf("negative weight %.4f for %s", wo.Weight, wo.Opinion.AnalystID)
		}
	}

	// Degraded opinions lose weight, then the remainder renormalizes so the
	// effective weights still sum to 1.
	effective := make([]float64, len(opinions))
	var total float64
	for i, wo := range opinions {
		w := wo.Weight
		if wo.Opinion.DataQuality.Degraded() {
			w *= c.cfg.FallbackPenalty
		}
		effective[i] = w
		total += w
	}

	decision := &models.CombinedDecision{
		Pair:          pair,
		Timestamp:     at,
		Contributions: make(map[string]models.Contribution, len(opinions)),
	}

	if total <= 0 {
		// Every vote was extinguished (all degraded under a zero penalty).
		for _, wo := range opinions {
			decision.Contributions[wo.Opinion.AnalystID] = models.Contribution{
				Signal:     wo.Opinion.Signal,
				Confidence: wo.Opinion.Confidence,
			}
		}
		decision.Signal = models.SignalHold
		decision.MoodTag = models.MoodNeutral
		return decision, nil
	}

	var score float64
	for i, wo := range opinions {
		w := effective[i] / total
		s := wo.Opinion.Signal.Direction() * float64(wo.Opinion.Confidence) / 100
		weighted := w * s
		score += weighted

		decision.Contributions[wo.Opinion.AnalystID] = models.Contribution{
			Signal:        wo.Opinion.Signal,
			Confidence:    wo.Opinion.Confidence,
			Weight:        w,
			WeightedScore: weighted,
		}
		effective[i] = w
	}

	signal := models.SignalHold
	switch {
	case score >= c.cfg.ThetaBuy:
		signal = models.SignalBuy
	case score <= -c.cfg.ThetaSell:
		signal = models.SignalSell
	}

	confidence := int(math.Round(100 * math.Abs(score)))
	if limit, ok := agreeingCap(opinions, effective, signal); ok && confidence > limit {
		confidence = limit
	}

	decision.Signal = signal
	decision.Confidence = confidence
	decision.Score = score
	decision.MoodTag = models.MoodFromScore(score)

	c.log.Debug().
		Str("pair", pair.String()).
		Float64("score", score).
		Str("signal", string(signal)).
		Int("confidence", confidence).
		Str("mood", string(decision.MoodTag)).
		Msg("Opinions combined")
	return decision, nil
}

// agreeingCap finds the confidence of the top-effective-weight analyst whose
// signal matches the combined direction. Ties keep the earliest analyst in
// configured order.
func agreeingCap(opinions []WeightedOpinion, effective []float64, signal models.Signal) (int, bool) {
	best := -1
	bestWeight := -1.0
	for i, wo := range opinions {
		if wo.Opinion.Signal != signal {
			continue
		}
		if effective[i] > bestWeight {
			best = i
			bestWeight = effective[i]
		}
	}
	if best < 0 {
		return 0, false
	}
	return opinions[best].Opinion.Confidence, true
}
