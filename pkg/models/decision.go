package models

import "time"

// MoodTag is a coarse market-mood label derived from the combined score.
type MoodTag string

const (
	MoodEuphoric     MoodTag = "EUPHORIC"
	MoodBullish      MoodTag = "BULLISH"
	MoodNeutral      MoodTag = "NEUTRAL"
	MoodBearish      MoodTag = "BEARISH"
	MoodCapitulating MoodTag = "CAPITULATING"
)

// MoodFromScore maps a combined score in [-1,1] to a mood tag.
func MoodFromScore(score float64) MoodTag {
	switch {
	case score >= 0.5:
		return MoodEuphoric
	case score >= 0.15:
		return MoodBullish
	case score <= -0.5:
		return MoodCapitulating
	case score <= -0.15:
		return MoodBearish
	default:
		return MoodNeutral
	}
}

// Contribution records how one analyst's opinion entered the combined score.
// Weight is the effective weight after any fallback penalty and
// renormalization.
type Contribution struct {
	Signal        Signal  `json:"signal"`
	Confidence    int     `json:"confidence"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weighted_score"`
}

// CombinedDecision is the aggregated directional intent for one cycle.
// Invariant: the contribution weights sum to 1 within 1e-9.
type CombinedDecision struct {
	Pair          Pair                    `json:"pair"`
	Timestamp     time.Time               `json:"timestamp"`
	Signal        Signal                  `json:"signal"`
	Confidence    int                     `json:"confidence"`
	Score         float64                 `json:"score"`
	Contributions map[string]Contribution `json:"contributions"`
	MoodTag       MoodTag                 `json:"mood_tag"`
}

// Actionable reports whether the decision proposes a trade at all.
func (d *CombinedDecision) Actionable() bool {
	return d.Signal == SignalBuy || d.Signal == SignalSell
}
