// Package guard implements the ordered risk-guard chain that sits between
// the combined decision and the position sizer. Guards are pure checks over
// one cycle's decision, portfolio view and snapshot; the first non-PASS
// outcome stops the chain.
package guard

import (
	"quorum-trader/pkg/models"
)

// Input is the read-only bundle every guard inspects. ProposedNotional is
// the conservative worst-case quote notional of the intent, taken before
// sizing (the sizer can only shrink it).
type Input struct {
	Decision         *models.CombinedDecision
	Portfolio        models.PortfolioState
	Snapshot         *models.MarketSnapshot
	ProposedNotional float64
}

// Guard is one risk check in the chain.
type Guard interface {
	ID() string
	Check(in *Input) models.GuardOutcome
}

func veto(by, reason string) models.GuardOutcome {
	return models.GuardOutcome{Result: models.GuardVeto, By: &by, Reason: reason}
}

func downgrade(by, reason string) models.GuardOutcome {
	return models.GuardOutcome{Result: models.GuardDowngrade, By: &by, Reason: reason}
}
