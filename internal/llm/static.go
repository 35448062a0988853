package llm

import (
	"context"
	"fmt"
	"math"

	"quorum-trader/pkg/models"
)

// Funding rates are fractions per funding interval; 0.0005 is 0.05%.
const (
	fundingHotRate    = 0.001
	fundingWarmRate   = 0.0005
	basisStretchedPct = 0.5
	spreadTooWidePct  = 0.5
	imbalanceEdge     = 0.2
)

// StaticSource derives opinions from the snapshot features with fixed rules,
// no network. It backs dev deployments and tests, and doubles as the
// reference for what each role is supposed to look at.
type StaticSource struct{}

func (StaticSource) Name() string { return "static" }

// GenerateOpinion applies the role's rule to the snapshot features.
func (StaticSource) GenerateOpinion(ctx context.Context, req OpinionRequest) (*OpinionDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Snapshot == nil || req.Snapshot.Features == nil {
		return nil, fmt.Errorf("static source requires snapshot features")
	}

	switch req.Role {
	case "technical":
		return technicalRule(req.Snapshot), nil
	case "sentiment":
		return sentimentRule(req.Snapshot), nil
	case "liquidity":
		return liquidityRule(req.Snapshot), nil
	case "funding":
		return fundingRule(req.Snapshot), nil
	case "open-interest":
		return openInterestRule(req.Snapshot), nil
	default:
		return technicalRule(req.Snapshot), nil
	}
}

func technicalRule(snap *models.MarketSnapshot) *OpinionDraft {
	f := snap.Features

	if f.RSI14 < 30 {
		conf := intMin(90, 60+int(math.Round(30-f.RSI14)))
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: conf,
			Reasoning: fmt.Sprintf("RSI %.1f oversold", f.RSI14)}
	}
	if f.RSI14 > 70 {
		conf := intMin(90, 60+int(math.Round(f.RSI14-70)))
		return &OpinionDraft{Signal: models.SignalSell, Confidence: conf,
			Reasoning: fmt.Sprintf("RSI %.1f overbought", f.RSI14)}
	}
	if f.MACD > f.MACDSignal && f.EMA12 > f.EMA26 {
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 55,
			Reasoning: "MACD above signal with fast EMA above slow"}
	}
	if f.MACD < f.MACDSignal && f.EMA12 < f.EMA26 {
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 55,
			Reasoning: "MACD below signal with fast EMA below slow"}
	}
	return &OpinionDraft{Signal: models.SignalHold, Confidence: 20,
		Reasoning: "momentum and trend disagree"}
}

func sentimentRule(snap *models.MarketSnapshot) *OpinionDraft {
	f := snap.Features
	last := snap.LastClose()

	switch {
	case last > f.BollingerUpper:
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 65,
			Reasoning: fmt.Sprintf("close %.2f stretched above upper band %.2f", last, f.BollingerUpper)}
	case last < f.BollingerLower:
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 65,
			Reasoning: fmt.Sprintf("close %.2f washed out below lower band %.2f", last, f.BollingerLower)}
	case last > f.SMA20:
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 45,
			Reasoning: "price holding above the 20-period mean"}
	case last < f.SMA20:
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 45,
			Reasoning: "price slipping below the 20-period mean"}
	default:
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 10,
			Reasoning: "price pinned to the mean"}
	}
}

func liquidityRule(snap *models.MarketSnapshot) *OpinionDraft {
	f := snap.Features

	if f.SpreadPct > spreadTooWidePct {
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 0,
			Reasoning: fmt.Sprintf("spread %.3f%% too wide to trade", f.SpreadPct)}
	}
	if f.DepthImbalance > imbalanceEdge {
		conf := intMin(80, 40+int(math.Round(f.DepthImbalance*100)))
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: conf,
			Reasoning: fmt.Sprintf("bid-heavy book, imbalance %.2f", f.DepthImbalance)}
	}
	if f.DepthImbalance < -imbalanceEdge {
		conf := intMin(80, 40+int(math.Round(-f.DepthImbalance*100)))
		return &OpinionDraft{Signal: models.SignalSell, Confidence: conf,
			Reasoning: fmt.Sprintf("ask-heavy book, imbalance %.2f", f.DepthImbalance)}
	}
	return &OpinionDraft{Signal: models.SignalHold, Confidence: 15,
		Reasoning: "book roughly balanced"}
}

func fundingRule(snap *models.MarketSnapshot) *OpinionDraft {
	d := snap.Derivatives
	if d == nil {
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 0,
			Reasoning: "no derivatives data"}
	}

	switch {
	case d.FundingRate >= fundingHotRate:
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 75,
			Reasoning: fmt.Sprintf("funding %.4f%% pays shorts, longs crowded", d.FundingRate*100)}
	case d.FundingRate >= fundingWarmRate:
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 55,
			Reasoning: fmt.Sprintf("funding %.4f%% leaning long", d.FundingRate*100)}
	case d.FundingRate <= -fundingHotRate:
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 75,
			Reasoning: fmt.Sprintf("funding %.4f%% pays longs, shorts crowded", d.FundingRate*100)}
	case d.FundingRate <= -fundingWarmRate:
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 55,
			Reasoning: fmt.Sprintf("funding %.4f%% leaning short", d.FundingRate*100)}
	default:
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 20,
			Reasoning: "funding near neutral"}
	}
}

func openInterestRule(snap *models.MarketSnapshot) *OpinionDraft {
	d := snap.Derivatives
	if d == nil {
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 0,
			Reasoning: "no derivatives data"}
	}

	ref := snap.ReferencePrice()
	if ref <= 0 {
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 0,
			Reasoning: "no reference price for basis"}
	}
	basisPct := d.Basis / ref * 100

	switch {
	case basisPct > basisStretchedPct && d.FundingRate > 0:
		return &OpinionDraft{Signal: models.SignalSell, Confidence: 50,
			Reasoning: fmt.Sprintf("futures %.2f%% over spot with positive funding", basisPct)}
	case basisPct < -basisStretchedPct:
		return &OpinionDraft{Signal: models.SignalBuy, Confidence: 50,
			Reasoning: fmt.Sprintf("futures %.2f%% under spot", basisPct)}
	default:
		return &OpinionDraft{Signal: models.SignalHold, Confidence: 25,
			Reasoning: "basis unremarkable"}
	}
}

func intMin(a, b int) int {
	if a < b {
		return a
	}
	return b
}
