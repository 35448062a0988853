package analyst

import (
	"fmt"
	"strings"

	"quorum-trader/pkg/models"
)

// systemPromptFor returns the role's system prompt, falling back to the
// default for custom roles.
func systemPromptFor(role string) string {
	switch role {
	case RoleTechnical:
		return technicalSystemPrompt
	case RoleSentiment:
		return sentimentSystemPrompt
	case RoleLiquidity:
		return liquiditySystemPrompt
	case RoleFunding:
		return fundingSystemPrompt
	case RoleOpenInterest:
		return openInterestSystemPrompt
	default:
		return defaultSystemPrompt
	}
}

// buildUserPrompt renders one snapshot into the user message. A non-empty
// override replaces the role's default framing but the data block and the
// answer contract are always appended.
func buildUserPrompt(role, override string, snap *models.MarketSnapshot) string {
	var b strings.Builder

	if override != "" {
		b.WriteString(override)
	} else {
		fmt.Fprintf(&b, "Analyze %s on the %s interval from your %s specialist viewpoint.",
			snap.Pair.String(), snap.Pair.Interval, role)
	}
	b.WriteString("\n\n")
	b.WriteString(marketDataBlock(snap))
	b.WriteString("\n")
	b.WriteString(answerContract)
	return b.String()
}

func marketDataBlock(snap *models.MarketSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Snapshot taken at %s (quality %s):\n", snap.TSnap.Format("2006-01-02 15:04:05 MST"), snap.Quality)
	fmt.Fprintf(&b, "- Last price: %.2f (bid %.2f / ask %.2f)\n", snap.Ticker.Last, snap.Ticker.Bid, snap.Ticker.Ask)
	fmt.Fprintf(&b, "- 24h volume: %.2f\n", snap.Ticker.Volume24h)

	if f := snap.Features; f != nil {
		b.WriteString("\nIndicators over the candle window:\n")
		fmt.Fprintf(&b, "- RSI(14): %.2f\n", f.RSI14)
		fmt.Fprintf(&b, "- MACD: %.4f (signal %.4f)\n", f.MACD, f.MACDSignal)
		fmt.Fprintf(&b, "- SMA(20): %.2f, EMA(12): %.2f, EMA(26): %.2f\n", f.SMA20, f.EMA12, f.EMA26)
		fmt.Fprintf(&b, "- Bollinger bands: %.2f / %.2f\n", f.BollingerUpper, f.BollingerLower)
		fmt.Fprintf(&b, "- Realized volatility: %.2f%%\n", f.RealizedVolPct)
		fmt.Fprintf(&b, "- Spread: %.4f%%, depth imbalance: %.3f\n", f.SpreadPct, f.DepthImbalance)
	}

	if d := snap.Derivatives; d != nil {
		b.WriteString("\nDerivatives:\n")
		fmt.Fprintf(&b, "- Funding rate: %.4f%%\n", d.FundingRate*100)
		fmt.Fprintf(&b, "- Open interest: %.2f\n", d.OpenInterest)
		fmt.Fprintf(&b, "- Basis: %.2f\n", d.Basis)
	} else {
		b.WriteString("\nDerivatives: not available for this pair.\n")
	}

	return b.String()
}

const answerContract = `Respond ONLY with valid JSON in this exact format:
{
  "signal": "BUY" | "SELL" | "HOLD",
  "confidence": <integer 0-100>,
  "reasoning": "<one or two sentences>"
}`

const technicalSystemPrompt = `You are a technical analyst on a cryptocurrency trading desk.

Your role is to read momentum and trend indicators and turn them into a directional signal.

Guidelines:
- Weigh RSI extremes, MACD crossovers and the EMA trend against each other
- Be conservative when indicators conflict; HOLD is a valid answer
- Confidence reflects how aligned the indicators are, not how strongly you feel

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`

const sentimentSystemPrompt = `You are a market sentiment analyst on a cryptocurrency trading desk.

Your role is to judge crowd positioning from price action relative to its recent mean and bands.

Guidelines:
- Price stretched far outside its bands usually marks crowd extremes worth fading
- Price drifting along one side of the mean marks a persistent mood
- Confidence reflects how extreme the positioning looks

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`

const liquiditySystemPrompt = `You are a market microstructure analyst on a cryptocurrency trading desk.

Your role is to judge whether the order book supports entering a position right now.

Guidelines:
- A wide spread means entering is expensive; prefer HOLD
- A heavily one-sided book signals short-term pressure in that direction
- Confidence reflects how one-sided and how tight the book is

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`

const fundingSystemPrompt = `You are a derivatives funding analyst on a cryptocurrency trading desk.

Your role is to read the funding rate as a crowding signal and lean against crowded positioning.

Guidelines:
- Strongly positive funding means longs pay to stay in; the long side is crowded
- Strongly negative funding means shorts are crowded
- Without derivatives data, answer HOLD with confidence 0

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`

const openInterestSystemPrompt = `You are a derivatives positioning analyst on a cryptocurrency trading desk.

Your role is to read open interest and basis for signs of stretched positioning.

Guidelines:
- Futures trading rich to spot alongside positive funding marks an overheated market
- Futures trading at a discount marks capitulation
- Without derivatives data, answer HOLD with confidence 0

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`

const defaultSystemPrompt = `You are an analyst on a cryptocurrency trading desk.

Read the provided market snapshot and produce a directional signal with a confidence score.

Respond ONLY with valid JSON in the specified format. Do not include explanatory text outside the JSON.`
