package models

// Position is one open holding in the portfolio, keyed by base asset.
type Position struct {
	Qty           float64 `json:"qty"`
	AvgEntry      float64 `json:"avg_entry"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Value is the marked value of the position (cost basis plus unrealized PnL).
func (p Position) Value() float64 {
	return p.Qty*p.AvgEntry + p.UnrealizedPnL
}

// PortfolioState is a read-only view of the portfolio owned by the execution
// collaborator. Guards and the sizer operate on a copy taken once at
// guard-chain entry so a cycle sees one consistent view.
type PortfolioState struct {
	CashQuote        float64             `json:"cash_quote"`
	Positions        map[string]Position `json:"positions"`
	OpenRiskExposure float64             `json:"open_risk_exposure"`
	DrawdownFromPeak float64             `json:"drawdown_from_peak"`
}

// Equity is total portfolio value: cash plus the marked value of positions.
func (s PortfolioState) Equity() float64 {
	eq := s.CashQuote
	for _, pos := range s.Positions {
		eq += pos.Value()
	}
	return eq
}

// Clone returns a deep copy safe to read while the original keeps mutating.
func (s PortfolioState) Clone() PortfolioState {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	return out
}
