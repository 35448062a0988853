package indicators

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// RealizedVolatilityPct is the sample standard deviation of log returns over
// the trailing lookback window, in percent. It is computed once per cycle
// and shared by the volatility guard and the position sizer.
func RealizedVolatilityPct(closes []float64, lookback int) (float64, error) {
	if lookback < 2 {
		return 0, fmt.Errorf("volatility lookback must be at least 2, got %d", lookback)
	}
	if len(closes) < lookback+1 {
		return 0, fmt.Errorf("insufficient closes for volatility: have %d, need %d", len(closes), lookback+1)
	}

	window := closes[len(closes)-lookback-1:]
	returns := make([]float64, 0, lookback)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, fmt.Errorf("non-positive close in volatility window at offset %d", i)
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}

	return stat.StdDev(returns, nil) * 100, nil
}
