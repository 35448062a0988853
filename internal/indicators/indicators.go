// Package indicators computes the per-cycle feature block from the candle
// window and order book. Every analyst reads the same FeatureSet; nothing in
// a cycle recomputes an indicator from scratch.
package indicators

// Config holds the indicator periods. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	RSIPeriod        int
	MACDFast         int
	MACDSlow         int
	MACDSignalPeriod int
	SMAPeriod        int
	EMAFast          int
	EMASlow          int
	BollingerPeriod  int
	VolLookback      int
}

// DefaultConfig returns the standard periods.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:        14,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignalPeriod: 9,
		SMAPeriod:        20,
		EMAFast:          12,
		EMASlow:          26,
		BollingerPeriod:  20,
		VolLookback:      20,
	}
}

// MinCandles is the smallest window every indicator can warm up on.
func (c Config) MinCandles() int {
	min := c.MACDSlow + c.MACDSignalPeriod
	for _, n := range []int{c.RSIPeriod + 1, c.SMAPeriod, c.BollingerPeriod, c.VolLookback + 1} {
		if n > min {
			min = n
		}
	}
	return min
}

// feed converts a slice into the closed channel the indicator library
// consumes.
func feed(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// collect drains an indicator output channel.
func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// lastOf returns the most recent value of a computed series.
func lastOf(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
