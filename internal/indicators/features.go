package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"quorum-trader/pkg/models"
)

// ComputeFeatures derives the full feature block for one cycle. Candles must
// be the validated ascending window from the snapshot; ticker and depth feed
// the microstructure features.
func ComputeFeatures(candles []models.Candle, ticker models.Ticker, depth models.DepthLevels, cfg Config) (*models.FeatureSet, error) {
	if need := cfg.MinCandles(); len(candles) < need {
		return nil, fmt.Errorf("insufficient candles for indicators: have %d, need %d", len(candles), need)
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsi, ok := lastOf(collect(momentum.NewRsiWithPeriod[float64](cfg.RSIPeriod).Compute(feed(closes))))
	if !ok {
		return nil, fmt.Errorf("rsi produced no values")
	}

	macdChan, signalChan := trend.NewMacdWithPeriod[float64](cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignalPeriod).Compute(feed(closes))
	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	macd, ok := lastOf(macdValues)
	if !ok {
		return nil, fmt.Errorf("macd produced no values")
	}
	macdSignal, _ := lastOf(signalValues)

	sma, ok := lastOf(collect(trend.NewSmaWithPeriod[float64](cfg.SMAPeriod).Compute(feed(closes))))
	if !ok {
		return nil, fmt.Errorf("sma produced no values")
	}
	emaFast, ok := lastOf(collect(trend.NewEmaWithPeriod[float64](cfg.EMAFast).Compute(feed(closes))))
	if !ok {
		return nil, fmt.Errorf("ema fast produced no values")
	}
	emaSlow, ok := lastOf(collect(trend.NewEmaWithPeriod[float64](cfg.EMASlow).Compute(feed(closes))))
	if !ok {
		return nil, fmt.Errorf("ema slow produced no values")
	}

	upperChan, middleChan, lowerChan := volatility.NewBollingerBandsWithPeriod[float64](cfg.BollingerPeriod).Compute(feed(closes))
	var upperValues, lowerValues []float64
	for {
		u, uok := <-upperChan
		_, mok := <-middleChan
		l, lok := <-lowerChan
		if !uok || !mok || !lok {
			break
		}
		upperValues = append(upperValues, u)
		lowerValues = append(lowerValues, l)
	}
	bbUpper, ok := lastOf(upperValues)
	if !ok {
		return nil, fmt.Errorf("bollinger produced no values")
	}
	bbLower, _ := lastOf(lowerValues)

	realizedVol, err := RealizedVolatilityPct(closes, cfg.VolLookback)
	if err != nil {
		return nil, err
	}

	spread, err := spreadPct(ticker)
	if err != nil {
		return nil, err
	}

	fs := &models.FeatureSet{
		RSI14:          rsi,
		MACD:           macd,
		MACDSignal:     macdSignal,
		SMA20:          sma,
		EMA12:          emaFast,
		EMA26:          emaSlow,
		BollingerUpper: bbUpper,
		BollingerLower: bbLower,
		RealizedVolPct: realizedVol,
		SpreadPct:      spread,
		DepthImbalance: depthImbalance(depth),
	}
	for name, v := range map[string]float64{
		"rsi": fs.RSI14, "macd": fs.MACD, "sma": fs.SMA20,
		"bollinger_upper": fs.BollingerUpper, "realized_vol": fs.RealizedVolPct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("indicator %s is not finite", name)
		}
	}
	return fs, nil
}

// spreadPct is the bid/ask spread as a percentage of the mid price.
func spreadPct(t models.Ticker) (float64, error) {
	mid := (t.Bid + t.Ask) / 2
	if mid <= 0 {
		return 0, fmt.Errorf("non-positive mid price %.8f", mid)
	}
	return (t.Ask - t.Bid) / mid * 100, nil
}

// depthImbalance is (bid size - ask size) / total size over the visible
// book, in [-1, 1]. Positive values mean buy-side pressure.
func depthImbalance(d models.DepthLevels) float64 {
	var bidSize, askSize float64
	for _, lvl := range d.Bids {
		bidSize += lvl.Size
	}
	for _, lvl := range d.Asks {
		askSize += lvl.Size
	}
	total := bidSize + askSize
	if total == 0 {
		return 0
	}
	return (bidSize - askSize) / total
}
