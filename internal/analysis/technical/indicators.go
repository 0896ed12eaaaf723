// Package technical wraps go-talib indicators for candle series and adds the
// few helpers talib lacks (VWAP, volume averages, resampling).
package technical

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/seenimoa/indexsignal/pkg/models"
)

// RSI returns Wilder's RSI aligned with the input. Values before the first
// full period are NaN. Returns nil when there is not enough data.
func RSI(candles []models.Candle, period int) []float64 {
	if period < 2 || len(candles) <= period {
		return nil
	}
	out := talib.Rsi(Closes(candles), period)
	return blankLeading(out, period)
}

// RSILatest returns the most recent RSI value, or NaN.
func RSILatest(candles []models.Candle, period int) float64 {
	return Latest(RSI(candles, period))
}

// EMA returns the exponential moving average of data. Values before the first
// full period are NaN. Returns nil when there is not enough data.
func EMA(data []float64, period int) []float64 {
	if period < 2 || len(data) < period {
		return nil
	}
	return blankLeading(talib.Ema(data, period), period-1)
}

// EMALatest returns the most recent EMA value, or NaN.
func EMALatest(data []float64, period int) float64 {
	return Latest(EMA(data, period))
}

// MACDResult holds the latest MACD line, signal line and histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACDLatest computes MACD(fast, slow, signal) and returns the last bar.
// ok is false when the series is too short for the signal line.
func MACDLatest(candles []models.Candle, fast, slow, signal int) (MACDResult, bool) {
	if fast < 2 || slow <= fast || signal < 1 || len(candles) < slow+signal {
		return MACDResult{}, false
	}
	macd, sig, hist := talib.Macd(Closes(candles), fast, slow, signal)
	last := len(macd) - 1
	r := MACDResult{MACD: macd[last], Signal: sig[last], Histogram: hist[last]}
	if math.IsNaN(r.MACD) || math.IsNaN(r.Signal) {
		return MACDResult{}, false
	}
	return r, true
}

// ATR returns the average true range. Values before the first full period are
// NaN. Returns nil when there is not enough data.
func ATR(candles []models.Candle, period int) []float64 {
	if period < 1 || len(candles) <= period {
		return nil
	}
	out := talib.Atr(Highs(candles), Lows(candles), Closes(candles), period)
	return blankLeading(out, period)
}

// ATRPercent returns the latest ATR as a percentage of the last close.
func ATRPercent(candles []models.Candle, period int) float64 {
	atr := Latest(ATR(candles, period))
	if math.IsNaN(atr) || len(candles) == 0 || candles[len(candles)-1].Close == 0 {
		return math.NaN()
	}
	return atr / candles[len(candles)-1].Close * 100
}

// Closes extracts closing prices.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Highs extracts high prices.
func Highs(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

// Lows extracts low prices.
func Lows(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

// Latest returns the last finite value of a series, or NaN.
func Latest(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return math.NaN()
}

// blankLeading replaces talib's zero-filled warm-up bars with NaN so callers
// never mistake them for real readings.
func blankLeading(series []float64, n int) []float64 {
	for i := 0; i < n && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}
