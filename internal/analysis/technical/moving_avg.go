package technical

import (
	"math"

	"github.com/seenimoa/indexsignal/pkg/models"
)

// VWAP calculates the running Volume-Weighted Average Price from the first
// candle. Feed it one session's candles for the classic intraday VWAP.
func VWAP(candles []models.Candle) []float64 {
	n := len(candles)
	if n == 0 {
		return nil
	}

	result := make([]float64, n)
	cumVolume := 0.0
	cumTPV := 0.0 // cumulative (typical price * volume)

	for i := 0; i < n; i++ {
		tp := (candles[i].High + candles[i].Low + candles[i].Close) / 3
		vol := float64(candles[i].Volume)
		cumTPV += tp * vol
		cumVolume += vol

		if cumVolume > 0 {
			result[i] = cumTPV / cumVolume
		} else {
			result[i] = tp
		}
	}

	return result
}

// RollingVWAP returns the VWAP of the last window candles.
func RollingVWAP(candles []models.Candle, window int) float64 {
	if len(candles) == 0 {
		return math.NaN()
	}
	if window > 0 && len(candles) > window {
		candles = candles[len(candles)-window:]
	}
	return Latest(VWAP(candles))
}

// AverageVolume returns the mean volume of candles, or 0 for an empty slice.
func AverageVolume(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candles {
		sum += float64(c.Volume)
	}
	return sum / float64(len(candles))
}

// TrailingAverageVolume returns the average volume of up to window candles
// ending just before index i.
func TrailingAverageVolume(candles []models.Candle, i, window int) float64 {
	if i <= 0 {
		return 0
	}
	start := i - window
	if start < 0 {
		start = 0
	}
	return AverageVolume(candles[start:i])
}

// PctChange returns the percentage change from a to b.
func PctChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a * 100
}
