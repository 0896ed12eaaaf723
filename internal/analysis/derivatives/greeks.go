package derivatives

import (
	"math"
	"time"

	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Greeks holds Black-Scholes sensitivities. Theta is premium per calendar
// day and Vega is premium per 1 IV point.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// BlackScholes prices the sensitivities of a European option. ivPct is the
// implied volatility in percent; years is time to expiry.
func BlackScholes(spot, strike, years, rate, ivPct float64, typ models.OptionType) Greeks {
	sigma := ivPct / 100
	if spot <= 0 || strike <= 0 || years <= 0 || sigma <= 0 {
		return Greeks{}
	}
	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/strike) + (rate+sigma*sigma/2)*years) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := math.Exp(-rate * years)

	g := Greeks{
		Gamma: normPDF(d1) / (spot * sigma * sqrtT),
		Vega:  spot * normPDF(d1) * sqrtT / 100,
	}
	decay := -spot * normPDF(d1) * sigma / (2 * sqrtT)
	if typ == models.OptionPut {
		g.Delta = normCDF(d1) - 1
		g.Theta = (decay + rate*strike*disc*normCDF(-d2)) / 365
	} else {
		g.Delta = normCDF(d1)
		g.Theta = (decay - rate*strike*disc*normCDF(d2)) / 365
	}
	return g
}

// FillGreeks computes Greeks for quotes that carry IV but no delta, which is
// how NSE publishes its chain. Quotes that already have Greeks are kept.
func FillGreeks(quotes []models.OptionQuote, spot, rate float64, now time.Time) {
	for i := range quotes {
		q := &quotes[i]
		if q.Delta != 0 || q.IV <= 0 {
			continue
		}
		g := BlackScholes(spot, q.Strike, utils.YearsToExpiry(now, q.ExpiryDate), rate, q.IV, q.OptionType)
		q.Delta, q.Gamma, q.Theta, q.Vega = g.Delta, g.Gamma, g.Theta, g.Vega
	}
}

func normCDF(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func normPDF(x float64) float64 { return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi) }
