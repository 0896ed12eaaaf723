package derivatives

import "github.com/seenimoa/indexsignal/pkg/models"

// PCRAnalysis holds put-call ratio analysis results.
type PCRAnalysis struct {
	PCR            float64 `json:"pcr"`
	PCRByVolume    float64 `json:"pcr_by_volume"`
	Signal         string  `json:"signal"`
	Interpretation string  `json:"interpretation"`
}

// ComputePCR calculates open-interest and volume PCR across quotes.
func ComputePCR(quotes []models.OptionQuote) PCRAnalysis {
	var putOI, callOI, putVol, callVol int64
	for _, q := range quotes {
		switch q.OptionType {
		case models.OptionPut:
			putOI += q.OI
			putVol += q.Volume
		case models.OptionCall:
			callOI += q.OI
			callVol += q.Volume
		}
	}

	a := PCRAnalysis{}
	if callOI > 0 {
		a.PCR = float64(putOI) / float64(callOI)
	}
	if callVol > 0 {
		a.PCRByVolume = float64(putVol) / float64(callVol)
	}

	switch {
	case callOI == 0:
		a.Signal = "neutral"
		a.Interpretation = "No call open interest"
	case a.PCR > 1.5:
		a.Signal = "strongly_bullish"
		a.Interpretation = "Very high PCR, heavy put writing indicates strong support"
	case a.PCR > 1.2:
		a.Signal = "bullish"
		a.Interpretation = "High PCR, more puts written, bullish undertone"
	case a.PCR > 0.8:
		a.Signal = "neutral"
		a.Interpretation = "PCR in normal range, no clear directional bias"
	case a.PCR > 0.5:
		a.Signal = "bearish"
		a.Interpretation = "Low PCR, call writing dominates, bearish undertone"
	default:
		a.Signal = "strongly_bearish"
		a.Interpretation = "Very low PCR, heavy call writing caps upside"
	}
	return a
}

// Direction maps the PCR signal onto an index direction.
func (a PCRAnalysis) Direction() models.Direction {
	switch a.Signal {
	case "strongly_bullish", "bullish":
		return models.DirectionBullish
	case "strongly_bearish", "bearish":
		return models.DirectionBearish
	default:
		return models.DirectionNeutral
	}
}
