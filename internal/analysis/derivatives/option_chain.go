package derivatives

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/indexsignal/pkg/models"
)

// ChainContext holds derived insights from one expiry of the option chain.
type ChainContext struct {
	Spot            float64          `json:"spot"`
	ATMStrike       float64          `json:"atm_strike"`
	ATMIV           float64          `json:"atm_iv"`  // average ATM IV
	IVSkew          float64          `json:"iv_skew"` // ATM IV difference (PE-CE)
	MaxPain         float64          `json:"max_pain"`
	PCR             PCRAnalysis      `json:"pcr"`
	MaxPutOIStrike  float64          `json:"max_put_oi_strike"`  // strongest support
	MaxCallOIStrike float64          `json:"max_call_oi_strike"` // strongest resistance
	Sentiment       models.Direction `json:"sentiment"`
}

// AnalyzeChain summarises quotes for a single expiry.
func AnalyzeChain(quotes []models.OptionQuote, spot float64) ChainContext {
	if len(quotes) == 0 {
		return ChainContext{Spot: spot, Sentiment: models.DirectionNeutral}
	}

	c := ChainContext{
		Spot:      spot,
		ATMStrike: ATMStrike(quotes, spot),
		MaxPain:   MaxPain(quotes),
		PCR:       ComputePCR(quotes),
	}

	var atmCE, atmPE float64
	for _, q := range quotes {
		if q.Strike != c.ATMStrike {
			continue
		}
		if q.OptionType == models.OptionCall {
			atmCE = q.IV
		} else {
			atmPE = q.IV
		}
	}
	if atmCE > 0 && atmPE > 0 {
		c.ATMIV = (atmCE + atmPE) / 2
		c.IVSkew = atmPE - atmCE
	}

	c.MaxPutOIStrike = maxOIStrike(quotes, models.OptionPut)
	c.MaxCallOIStrike = maxOIStrike(quotes, models.OptionCall)
	c.Sentiment = c.PCR.Direction()
	return c
}

// ATMStrike returns the listed strike closest to spot; ties go to the lower
// strike.
func ATMStrike(quotes []models.OptionQuote, spot float64) float64 {
	if len(quotes) == 0 || spot <= 0 {
		return 0
	}
	best := quotes[0].Strike
	bestDiff := math.Abs(best - spot)
	for _, q := range quotes[1:] {
		d := math.Abs(q.Strike - spot)
		if d < bestDiff || (d == bestDiff && q.Strike < best) {
			best, bestDiff = q.Strike, d
		}
	}
	return best
}

// MaxPain returns the settlement strike that minimises option buyers' total
// intrinsic payout.
func MaxPain(quotes []models.OptionQuote) float64 {
	if len(quotes) == 0 {
		return 0
	}

	ceOI := map[float64]int64{}
	peOI := map[float64]int64{}
	for _, q := range quotes {
		if q.OptionType == models.OptionCall {
			ceOI[q.Strike] += q.OI
		} else {
			peOI[q.Strike] += q.OI
		}
	}
	strikes := uniqueStrikes(quotes)

	minPain := math.MaxFloat64
	maxPainStrike := 0.0
	for _, settle := range strikes {
		pain := 0.0
		for _, s := range strikes {
			if s < settle {
				pain += (settle - s) * float64(ceOI[s])
			}
			if s > settle {
				pain += (s - settle) * float64(peOI[s])
			}
		}
		if pain < minPain {
			minPain, maxPainStrike = pain, settle
		}
	}
	return maxPainStrike
}

// Expiries returns the distinct expiry dates in the chain, ascending.
func Expiries(quotes []models.OptionQuote) []time.Time {
	seen := map[int64]bool{}
	var out []time.Time
	for _, q := range quotes {
		if k := q.ExpiryDate.Unix(); !seen[k] {
			seen[k] = true
			out = append(out, q.ExpiryDate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ForExpiry returns the quotes that expire on expiry.
func ForExpiry(quotes []models.OptionQuote, expiry time.Time) []models.OptionQuote {
	var out []models.OptionQuote
	for _, q := range quotes {
		if q.ExpiryDate.Equal(expiry) {
			out = append(out, q)
		}
	}
	return out
}

func uniqueStrikes(quotes []models.OptionQuote) []float64 {
	set := map[float64]bool{}
	var strikes []float64
	for _, q := range quotes {
		if !set[q.Strike] {
			set[q.Strike] = true
			strikes = append(strikes, q.Strike)
		}
	}
	sort.Float64s(strikes)
	return strikes
}

func maxOIStrike(quotes []models.OptionQuote, typ models.OptionType) float64 {
	byStrike := map[float64]int64{}
	for _, q := range quotes {
		if q.OptionType == typ {
			byStrike[q.Strike] += q.OI
		}
	}
	best, bestOI := 0.0, int64(-1)
	for _, s := range uniqueStrikes(quotes) {
		if oi, ok := byStrike[s]; ok && oi > bestOI {
			best, bestOI = s, oi
		}
	}
	return best
}
