package derivatives

import (
	"math"
	"sort"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Base score component maxima.
const (
	volumePoints    = 25
	oiPoints        = 25
	deltaPoints     = 30
	moneynessPoints = 20

	deltaFloor   = 0.05
	deltaCeiling = 0.95
)

// Filters are the liquidity thresholds a quote must clear to be ranked.
type Filters struct {
	MinVolume        int64
	MinOI            int64
	MaxStrikeDistPct float64
}

// Scorer ranks option quotes for a directional long.
type Scorer struct {
	cfg config.OptionsConfig
}

// NewScorer creates a Scorer.
func NewScorer(cfg config.OptionsConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// DefaultFilters returns the configured thresholds.
func (s *Scorer) DefaultFilters() Filters {
	return Filters{MinVolume: s.cfg.MinVolume, MinOI: s.cfg.MinOI, MaxStrikeDistPct: s.cfg.MaxStrikeDistPct}
}

// Filter keeps quotes with a positive LTP that clear f.
func Filter(quotes []models.OptionQuote, spot float64, f Filters) []models.OptionQuote {
	var out []models.OptionQuote
	for _, q := range quotes {
		if q.LTP <= 0 || q.Volume < f.MinVolume || q.OI < f.MinOI {
			continue
		}
		if f.MaxStrikeDistPct > 0 && spot > 0 && distPct(q.Strike, spot) > f.MaxStrikeDistPct {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Rank filters quotes and returns them ordered by final score, then
// liquidity, strike and type (CE first). ip and sent may be nil.
func (s *Scorer) Rank(quotes []models.OptionQuote, spot float64, ip *models.IndexProbability, sent *models.Sentiment, f Filters) []models.ScoredOption {
	eligible := Filter(quotes, spot, f)
	if len(eligible) == 0 {
		return nil
	}

	var maxVol, maxOI int64
	for _, q := range eligible {
		maxVol = max(maxVol, q.Volume)
		maxOI = max(maxOI, q.OI)
	}
	maxDist := f.MaxStrikeDistPct
	if maxDist <= 0 {
		maxDist = s.cfg.MaxStrikeDistPct
	}

	out := make([]models.ScoredOption, 0, len(eligible))
	for _, q := range eligible {
		so := models.ScoredOption{
			Quote:          q,
			VolumeScore:    logScore(q.Volume, maxVol, volumePoints),
			OIScore:        logScore(q.OI, maxOI, oiPoints),
			DeltaScore:     s.deltaScore(math.Abs(q.Delta)),
			MoneynessScore: moneynessPoints * clamp01(1-distPct(q.Strike, spot)/maxDist),
		}
		so.BaseScore = so.VolumeScore + so.OIScore + so.DeltaScore + so.MoneynessScore

		dir := q.OptionType.Direction()
		if ip != nil && ip.ExpectedDirection == dir {
			so.DirectionBoost = so.BaseScore * s.cfg.DirectionBoostPct / 100 * ip.Confidence / 100
		}
		if sent != nil && sent.Direction != models.DirectionNeutral {
			adj := so.BaseScore * s.cfg.SentimentBoostPct / 100 * math.Abs(sent.Score)
			if sent.Direction == dir {
				so.SentimentAdjust = adj
			} else {
				so.SentimentAdjust = -adj
			}
		}
		so.FinalScore = so.BaseScore + so.DirectionBoost + so.SentimentAdjust

		so.VolumeScore = round2(so.VolumeScore)
		so.OIScore = round2(so.OIScore)
		so.DeltaScore = round2(so.DeltaScore)
		so.MoneynessScore = round2(so.MoneynessScore)
		so.BaseScore = round2(so.BaseScore)
		so.DirectionBoost = round2(so.DirectionBoost)
		so.SentimentAdjust = round2(so.SentimentAdjust)
		so.FinalScore = round2(so.FinalScore)
		out = append(out, so)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if la, lb := a.Quote.Liquidity(), b.Quote.Liquidity(); la != lb {
			return la > lb
		}
		if a.Quote.Strike != b.Quote.Strike {
			return a.Quote.Strike < b.Quote.Strike
		}
		return a.Quote.OptionType == models.OptionCall && b.Quote.OptionType != models.OptionCall
	})
	return out
}

// BestFor returns the highest ranked candidate of the type that profits from
// dir.
func BestFor(ranked []models.ScoredOption, dir models.Direction) (models.ScoredOption, bool) {
	want := dir.OptionType()
	for _, so := range ranked {
		if so.Quote.OptionType == want {
			return so, true
		}
	}
	return models.ScoredOption{}, false
}

// deltaScore gives full points inside the configured band and decays
// linearly to zero at deltaFloor and deltaCeiling.
func (s *Scorer) deltaScore(d float64) float64 {
	lo, hi := s.cfg.DeltaLow, s.cfg.DeltaHigh
	switch {
	case d >= lo && d <= hi:
		return deltaPoints
	case d < lo:
		return deltaPoints * clamp01((d-deltaFloor)/(lo-deltaFloor))
	default:
		return deltaPoints * clamp01((deltaCeiling-d)/(deltaCeiling-hi))
	}
}

func logScore(v, maxV int64, points float64) float64 {
	if v <= 0 || maxV <= 0 {
		return 0
	}
	return points * math.Log1p(float64(v)) / math.Log1p(float64(maxV))
}

func distPct(strike, spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	return math.Abs(strike-spot) / spot * 100
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
