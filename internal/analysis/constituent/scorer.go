// Package constituent predicts index direction from its member stocks: each
// stock is scored on daily (and, in session, intraday) technicals and the
// results are aggregated by index weight.
package constituent

import (
	"math"

	"github.com/seenimoa/indexsignal/internal/analysis/technical"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
)

const (
	// MinDailyCandles covers MACD(12,26,9), the longest daily factor.
	MinDailyCandles = 35
	// MinIntradayCandles covers EMA(10) on 5-minute bars.
	MinIntradayCandles = 10

	volumeAvgDays = 10
	vwapDays      = 20
	atrPeriod     = 14
	lastHalfHour  = 6 // 5-minute bars
)

// Factors are per-factor bullish fractions in [0,1]; 0.5 is neutral.
type Factors struct {
	RSI    float64
	EMA    float64
	Trend  float64
	VWAP   float64
	Volume float64
	MACD   float64
}

// Scorer turns candle series into ConstituentSignals.
type Scorer struct {
	cfg config.ConstituentConfig
}

// NewScorer creates a Scorer.
func NewScorer(cfg config.ConstituentConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// DailyFactors computes the daily factor set. ok is false when there are
// fewer than MinDailyCandles candles.
func (s *Scorer) DailyFactors(candles []models.Candle) (Factors, bool) {
	n := len(candles)
	if n < MinDailyCandles {
		return Factors{}, false
	}
	closes := technical.Closes(candles)
	last := candles[n-1]

	var f Factors
	f.RSI = neutralIfNaN(clamp01((technical.RSILatest(candles, 14) - 30) / 40))
	f.EMA = emaAlignment(closes, 5, 10, 20)
	f.Trend = clamp01(0.5 + technical.PctChange(closes[n-6], last.Close)/4)
	f.VWAP = clamp01(0.5 + technical.PctChange(technical.RollingVWAP(candles, vwapDays), last.Close)/2)
	f.Volume = volumeConfirmation(float64(last.Volume), technical.TrailingAverageVolume(candles, n-1, volumeAvgDays), direction(last.Close-last.Open))

	f.MACD = 0.5
	if m, ok := technical.MACDLatest(candles, 12, 26, 9); ok {
		switch {
		case m.Histogram > 0 && m.MACD > 0:
			f.MACD = 1
		case m.Histogram > 0:
			f.MACD = 0.75
		case m.MACD > 0:
			f.MACD = 0.25
		default:
			f.MACD = 0
		}
	}
	return f, true
}

// Score weights the factors into bullish and bearish scores.
func (s *Scorer) Score(f Factors) (bullish, bearish float64) {
	pairs := [...]struct{ w, f float64 }{
		{s.cfg.RSIWeight, f.RSI},
		{s.cfg.EMAWeight, f.EMA},
		{s.cfg.TrendWeight, f.Trend},
		{s.cfg.VWAPWeight, f.VWAP},
		{s.cfg.VolumeWeight, f.Volume},
		{s.cfg.MACDWeight, f.MACD},
	}
	for _, p := range pairs {
		bullish += p.w * p.f
		bearish += p.w * (1 - p.f)
	}
	return bullish, bearish
}

// totalWeight is the sum of daily factor weights.
func (s *Scorer) totalWeight() float64 {
	c := s.cfg
	return c.RSIWeight + c.EMAWeight + c.TrendWeight + c.VWAPWeight + c.VolumeWeight + c.MACDWeight
}

// IntradayProbability scores today's 5-minute candles: EMA(3/5/10)
// alignment 30, open-to-now return 30, last-30-minute return 25 and volume
// confirmation 15.
func (s *Scorer) IntradayProbability(candles []models.Candle) (float64, bool) {
	n := len(candles)
	if n < MinIntradayCandles {
		return 0, false
	}
	closes := technical.Closes(candles)
	last := candles[n-1]

	ema := emaAlignment(closes, 3, 5, 10)
	dayRet := technical.PctChange(candles[0].Open, last.Close)

	ref := candles[0].Open
	if n > lastHalfHour {
		ref = closes[n-lastHalfHour-1]
	}
	recentRet := technical.PctChange(ref, last.Close)

	recent := candles[max(0, n-lastHalfHour):]
	vol := volumeConfirmation(technical.AverageVolume(recent), technical.AverageVolume(candles), direction(recentRet))

	p := 0.30*ema + 0.30*clamp01(0.5+dayRet/2) + 0.25*clamp01(0.5+recentRet) + 0.15*vol
	return p, true
}

// ScoreStock builds the ConstituentSignal for one stock. intraday may be nil;
// it is blended in only when it has enough bars.
func (s *Scorer) ScoreStock(c models.Constituent, daily, intraday []models.Candle) (models.ConstituentSignal, bool) {
	f, ok := s.DailyFactors(daily)
	if !ok {
		return models.ConstituentSignal{}, false
	}
	bull, bear := s.Score(f)
	pDaily := 0.5
	if bull+bear > 0 {
		pDaily = bull / (bull + bear)
	}

	sig := models.ConstituentSignal{
		Symbol:           c.Symbol,
		Weight:           c.Weight,
		DailyProbability: pDaily,
		Probability:      pDaily,
		BullishScore:     bull,
		BearishScore:     bear,
	}

	if pIntra, ok := s.IntradayProbability(intraday); ok {
		iw := s.cfg.IntradayWeight
		p := (1-iw)*pDaily + iw*pIntra
		total := s.totalWeight()
		sig.IntradayProbability = &pIntra
		sig.Probability = p
		sig.BullishScore = p * total
		sig.BearishScore = (1 - p) * total
	}

	sig.Direction = s.classify(sig.Probability)
	if atr := technical.ATRPercent(daily, atrPeriod); !math.IsNaN(atr) {
		sig.ExpectedMovePct = sig.Direction.Sign() * atr
	}
	return sig, true
}

// classify applies the neutral band around 0.5.
func (s *Scorer) classify(p float64) models.Direction {
	switch {
	case p > 0.5+s.cfg.NeutralBand:
		return models.DirectionBullish
	case p < 0.5-s.cfg.NeutralBand:
		return models.DirectionBearish
	default:
		return models.DirectionNeutral
	}
}

// emaAlignment counts how many of price>fast, fast>mid, mid>slow hold.
func emaAlignment(closes []float64, fast, mid, slow int) float64 {
	price := closes[len(closes)-1]
	ef, em, es := technical.EMALatest(closes, fast), technical.EMALatest(closes, mid), technical.EMALatest(closes, slow)
	if math.IsNaN(ef) || math.IsNaN(em) || math.IsNaN(es) {
		return 0.5
	}
	score := 0.0
	for _, up := range []bool{price > ef, ef > em, em > es} {
		if up {
			score++
		}
	}
	return score / 3
}

// volumeConfirmation leans toward dir in proportion to how far vol exceeds
// avg; at or below average volume it is neutral.
func volumeConfirmation(vol, avg, dir float64) float64 {
	if avg <= 0 {
		return 0.5
	}
	strength := math.Min(math.Max(vol/avg-1, 0), 1)
	return 0.5 + 0.5*dir*strength
}

func direction(delta float64) float64 {
	switch {
	case delta > 0:
		return 1
	case delta < 0:
		return -1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func neutralIfNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return v
}
