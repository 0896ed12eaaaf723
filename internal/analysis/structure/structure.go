// Package structure computes single-timeframe ICT-style market structure:
// swing points, order blocks, fair value gaps and structure breaks.
package structure

import (
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Analyzer computes MarketStructure from a candle series. It is stateless
// and safe for concurrent use.
type Analyzer struct {
	cfg config.StructureConfig
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg config.StructureConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze computes market structure for one timeframe. Sparse input never
// errors: fewer than the minimum candle count yields a ranging result with
// empty zone sets.
func (a *Analyzer) Analyze(tf models.Timeframe, candles []models.Candle) models.MarketStructure {
	ms := models.MarketStructure{
		Timeframe:     tf,
		SwingHighs:    []models.SwingPoint{},
		SwingLows:     []models.SwingPoint{},
		OrderBlocks:   []models.OrderBlock{},
		FairValueGaps: []models.FairValueGap{},
		Breaks:        []models.StructureBreak{},
		Bias:          models.BiasRanging,
		StructureType: models.StructureInsufficientData,
		CandleCount:   len(candles),
	}
	if len(candles) < a.cfg.MinCandles {
		return ms
	}

	ms.SwingHighs, ms.SwingLows = FindSwings(candles, a.cfg.SwingLookback)
	ms.Bias, ms.StructureType = classify(ms.SwingHighs, ms.SwingLows)
	ms.Breaks, ms.OrderBlocks = a.detectBreaks(candles, ms.SwingHighs, ms.SwingLows)
	ms.FairValueGaps = a.detectFVGs(candles)
	return ms
}

// FindSwings returns swing highs and lows using n candles on each side.
// A swing high must exceed every high to its left and be at least as high
// as every high to its right, so flat tops yield one swing.
func FindSwings(candles []models.Candle, n int) (highs, lows []models.SwingPoint) {
	highs, lows = []models.SwingPoint{}, []models.SwingPoint{}
	if n < 1 {
		n = 1
	}
	for i := n; i < len(candles)-n; i++ {
		isHigh, isLow := true, true
		for j := i - n; j <= i+n && (isHigh || isLow); j++ {
			if j == i {
				continue
			}
			if j < i {
				isHigh = isHigh && candles[i].High > candles[j].High
				isLow = isLow && candles[i].Low < candles[j].Low
			} else {
				isHigh = isHigh && candles[i].High >= candles[j].High
				isLow = isLow && candles[i].Low <= candles[j].Low
			}
		}
		if isHigh {
			highs = append(highs, models.SwingPoint{Price: candles[i].High, Timestamp: candles[i].Timestamp, Index: i})
		}
		if isLow {
			lows = append(lows, models.SwingPoint{Price: candles[i].Low, Timestamp: candles[i].Timestamp, Index: i})
		}
	}
	return highs, lows
}

// classify compares the last two swing highs and lows.
func classify(highs, lows []models.SwingPoint) (models.Bias, string) {
	if len(highs) < 2 || len(lows) < 2 {
		return models.BiasRanging, models.StructureRanging
	}
	h1, h2 := highs[len(highs)-2].Price, highs[len(highs)-1].Price
	l1, l2 := lows[len(lows)-2].Price, lows[len(lows)-1].Price
	switch {
	case h2 > h1 && l2 > l1:
		return models.BiasBullish, models.StructureHigherHighs
	case h2 < h1 && l2 < l1:
		return models.BiasBearish, models.StructureLowerLows
	default:
		return models.BiasRanging, models.StructureRanging
	}
}

// detectBreaks walks the series once. A swing becomes the active level only
// after its n right-hand candles have closed; the first close beyond the
// active level is a break, labelled CHoCH when it flips the prior break
// direction and BOS otherwise.
func (a *Analyzer) detectBreaks(candles []models.Candle, highs, lows []models.SwingPoint) ([]models.StructureBreak, []models.OrderBlock) {
	breaks := []models.StructureBreak{}
	blocks := []models.OrderBlock{}
	n := a.cfg.SwingLookback

	var active struct {
		high, low             *models.SwingPoint
		highBroken, lowBroken bool
	}
	hi, lo := 0, 0
	trend := models.BiasRanging

	for i, c := range candles {
		for hi < len(highs) && highs[hi].Index+n < i {
			active.high, active.highBroken = &highs[hi], false
			hi++
		}
		for lo < len(lows) && lows[lo].Index+n < i {
			active.low, active.lowBroken = &lows[lo], false
			lo++
		}

		if active.high != nil && !active.highBroken && c.Close > active.high.Price {
			breaks = append(breaks, models.StructureBreak{
				Type:      breakType(trend, models.BiasBullish),
				Direction: models.BiasBullish,
				Level:     active.high.Price,
				Timestamp: c.Timestamp,
			})
			if ob, ok := a.orderBlock(candles, i, models.BiasBullish); ok {
				blocks = append(blocks, ob)
			}
			trend = models.BiasBullish
			active.highBroken = true
		}
		if active.low != nil && !active.lowBroken && c.Close < active.low.Price {
			breaks = append(breaks, models.StructureBreak{
				Type:      breakType(trend, models.BiasBearish),
				Direction: models.BiasBearish,
				Level:     active.low.Price,
				Timestamp: c.Timestamp,
			})
			if ob, ok := a.orderBlock(candles, i, models.BiasBearish); ok {
				blocks = append(blocks, ob)
			}
			trend = models.BiasBearish
			active.lowBroken = true
		}
	}
	return breaks, blocks
}

func breakType(prior, dir models.Bias) models.BreakType {
	if prior != models.BiasRanging && prior != dir {
		return models.BreakCHoCH
	}
	return models.BreakBOS
}

// orderBlock finds the last opposite-coloured candle before the breaking
// candle at index i, searching at most OrderBlockDepth bars back.
func (a *Analyzer) orderBlock(candles []models.Candle, i int, dir models.Bias) (models.OrderBlock, bool) {
	stop := i - a.cfg.OrderBlockDepth
	if stop < 0 {
		stop = 0
	}
	for k := i - 1; k >= stop; k-- {
		c := candles[k]
		if (dir == models.BiasBullish && c.Bearish()) || (dir == models.BiasBearish && c.Bullish()) {
			return models.OrderBlock{
				ZoneLow:      c.Low,
				ZoneHigh:     c.High,
				Direction:    dir,
				OriginCandle: c,
			}, true
		}
	}
	return models.OrderBlock{}, false
}

// detectFVGs finds 3-candle imbalances and marks those that later price
// traded back through.
func (a *Analyzer) detectFVGs(candles []models.Candle) []models.FairValueGap {
	gaps := []models.FairValueGap{}
	for i := 2; i < len(candles); i++ {
		c1, c3 := candles[i-2], candles[i]

		switch {
		case c3.Low > c1.High && gapPct(c1.High, c3.Low) >= a.cfg.MinGapPct:
			gap := models.FairValueGap{
				ZoneLow:   c1.High,
				ZoneHigh:  c3.Low,
				Direction: models.BiasBullish,
				Timestamp: candles[i-1].Timestamp,
			}
			for _, later := range candles[i+1:] {
				if later.Low <= gap.ZoneLow {
					gap.Filled = true
					break
				}
			}
			gaps = append(gaps, gap)

		case c3.High < c1.Low && gapPct(c3.High, c1.Low) >= a.cfg.MinGapPct:
			gap := models.FairValueGap{
				ZoneLow:   c3.High,
				ZoneHigh:  c1.Low,
				Direction: models.BiasBearish,
				Timestamp: candles[i-1].Timestamp,
			}
			for _, later := range candles[i+1:] {
				if later.High >= gap.ZoneHigh {
					gap.Filled = true
					break
				}
			}
			gaps = append(gaps, gap)
		}
	}
	return gaps
}

func gapPct(lo, hi float64) float64 {
	if lo <= 0 {
		return 0
	}
	return (hi - lo) / lo * 100
}
