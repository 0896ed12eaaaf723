// Package mtf runs structure analysis across a timeframe ladder and
// reconciles the per-timeframe biases into one top-down read.
package mtf

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Ladders holds the intraday and swing timeframe ladders.
type Ladders struct {
	Intraday []models.Timeframe
	Swing    []models.Timeframe
}

// DefaultLadders returns {5m,15m,1h,4h} intraday and {1d,1w,1M} swing.
func DefaultLadders() Ladders {
	return Ladders{
		Intraday: []models.Timeframe{models.Timeframe5Min, models.Timeframe15Min, models.Timeframe1Hour, models.Timeframe4Hour},
		Swing:    []models.Timeframe{models.Timeframe1Day, models.Timeframe1Week, models.Timeframe1Mon},
	}
}

// LaddersFrom converts configured ladders, dropping unknown timeframes.
func LaddersFrom(cfg config.MTFConfig) Ladders {
	return Ladders{Intraday: parse(cfg.IntradayLadder), Swing: parse(cfg.SwingLadder)}
}

func parse(names []string) []models.Timeframe {
	out := make([]models.Timeframe, 0, len(names))
	for _, n := range names {
		if tf := models.Timeframe(n); tf.Valid() {
			out = append(out, tf)
		}
	}
	return out
}

// Select returns the ladder in force at now, sorted lowest to highest.
// During the NSE session the intraday ladder applies; otherwise the swing
// ladder.
func (l Ladders) Select(now time.Time) []models.Timeframe {
	src := l.Swing
	if utils.IsMarketOpenAt(now) {
		src = l.Intraday
	}
	ladder := make([]models.Timeframe, len(src))
	copy(ladder, src)
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].Rank() < ladder[j].Rank() })
	return ladder
}

// SelectTimeframeLadder picks the default ladder for now.
func SelectTimeframeLadder(now time.Time) []models.Timeframe {
	return DefaultLadders().Select(now)
}

// Reconcile derives the overall bias from per-timeframe biases. Each
// timeframe is weighted by its 1-based position in the ascending ladder.
// Bullish and bearish weight are compared and a tie is ranging. Alignment is
// the winning weight as a share of the whole ladder, so failed timeframes
// lower it.
func Reconcile(ladder []models.Timeframe, per map[models.Timeframe]models.Bias, failed []models.Timeframe) models.MTFBias {
	out := models.MTFBias{
		PerTimeframe: make(map[models.Timeframe]models.Bias, len(per)),
		OverallBias:  models.BiasRanging,
		Ladder:       ladder,
		Failed:       failed,
	}

	var bull, bear, total float64
	for i, tf := range ladder {
		w := float64(i + 1)
		total += w
		b, ok := per[tf]
		if !ok {
			continue
		}
		out.PerTimeframe[tf] = b
		switch b {
		case models.BiasBullish:
			bull += w
		case models.BiasBearish:
			bear += w
		}
	}
	if total == 0 {
		return out
	}

	switch {
	case bull > bear:
		out.OverallBias = models.BiasBullish
		out.AlignmentStrength = round2(100 * bull / total)
	case bear > bull:
		out.OverallBias = models.BiasBearish
		out.AlignmentStrength = round2(100 * bear / total)
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
