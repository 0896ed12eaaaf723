// Package amd detects accumulation-manipulation-distribution traps: false
// breaks of higher-timeframe zones that are quickly reclaimed.
package amd

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/indexsignal/internal/analysis/technical"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Booster labels recorded on events.
const (
	BoostWick   = "long_wick"
	BoostVolume = "high_recovery_volume"
	BoostClose  = "confirming_close"
)

// Detector scans intraday candles around support/resistance zones.
type Detector struct {
	cfg config.AMDConfig
}

// NewDetector creates a Detector.
func NewDetector(cfg config.AMDConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns every trap found in candles, which must be one session in
// ascending order. Support zones yield bear traps, resistance zones bull traps.
func (d *Detector) Detect(candles []models.Candle, zones []models.Zone) []models.ManipulationEvent {
	var events []models.ManipulationEvent
	for _, z := range zones {
		switch z.Kind {
		case models.ZoneSupport:
			events = append(events, d.scan(candles, z, true)...)
		case models.ZoneResistance:
			events = append(events, d.scan(candles, z, false)...)
		}
	}
	return events
}

// scan walks candles looking for a sweep of z followed by a reclaim.
// bear is true for a sweep below support.
func (d *Detector) scan(candles []models.Candle, z models.Zone, bear bool) []models.ManipulationEvent {
	var events []models.ManipulationEvent
	tol := z.Level * d.cfg.ZoneTolerancePct / 100

	for i := 1; i < len(candles); i++ {
		c := candles[i]
		if !d.swept(c, z, tol, bear) || !d.newExtreme(candles, i, bear) {
			continue
		}
		avg := technical.TrailingAverageVolume(candles, i, d.cfg.VolumeWindow)
		if avg <= 0 || float64(c.Volume) >= avg {
			continue
		}
		j, ok := d.recovery(candles, i, z, avg, bear)
		if !ok {
			continue
		}
		events = append(events, d.event(c, candles[j], z, avg, bear))
		i = j
	}
	return events
}

// swept reports whether c pierced the zone's outer edge by no more than tol.
func (d *Detector) swept(c models.Candle, z models.Zone, tol float64, bear bool) bool {
	if bear {
		return c.Low < z.Low && c.Low >= z.Low-tol
	}
	return c.High > z.High && c.High <= z.High+tol
}

// newExtreme reports whether candle i makes a strict new low (or high) over
// the preceding LocalLookback candles.
func (d *Detector) newExtreme(candles []models.Candle, i int, bear bool) bool {
	start := i - d.cfg.LocalLookback
	if start < 0 {
		start = 0
	}
	for _, p := range candles[start:i] {
		if bear && p.Low <= candles[i].Low {
			return false
		}
		if !bear && p.High >= candles[i].High {
			return false
		}
	}
	return true
}

// recovery finds the first candle within RecoveryWindow that moves at least
// MinRecoveryPoints off the extreme on above-average volume and closes back
// across the zone level.
func (d *Detector) recovery(candles []models.Candle, i int, z models.Zone, avg float64, bear bool) (int, bool) {
	brk := candles[i]
	end := i + d.cfg.RecoveryWindow
	if end >= len(candles) {
		end = len(candles) - 1
	}
	for j := i + 1; j <= end; j++ {
		r := candles[j]
		if float64(r.Volume) <= avg {
			continue
		}
		if bear && r.Close-brk.Low >= d.cfg.MinRecoveryPoints && r.Close > z.Level {
			return j, true
		}
		if !bear && brk.High-r.Close >= d.cfg.MinRecoveryPoints && r.Close < z.Level {
			return j, true
		}
	}
	return 0, false
}

func (d *Detector) event(brk, rec models.Candle, z models.Zone, avg float64, bear bool) models.ManipulationEvent {
	e := models.ManipulationEvent{
		ZoneLevel:     z.Level,
		RecoveryPrice: rec.Close,
		Timestamp:     rec.Timestamp,
		ZoneTouches:   z.Touches,
		Boosters:      []string{},
	}
	conf := d.cfg.BaseConfidence

	var wick float64
	if bear {
		e.Type, e.BreakPrice, e.SuggestedAction = models.BearTrap, brk.Low, models.ActionBuyCall
		wick = math.Min(brk.Open, brk.Close) - brk.Low
	} else {
		e.Type, e.BreakPrice, e.SuggestedAction = models.BullTrap, brk.High, models.ActionBuyPut
		wick = brk.High - math.Max(brk.Open, brk.Close)
	}

	if r := brk.Range(); r > 0 && wick/r >= d.cfg.WickRatio {
		conf += d.cfg.WickBoost
		e.Boosters = append(e.Boosters, BoostWick)
	}
	if float64(rec.Volume) >= d.cfg.HighVolumeMultiple*avg {
		conf += d.cfg.VolumeBoost
		e.Boosters = append(e.Boosters, BoostVolume)
	}
	if (bear && rec.Bullish()) || (!bear && rec.Bearish()) {
		conf += d.cfg.CloseBoost
		e.Boosters = append(e.Boosters, BoostClose)
	}

	e.Confidence = math.Max(0, math.Min(100, conf))
	return e
}

// Strongest picks the event that should drive the signal: the most confident
// among those within window of the latest event, then the most recent, then
// the lowest zone level. A zero window considers every event.
func Strongest(events []models.ManipulationEvent, window time.Duration) (models.ManipulationEvent, bool) {
	if len(events) == 0 {
		return models.ManipulationEvent{}, false
	}
	latest := events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	eligible := make([]models.ManipulationEvent, 0, len(events))
	for _, e := range events {
		if window <= 0 || latest.Sub(e.Timestamp) <= window {
			eligible = append(eligible, e)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ZoneLevel < b.ZoneLevel
	})
	return eligible[0], true
}

// Overrides reports whether e is confident enough to replace the MTF bias.
func Overrides(e *models.ManipulationEvent, threshold float64) bool {
	return e != nil && e.Confidence >= threshold
}
