package structure

import (
	"github.com/seenimoa/indexsignal/internal/analysis/technical"
	"github.com/seenimoa/indexsignal/pkg/models"
)

// Zones clusters swing points across the given structures into support
// (from swing lows) and resistance (from swing highs) zones. Supports come
// first, each group sorted by level ascending.
func Zones(structures []models.MarketStructure, clusterPct float64) []models.Zone {
	var lows, highs []technical.LevelPoint
	for _, ms := range structures {
		tag := string(ms.Timeframe)
		for _, p := range ms.SwingLows {
			lows = append(lows, technical.LevelPoint{Price: p.Price, Tag: tag})
		}
		for _, p := range ms.SwingHighs {
			highs = append(highs, technical.LevelPoint{Price: p.Price, Tag: tag})
		}
	}

	zones := []models.Zone{}
	zones = appendZones(zones, technical.ClusterLevels(lows, clusterPct), models.ZoneSupport)
	zones = appendZones(zones, technical.ClusterLevels(highs, clusterPct), models.ZoneResistance)
	return zones
}

func appendZones(dst []models.Zone, clusters []technical.LevelCluster, kind models.ZoneKind) []models.Zone {
	for _, c := range clusters {
		tfs := make([]models.Timeframe, len(c.Tags))
		for i, t := range c.Tags {
			tfs[i] = models.Timeframe(t)
		}
		dst = append(dst, models.Zone{
			Level:      c.Level,
			Low:        c.Low,
			High:       c.High,
			Kind:       kind,
			Touches:    c.Members,
			Timeframes: tfs,
		})
	}
	return dst
}

// Nearest returns the zone of the given kind closest to price, or false.
func Nearest(zones []models.Zone, kind models.ZoneKind, price float64) (models.Zone, bool) {
	var best models.Zone
	found := false
	for _, z := range zones {
		if z.Kind != kind {
			continue
		}
		if !found || abs(z.Level-price) < abs(best.Level-price) {
			best, found = z, true
		}
	}
	return best, found
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
