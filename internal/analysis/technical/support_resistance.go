package technical

import (
	"sort"
)

// LevelCluster groups nearby price levels.
type LevelCluster struct {
	Level   float64 // mean of members
	Low     float64
	High    float64
	Members int
	Tags    []string // distinct tags of the members, sorted
}

// LevelPoint is a price level with an arbitrary tag (e.g. its timeframe).
type LevelPoint struct {
	Price float64
	Tag   string
}

// ClusterLevels groups levels that lie within tolerancePct of the running
// cluster mean. Output is sorted by level ascending.
func ClusterLevels(points []LevelPoint, tolerancePct float64) []LevelCluster {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]LevelPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	threshold := tolerancePct / 100
	var clusters []LevelCluster
	var cur []LevelPoint
	sum := 0.0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		tags := map[string]bool{}
		for _, p := range cur {
			if p.Tag != "" {
				tags[p.Tag] = true
			}
		}
		names := make([]string, 0, len(tags))
		for t := range tags {
			names = append(names, t)
		}
		sort.Strings(names)
		clusters = append(clusters, LevelCluster{
			Level:   sum / float64(len(cur)),
			Low:     cur[0].Price,
			High:    cur[len(cur)-1].Price,
			Members: len(cur),
			Tags:    names,
		})
	}

	for _, p := range sorted {
		if len(cur) > 0 {
			mid := sum / float64(len(cur))
			if mid <= 0 || (p.Price-mid)/mid > threshold {
				flush()
				cur, sum = nil, 0
			}
		}
		cur = append(cur, p)
		sum += p.Price
	}
	flush()

	return clusters
}
