package match

import (
	"math"
	"sort"
)

// DeltaCount is one histogram bin: an offset delta and its vote count.
type DeltaCount struct {
	Delta int32 `json:"delta"`
	Count int   `json:"count"`
}

// Cluster is a set of offset deltas whose range stays within the configured
// maximum spread.
type Cluster struct {
	Entries      []DeltaCount
	MinDelta     int32
	MaxDelta     int32
	TotalMatches int
}

// Spread is MaxDelta - MinDelta.
func (c *Cluster) Spread() int32 { return c.MaxDelta - c.MinDelta }

// Tightness is 1 for a single-delta cluster and decays with spread otherwise,
// never below 0.1.
func (c *Cluster) Tightness() float64 {
	if len(c.Entries) <= 1 {
		return 1.0
	}
	return math.Max(0.1, 1.0-float64(c.Spread())/2000.0)
}

func (c *Cluster) QualityScore() float64 {
	return float64(c.TotalMatches) * c.Tightness()
}

func (c *Cluster) accepts(delta int32, maxSpread int32) bool {
	lo, hi := c.MinDelta, c.MaxDelta
	if delta < lo {
		lo = delta
	}
	if delta > hi {
		hi = delta
	}
	return hi-lo <= maxSpread
}

func (c *Cluster) add(e DeltaCount) {
	if len(c.Entries) == 0 {
		c.MinDelta, c.MaxDelta = e.Delta, e.Delta
	} else {
		if e.Delta < c.MinDelta {
			c.MinDelta = e.Delta
		}
		if e.Delta > c.MaxDelta {
			c.MaxDelta = e.Delta
		}
	}
	c.Entries = append(c.Entries, e)
	c.TotalMatches += e.Count
}

// SortedEntries flattens a histogram by count descending, ties by delta
// ascending.
func SortedEntries(hist map[int32]int) []DeltaCount {
	entries := make([]DeltaCount, 0, len(hist))
	for d, n := range hist {
		entries = append(entries, DeltaCount{Delta: d, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Delta < entries[j].Delta
	})
	return entries
}

// BuildClusters groups hist into alignment clusters with first-fit packing:
// each entry, strongest first, joins the first cluster that can absorb it
// without exceeding maxSpread, or opens a new one. The result is
// deterministic but not an optimal packing.
func BuildClusters(hist map[int32]int, maxSpread int32) []Cluster {
	var clusters []Cluster
	for _, e := range SortedEntries(hist) {
		placed := false
		for i := range clusters {
			if clusters[i].accepts(e.Delta, maxSpread) {
				clusters[i].add(e)
				placed = true
				break
			}
		}
		if !placed {
			var c Cluster
			c.add(e)
			clusters = append(clusters, c)
		}
	}
	return clusters
}
