package fingerprint

import (
	"sort"
)

// Peak is a locally dominant frequency bin of one frame.
type Peak struct {
	FreqBin   int
	TimeMs    int32
	Magnitude float64
}

// magnitudeKey quantizes a magnitude to 1e-4 for ranking. Peaks whose
// magnitudes agree at that resolution keep ascending bin order.
func magnitudeKey(m float64) int64 {
	return int64(m * 10000)
}

// ExtractPeaks returns the strongest local maxima of one frame, strongest
// first. A bin qualifies when it lies in [MinFreqBin, MaxFreqBin), reaches
// MagnitudeFloor and is strictly greater than every other bin within
// Neighborhood bins on either side.
func ExtractPeaks(frame Frame, cfg Config) []Peak {
	mags := frame.Magnitudes
	nBins := len(mags)
	if nBins == 0 || cfg.PeaksPerFrame <= 0 {
		return nil
	}

	upper := minInt(cfg.MaxFreqBin, nBins-cfg.Neighborhood)
	candidates := make([]Peak, 0, 16)

	for i := cfg.MinFreqBin; i < upper; i++ {
		m := mags[i]
		if m < cfg.MagnitudeFloor {
			continue
		}
		if !isStrictLocalMax(mags, i, cfg.Neighborhood) {
			continue
		}
		candidates = append(candidates, Peak{FreqBin: i, TimeMs: frame.TimeMs, Magnitude: m})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return magnitudeKey(candidates[a].Magnitude) > magnitudeKey(candidates[b].Magnitude)
	})

	if len(candidates) > cfg.PeaksPerFrame {
		candidates = candidates[:cfg.PeaksPerFrame]
	}
	return candidates
}

// isStrictLocalMax reports whether mags[i] beats every neighbor within radius.
// An equal neighbor disqualifies the bin.
func isStrictLocalMax(mags []float64, i, radius int) bool {
	lo := maxInt(0, i-radius)
	hi := minInt(len(mags)-1, i+radius)
	for j := lo; j <= hi; j++ {
		if j != i && mags[j] >= mags[i] {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
