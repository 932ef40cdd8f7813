package match

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ScoreCandidate clusters c's votes and computes its metrics. corpusCount is
// the number of fingerprints stored for the song; queryCount the number of
// query fingerprints.
func ScoreCandidate(c *Candidate, corpusCount, queryCount int, cfg Config) Score {
	clusters := BuildClusters(c.Histogram, cfg.MaxSpreadMs)
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].QualityScore() > clusters[j].QualityScore()
	})

	aligned := 0
	totalQuality := 0.0
	tightness := make([]float64, len(clusters))
	for i := range clusters {
		tightness[i] = clusters[i].Tightness()
	}

	s := Score{SongID: c.SongID, TotalVotes: c.TotalVotes, ClusterCount: len(clusters), CorpusFingerprints: corpusCount}
	if c.Song != nil {
		s.Title, s.Artist = c.Song.Title, c.Song.Artist
	}

	if len(clusters) > 0 {
		primary := &clusters[0]
		aligned = primary.TotalMatches
		totalQuality = primary.QualityScore()
		s.PrimaryClusterSize = primary.TotalMatches
		s.BestOffsetMs = primary.Entries[0].Delta

		for rank := 1; rank <= cfg.SecondaryClusters && rank < len(clusters); rank++ {
			cl := &clusters[rank]
			if cl.TotalMatches < cfg.MinClusterSize {
				continue
			}
			w := 1.0 / float64(rank+1)
			// aligned stays integral; quality keeps the fraction
			aligned += int(float64(cl.TotalMatches) * w)
			totalQuality += cl.QualityScore() * w
		}
	}

	applyMetrics(&s, aligned, totalQuality, tightness, queryCount)
	return s
}

// applyMetrics fills the derived scores of s. Every denominator that can be
// zero is clamped to 1.
func applyMetrics(s *Score, aligned int, totalQuality float64, tightness []float64, queryCount int) {
	s.AlignedMatches = aligned

	corpus := maxInt(1, s.CorpusFingerprints)
	clusterCount := maxInt(1, len(tightness))

	s.NormalizedScore = float64(aligned) / float64(corpus)
	if len(tightness) > 0 {
		s.AvgTightness = stat.Mean(tightness, nil)
	}
	s.QualityScore = totalQuality / float64(clusterCount) * s.AvgTightness
	s.DensityScore = float64(aligned) / float64(maxInt(1, queryCount))
	s.AvgMatchesPerFP = float64(s.TotalVotes) / float64(maxInt(1, aligned))
	s.UniquenessScore = math.Max(0.1, 1.0/math.Log(s.AvgMatchesPerFP+1))

	s.FinalScore = s.NormalizedScore * 1_000_000 *
		(1 + s.QualityScore*2.0) *
		(1 + s.DensityScore*1.5) *
		(1 + s.UniquenessScore) *
		math.Min(2.0, math.Log10(float64(aligned)+1))
}

// Rank orders scores by FinalScore descending; equal scores go to the lower
// song id.
func Rank(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].FinalScore != scores[j].FinalScore {
			return scores[i].FinalScore > scores[j].FinalScore
		}
		return scores[i].SongID < scores[j].SongID
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
