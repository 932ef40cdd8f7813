package match

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/acousticid/pkg/models"
)

func candidateFrom(id uint32, hist map[int32]int) *Candidate {
	c := newCandidate(id)
	for d, n := range hist {
		c.Histogram[d] = n
		c.TotalVotes += n
	}
	return c
}

func TestScoreCandidateSecondaryClusters(t *testing.T) {
	c := candidateFrom(7, map[int32]int{0: 20, 1000: 5, 2000: 4, 3000: 3})
	c.Song = &models.Song{ID: 7, Title: "Tide", Artist: "Shoal"}

	s := ScoreCandidate(c, 1000, 400, DefaultConfig())

	// 20 + int(5/2) + int(4/3); the fourth cluster is past the secondary limit
	assert.Equal(t, 23, s.AlignedMatches)
	assert.Equal(t, 4, s.ClusterCount)
	assert.Equal(t, 20, s.PrimaryClusterSize)
	assert.Equal(t, int32(0), s.BestOffsetMs)
	assert.Equal(t, "Tide", s.Title)

	totalQuality := 20 + 5.0/2 + 4.0/3
	assert.InDelta(t, totalQuality/4, s.QualityScore, 1e-9)
	assert.InDelta(t, 1.0, s.AvgTightness, 1e-12)
	assert.InDelta(t, 23.0/1000, s.NormalizedScore, 1e-12)
	assert.InDelta(t, 23.0/400, s.DensityScore, 1e-12)
	assert.InDelta(t, 32.0/23, s.AvgMatchesPerFP, 1e-12)
	assert.InDelta(t, math.Max(0.1, 1/math.Log(32.0/23+1)), s.UniquenessScore, 1e-12)

	expected := s.NormalizedScore * 1e6 *
		(1 + s.QualityScore*2) *
		(1 + s.DensityScore*1.5) *
		(1 + s.UniquenessScore) *
		math.Min(2, math.Log10(24))
	assert.InDelta(t, expected, s.FinalScore, 1e-6)
}

func TestScoreCandidateSmallSecondaryIgnored(t *testing.T) {
	c := candidateFrom(1, map[int32]int{0: 20, 1000: 2})

	s := ScoreCandidate(c, 1000, 400, DefaultConfig())

	assert.Equal(t, 20, s.AlignedMatches)
	assert.Equal(t, 2, s.ClusterCount)
	assert.InDelta(t, 20.0/2, s.QualityScore, 1e-12)
}

func TestScoreCandidateZeroCorpusCount(t *testing.T) {
	c := candidateFrom(1, map[int32]int{5: 10})

	s := ScoreCandidate(c, 0, 0, DefaultConfig())

	assert.InDelta(t, 10.0, s.NormalizedScore, 1e-12)
	assert.InDelta(t, 10.0, s.DensityScore, 1e-12)
	assert.False(t, math.IsInf(s.FinalScore, 0) || math.IsNaN(s.FinalScore))
}

func TestFinalScoreMonotonicInAligned(t *testing.T) {
	prev := -1.0
	for aligned := 1; aligned <= 500; aligned++ {
		s := Score{TotalVotes: 500, CorpusFingerprints: 2000}
		applyMetrics(&s, aligned, 40, []float64{1, 0.9, 0.5}, 300)

		if s.FinalScore < prev {
			t.Fatalf("final score dropped at aligned=%d: %f < %f", aligned, s.FinalScore, prev)
		}
		prev = s.FinalScore
	}
}

func TestRankTieBreak(t *testing.T) {
	scores := []Score{
		{SongID: 9, FinalScore: 50},
		{SongID: 4, FinalScore: 80},
		{SongID: 2, FinalScore: 50},
		{SongID: 3, FinalScore: 50},
	}

	Rank(scores)

	var ids []uint32
	for _, s := range scores {
		ids = append(ids, s.SongID)
	}
	require.Equal(t, []uint32{4, 2, 3, 9}, ids)
}
