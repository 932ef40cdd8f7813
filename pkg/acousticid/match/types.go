package match

import (
	"github.com/himanishpuri/acousticid/pkg/models"
)

// Config holds the clustering, scoring and gating thresholds.
type Config struct {
	// Clustering
	MaxSpreadMs int32 // widest delta range a cluster may cover

	// Scoring
	MinClusterSize    int // secondary clusters below this contribute nothing
	SecondaryClusters int // how many clusters after the primary may contribute

	// Gate
	MinAlignedMatches  int
	MinNormalizedScore float64
	MinFinalScore      float64
	MinRelativeRatio   float64 // best.final must reach second.final times this
	MinMatchRatio      float64 // aligned / query fingerprints

	// Pipeline
	LookupBatchSize int
	AnalysisLimit   int // scored candidates reported in Result.Candidates
	Workers         int // <= 0 means GOMAXPROCS
}

func DefaultConfig() Config {
	return Config{
		MaxSpreadMs:        150,
		MinClusterSize:     3,
		SecondaryClusters:  2,
		MinAlignedMatches:  8,
		MinNormalizedScore: 0.00004,
		MinFinalScore:      100.0,
		MinRelativeRatio:   1.3,
		MinMatchRatio:      0.0002,
		LookupBatchSize:    500,
		AnalysisLimit:      10,
	}
}

// Candidate is the vote state of one song during a single match request.
type Candidate struct {
	SongID     uint32
	Histogram  map[int32]int // song offset - clip offset -> votes
	TotalVotes int
	Song       *models.Song // nil when metadata could not be fetched
}

func newCandidate(id uint32) *Candidate {
	return &Candidate{SongID: id, Histogram: make(map[int32]int)}
}

func (c *Candidate) vote(delta int32) {
	c.Histogram[delta]++
	c.TotalVotes++
}

// Score is the full metric set of one candidate.
type Score struct {
	SongID uint32 `json:"song_id"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`

	AlignedMatches  int     `json:"aligned_matches"`
	TotalVotes      int     `json:"total_votes"`
	NormalizedScore float64 `json:"normalized_score"`
	AvgTightness    float64 `json:"avg_tightness"`
	QualityScore    float64 `json:"quality_score"`
	DensityScore    float64 `json:"density_score"`
	AvgMatchesPerFP float64 `json:"avg_matches_per_fp"`
	UniquenessScore float64 `json:"uniqueness_score"`
	FinalScore      float64 `json:"final_score"`

	CorpusFingerprints int   `json:"corpus_fingerprints"`
	ClusterCount       int   `json:"cluster_count"`
	PrimaryClusterSize int   `json:"primary_cluster_size"`
	BestOffsetMs       int32 `json:"best_offset_ms"`
}

// Scores is the compact score summary reported with every result.
type Scores struct {
	Aligned    int     `json:"aligned"`
	Normalized float64 `json:"normalized"`
	Final      float64 `json:"final"`
	MatchRatio float64 `json:"match_ratio"`
	Quality    float64 `json:"quality"`
}

// Result is the outcome of one match request. A rejected or empty match is
// a normal Result with Matched == false and at least one reason.
type Result struct {
	Matched bool         `json:"matched"`
	SongID  uint32       `json:"song_id,omitempty"`
	Title   string       `json:"title,omitempty"`
	Artist  string       `json:"artist,omitempty"`
	Song    *models.Song `json:"-"`

	// Scores describe the top-ranked candidate, accepted or not.
	Scores          Scores   `json:"scores"`
	SecondBestFinal float64  `json:"second_best_final"`
	Reasons         []string `json:"reasons"`

	Candidates        []Score `json:"candidates,omitempty"`
	QueryFingerprints int     `json:"query_fingerprints"`
	TotalVotes        int     `json:"total_votes"`
	RequestID         string  `json:"request_id"`
}
