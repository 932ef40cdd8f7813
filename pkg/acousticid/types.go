package acousticid

import (
	"github.com/himanishpuri/acousticid/pkg/acousticid/match"
	"github.com/himanishpuri/acousticid/pkg/models"
)

// MatchResult is the outcome of one identification request.
type MatchResult = match.Result

// Song represents a song entry in the corpus.
type Song = models.Song

// DiagnoseProbeSize is the number of distinct query hashes Diagnose probes.
const DiagnoseProbeSize = 20

// Diagnostics describes how a query relates to the corpus.
type Diagnostics struct {
	models.CorpusStats
	QueryFingerprints int    `json:"query_fingerprints"`
	ProbedHashes      int    `json:"probed_hashes"`
	HashesWithHits    int    `json:"hashes_with_hits"`
	Postings          int    `json:"postings"`
	HashScheme        string `json:"hash_scheme"`
}
