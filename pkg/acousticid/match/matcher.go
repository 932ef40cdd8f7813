// Package match turns query fingerprints into a confidence-gated
// identification: postings are looked up in the index, offset deltas are
// voted per song, votes are grouped into alignment clusters, and each
// candidate is scored and ranked before the gate decides.
package match

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticid/pkg/logger"
	"github.com/himanishpuri/acousticid/pkg/models"
)

// Logger is the logging surface the matcher needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Matcher runs match requests against an index. It holds no per-request
// state and is safe for concurrent use.
type Matcher struct {
	index Index
	cfg   Config
	log   Logger
}

// NewMatcher returns a Matcher. A nil log uses the process-wide logger.
func NewMatcher(index Index, cfg Config, log Logger) *Matcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Matcher{index: index, cfg: cfg, log: log}
}

func (m *Matcher) Config() Config { return m.cfg }

func (m *Matcher) workers() int {
	if m.cfg.Workers > 0 {
		return m.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Match identifies query. The returned error is non-nil only when ctx ends
// before the pipeline completes; "no match" is reported through Result.
func (m *Matcher) Match(ctx context.Context, query []models.Fingerprint) (*Result, error) {
	res := &Result{
		RequestID:         uuid.NewString(),
		QueryFingerprints: len(query),
		Reasons:           []string{},
	}
	if len(query) == 0 {
		res.Reasons = append(res.Reasons, reasonNoFingerprints)
		return res, nil
	}

	candidates, totalVotes, err := m.Aggregate(ctx, res.RequestID, query)
	if err != nil {
		return nil, fmt.Errorf("candidate aggregation failed: %w", err)
	}
	res.TotalVotes = totalVotes
	m.log.Debugf("[%s] %d query fingerprints, %d votes across %d songs", res.RequestID, len(query), totalVotes, len(candidates))

	if len(candidates) == 0 {
		res.Reasons = append(res.Reasons, reasonNoPostings)
		return res, nil
	}

	scores, countsOK, err := m.scoreAll(ctx, res.RequestID, candidates, len(query))
	if err != nil {
		return nil, fmt.Errorf("candidate scoring failed: %w", err)
	}
	Rank(scores)

	best := scores[0]
	res.Scores = Scores{
		Aligned:    best.AlignedMatches,
		Normalized: best.NormalizedScore,
		Final:      best.FinalScore,
		MatchRatio: float64(best.AlignedMatches) / float64(len(query)),
		Quality:    best.QualityScore,
	}
	if len(scores) > 1 {
		res.SecondBestFinal = scores[1].FinalScore
	}

	limit := m.cfg.AnalysisLimit
	if limit > len(scores) {
		limit = len(scores)
	}
	if limit > 0 {
		res.Candidates = append([]Score(nil), scores[:limit]...)
	}

	accepted, reasons := Decide(scores, len(query), m.cfg)
	if !countsOK {
		// normalized scores are meaningless without corpus counts
		accepted = false
		reasons = append(reasons, reasonNoCounts)
	}
	if !accepted {
		res.Reasons = append(res.Reasons, reasons...)
		m.log.Infof("[%s] no match: best song %d final=%.2f aligned=%d (%d reasons)",
			res.RequestID, best.SongID, best.FinalScore, best.AlignedMatches, len(reasons))
		return res, nil
	}

	res.Matched = true
	res.SongID = best.SongID
	res.Title = best.Title
	res.Artist = best.Artist
	res.Song = candidates[best.SongID].Song
	m.log.Infof("[%s] matched song %d (%s) final=%.2f aligned=%d",
		res.RequestID, best.SongID, best.Title, best.FinalScore, best.AlignedMatches)
	return res, nil
}

// scoreAll fetches corpus fingerprint counts in one batch and scores every
// candidate in parallel. countsOK is false when the counts could not be read;
// every song is then scored against a zero count.
func (m *Matcher) scoreAll(ctx context.Context, reqID string, candidates map[uint32]*Candidate, queryCount int) (scores []Score, countsOK bool, err error) {
	ids := make([]uint32, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	countsOK = true
	counts, err := m.index.FingerprintCounts(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		m.log.Warnf("[%s] failed to get fingerprint counts, no candidate can be accepted: %v", reqID, err)
		counts = map[uint32]int{}
		countsOK = false
	}

	scores = make([]Score, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = ScoreCandidate(candidates[id], counts[id], queryCount, m.cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return scores, countsOK, nil
}
