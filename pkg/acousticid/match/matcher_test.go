package match

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/acousticid/pkg/logger"
	"github.com/himanishpuri/acousticid/pkg/models"
)

type fakeIndex struct {
	postings   map[uint32][]models.Posting
	songs      map[uint32]*models.Song
	counts     map[uint32]int
	failMany   bool
	failHashes map[uint32]bool
	failCounts bool

	mu           sync.Mutex
	getManyCalls int
	getCalls     int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		postings:   make(map[uint32][]models.Posting),
		songs:      make(map[uint32]*models.Song),
		counts:     make(map[uint32]int),
		failHashes: make(map[uint32]bool),
	}
}

func (f *fakeIndex) add(song uint32, hash uint32, offset int32) {
	f.postings[hash] = append(f.postings[hash], models.Posting{SongID: song, OffsetMs: offset})
	f.counts[song]++
}

func (f *fakeIndex) Get(_ context.Context, hash uint32) ([]models.Posting, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if f.failHashes[hash] {
		return nil, errors.New("lookup failed")
	}
	return f.postings[hash], nil
}

func (f *fakeIndex) GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error) {
	f.mu.Lock()
	f.getManyCalls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failMany {
		return nil, errors.New("batch failed")
	}
	out := make(map[uint32][]models.Posting)
	for _, h := range hashes {
		if ps, ok := f.postings[h]; ok {
			out[h] = ps
		}
	}
	return out, nil
}

func (f *fakeIndex) GetSong(_ context.Context, id uint32) (*models.Song, error) {
	s, ok := f.songs[id]
	if !ok {
		return nil, errors.New("song not found")
	}
	return s, nil
}

func (f *fakeIndex) FingerprintCounts(_ context.Context, ids []uint32) (map[uint32]int, error) {
	if f.failCounts {
		return nil, errors.New("counts failed")
	}
	out := make(map[uint32]int, len(ids))
	for _, id := range ids {
		out[id] = f.counts[id]
	}
	return out, nil
}

// corpus builds an index with song 1 holding hashes 1..n at 10 ms steps
// starting at 5000 ms, and song 2 holding a scattered subset of them.
func corpus(n int) *fakeIndex {
	idx := newFakeIndex()
	idx.songs[1] = &models.Song{ID: 1, Title: "Harbor Lights", Artist: "The Pilots"}
	idx.songs[2] = &models.Song{ID: 2, Title: "Static", Artist: "Noise Unit"}
	rng := rand.New(rand.NewSource(1))
	for i := 1; i <= n; i++ {
		idx.add(1, uint32(i), int32(5000+i*10))
		if i%5 == 0 {
			idx.add(2, uint32(i), int32(rng.Intn(60000)))
		}
	}
	// padding so corpus counts resemble whole songs
	for i := 0; i < 900; i++ {
		idx.add(1, uint32(100000+i), int32(i))
		idx.add(2, uint32(200000+i), int32(i))
	}
	return idx
}

func queryFor(n int) []models.Fingerprint {
	q := make([]models.Fingerprint, n)
	for i := range q {
		q[i] = models.Fingerprint{Hash: uint32(i + 1), AnchorTimeMs: int32((i + 1) * 10)}
	}
	return q
}

func newTestMatcher(idx Index, mutate func(*Config)) *Matcher {
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewMatcher(idx, cfg, logger.Discard())
}

func TestMatchAcceptsAlignedSong(t *testing.T) {
	idx := corpus(100)
	m := newTestMatcher(idx, func(c *Config) { c.LookupBatchSize = 7 })

	res, err := m.Match(context.Background(), queryFor(100))
	require.NoError(t, err)

	require.True(t, res.Matched, "reasons: %v", res.Reasons)
	assert.Equal(t, uint32(1), res.SongID)
	assert.Equal(t, "Harbor Lights", res.Title)
	require.NotNil(t, res.Song)
	assert.Empty(t, res.Reasons)
	assert.Equal(t, 100, res.Scores.Aligned)
	assert.GreaterOrEqual(t, res.Scores.Final, 100.0)
	assert.InDelta(t, 1.0, res.Scores.MatchRatio, 1e-12)
	assert.Equal(t, 120, res.TotalVotes)
	assert.Equal(t, 100, res.QueryFingerprints)
	assert.NotEmpty(t, res.RequestID)

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, uint32(1), res.Candidates[0].SongID)
	assert.Equal(t, int32(5000), res.Candidates[0].BestOffsetMs)
	assert.Equal(t, res.Candidates[1].FinalScore, res.SecondBestFinal)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	assert.Equal(t, 15, idx.getManyCalls, "100 hashes in batches of 7")
}

func TestMatchNoFingerprints(t *testing.T) {
	res, err := newTestMatcher(newFakeIndex(), nil).Match(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, res.Matched)
	require.Len(t, res.Reasons, 1)
	assert.True(t, strings.HasPrefix(res.Reasons[0], "no candidates"))
	assert.Contains(t, res.Reasons[0], "no fingerprints")
}

func TestMatchNoPostings(t *testing.T) {
	res, err := newTestMatcher(corpus(10), nil).Match(context.Background(), []models.Fingerprint{{Hash: 999999, AnchorTimeMs: 0}})
	require.NoError(t, err)

	assert.False(t, res.Matched)
	require.Len(t, res.Reasons, 1)
	assert.True(t, strings.HasPrefix(res.Reasons[0], "no candidates"))
	assert.Empty(t, res.Candidates)
}

func TestMatchRejectsWeakEvidence(t *testing.T) {
	res, err := newTestMatcher(corpus(100), nil).Match(context.Background(), queryFor(4))
	require.NoError(t, err)

	assert.False(t, res.Matched)
	assert.Zero(t, res.SongID)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "Alignment score too low")
	assert.Equal(t, 4, res.Scores.Aligned)
}

func TestMatchBatchFailureFallsBackToSingleLookups(t *testing.T) {
	idx := corpus(60)
	idx.failMany = true
	idx.failHashes[3] = true
	idx.failHashes[4] = true

	res, err := newTestMatcher(idx, nil).Match(context.Background(), queryFor(60))
	require.NoError(t, err)

	require.True(t, res.Matched, "reasons: %v", res.Reasons)
	assert.Equal(t, uint32(1), res.SongID)
	assert.Equal(t, 58, res.Scores.Aligned, "failed hashes count as no postings")

	idx.mu.Lock()
	defer idx.mu.Unlock()
	assert.Equal(t, 60, idx.getCalls)
}

func TestMatchCountFailureBlocksAcceptance(t *testing.T) {
	idx := corpus(100)
	idx.failCounts = true

	res, err := newTestMatcher(idx, nil).Match(context.Background(), queryFor(100))
	require.NoError(t, err)

	assert.False(t, res.Matched)
	assert.Zero(t, res.SongID)
	require.NotEmpty(t, res.Reasons)
	assert.Equal(t, "corpus fingerprint counts unavailable", res.Reasons[len(res.Reasons)-1])
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, uint32(1), res.Candidates[0].SongID)
	assert.Zero(t, res.Candidates[0].CorpusFingerprints)
}

func TestMatchMissingSongMetadata(t *testing.T) {
	idx := corpus(100)
	delete(idx.songs, 1)

	res, err := newTestMatcher(idx, nil).Match(context.Background(), queryFor(100))
	require.NoError(t, err)

	assert.True(t, res.Matched)
	assert.Equal(t, uint32(1), res.SongID)
	assert.Nil(t, res.Song)
	assert.Empty(t, res.Title)
}

func TestMatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestMatcher(corpus(100), nil).Match(ctx, queryFor(100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregateOrderIndependent(t *testing.T) {
	idx := corpus(80)
	m := newTestMatcher(idx, nil)
	query := queryFor(80)

	want, wantVotes, err := m.Aggregate(context.Background(), "a", query)
	require.NoError(t, err)

	shuffled := append([]models.Fingerprint(nil), query...)
	rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for h, ps := range idx.postings {
		rev := make([]models.Posting, len(ps))
		for i := range ps {
			rev[len(ps)-1-i] = ps[i]
		}
		idx.postings[h] = rev
	}

	got, gotVotes, err := m.Aggregate(context.Background(), "b", shuffled)
	require.NoError(t, err)

	assert.Equal(t, wantVotes, gotVotes)
	require.Len(t, got, len(want))
	for id, c := range want {
		assert.Equal(t, c.Histogram, got[id].Histogram)
		assert.Equal(t, c.TotalVotes, got[id].TotalVotes)
	}
}

func TestUniqueHashes(t *testing.T) {
	q := []models.Fingerprint{{Hash: 5}, {Hash: 3}, {Hash: 5}, {Hash: 9}, {Hash: 3}}
	assert.Equal(t, []uint32{5, 3, 9}, uniqueHashes(q))
}
