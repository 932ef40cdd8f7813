package match

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticid/pkg/models"
)

// Index is the part of the fingerprint index the matcher reads.
type Index interface {
	Get(ctx context.Context, hash uint32) ([]models.Posting, error)
	GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error)
	GetSong(ctx context.Context, id uint32) (*models.Song, error)
	FingerprintCounts(ctx context.Context, songIDs []uint32) (map[uint32]int, error)
}

// uniqueHashes returns the distinct hashes of query in first-seen order.
func uniqueHashes(query []models.Fingerprint) []uint32 {
	seen := make(map[uint32]struct{}, len(query))
	out := make([]uint32, 0, len(query))
	for _, fp := range query {
		if _, ok := seen[fp.Hash]; ok {
			continue
		}
		seen[fp.Hash] = struct{}{}
		out = append(out, fp.Hash)
	}
	return out
}

// lookup fetches postings for hashes in batches. A failed batch is retried
// hash by hash; a hash that still fails is logged and has no postings.
func (m *Matcher) lookup(ctx context.Context, reqID string, hashes []uint32) (map[uint32][]models.Posting, error) {
	batch := m.cfg.LookupBatchSize
	if batch <= 0 {
		batch = len(hashes)
	}

	var mu sync.Mutex
	postings := make(map[uint32][]models.Posting)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers())
	for start := 0; start < len(hashes); start += batch {
		end := start + batch
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]

		g.Go(func() error {
			found, err := m.index.GetMany(gctx, chunk)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.log.Warnf("[%s] batch lookup of %d hashes failed, retrying individually: %v", reqID, len(chunk), err)
				found = m.lookupEach(gctx, reqID, chunk)
			}
			mu.Lock()
			for h, ps := range found {
				postings[h] = ps
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return postings, nil
}

func (m *Matcher) lookupEach(ctx context.Context, reqID string, hashes []uint32) map[uint32][]models.Posting {
	found := make(map[uint32][]models.Posting, len(hashes))
	for _, h := range hashes {
		if ctx.Err() != nil {
			break
		}
		ps, err := m.index.Get(ctx, h)
		if err != nil {
			m.log.Warnf("[%s] failed to get postings for hash %d: %v", reqID, h, err)
			continue
		}
		if len(ps) > 0 {
			found[h] = ps
		}
	}
	return found
}

// Aggregate looks up every query hash and tallies offset-delta votes per
// song. It returns the candidates keyed by song id and the total vote count.
func (m *Matcher) Aggregate(ctx context.Context, reqID string, query []models.Fingerprint) (map[uint32]*Candidate, int, error) {
	hashes := uniqueHashes(query)
	postings, err := m.lookup(ctx, reqID, hashes)
	if err != nil {
		return nil, 0, err
	}
	m.log.Debugf("[%s] %d of %d distinct hashes have postings", reqID, len(postings), len(hashes))

	candidates := make(map[uint32]*Candidate)
	total := 0
	for _, fp := range query {
		for _, p := range postings[fp.Hash] {
			c, ok := candidates[p.SongID]
			if !ok {
				c = newCandidate(p.SongID)
				c.Song = m.songMeta(ctx, reqID, p.SongID)
				candidates[p.SongID] = c
			}
			c.vote(p.OffsetMs - fp.AnchorTimeMs)
			total++
		}
	}
	return candidates, total, nil
}

func (m *Matcher) songMeta(ctx context.Context, reqID string, id uint32) *models.Song {
	song, err := m.index.GetSong(ctx, id)
	if err != nil {
		m.log.Warnf("[%s] failed to get song %d: %v", reqID, id, err)
		return nil
	}
	return song
}
