package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/himanishpuri/acousticid/pkg/models"
)

// Memory is an in-process index. Writes swap a song's postings under the
// write lock, so readers never observe a half-written song.
type Memory struct {
	mu       sync.RWMutex
	nextID   uint32
	songs    map[uint32]models.Song
	byKey    map[string]uint32
	postings map[uint32][]models.Posting
	hashes   map[uint32][]uint32 // song -> distinct hashes it holds
	counts   map[uint32]int
	total    int
}

func NewMemory() *Memory {
	return &Memory{
		songs:    make(map[uint32]models.Song),
		byKey:    make(map[string]uint32),
		postings: make(map[uint32][]models.Posting),
		hashes:   make(map[uint32][]uint32),
		counts:   make(map[uint32]int),
	}
}

func (m *Memory) RegisterSong(_ context.Context, song models.Song) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := songKey(song.Title, song.Artist)
	if id, ok := m.byKey[key]; ok {
		return id, nil
	}
	m.nextID++
	song.ID = m.nextID
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now().UTC()
	}
	m.songs[song.ID] = song
	m.byKey[key] = song.ID
	return song.ID, nil
}

func (m *Memory) PutMany(_ context.Context, songID uint32, fps []models.Fingerprint) error {
	add := make(map[uint32][]models.Posting)
	for _, fp := range fps {
		add[fp.Hash] = append(add[fp.Hash], models.Posting{SongID: songID, OffsetMs: fp.AnchorTimeMs})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.songs[songID]; !ok {
		return ErrSongNotFound
	}
	m.removePostingsLocked(songID)

	hashes := make([]uint32, 0, len(add))
	for h, ps := range add {
		m.postings[h] = append(m.postings[h], ps...)
		hashes = append(hashes, h)
	}
	m.hashes[songID] = hashes
	m.counts[songID] = len(fps)
	m.total += len(fps)
	return nil
}

func (m *Memory) removePostingsLocked(songID uint32) {
	for _, h := range m.hashes[songID] {
		kept := m.postings[h][:0:0]
		for _, p := range m.postings[h] {
			if p.SongID != songID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.postings, h)
		} else {
			m.postings[h] = kept
		}
	}
	m.total -= m.counts[songID]
	delete(m.hashes, songID)
	delete(m.counts, songID)
}

func (m *Memory) Get(_ context.Context, hash uint32) ([]models.Posting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Posting(nil), m.postings[hash]...), nil
}

func (m *Memory) GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint32][]models.Posting, len(hashes))
	for _, h := range hashes {
		if ps, ok := m.postings[h]; ok {
			out[h] = append([]models.Posting(nil), ps...)
		}
	}
	return out, nil
}

func (m *Memory) FingerprintCounts(_ context.Context, songIDs []uint32) (map[uint32]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint32]int, len(songIDs))
	for _, id := range songIDs {
		if n, ok := m.counts[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (m *Memory) TotalSongs(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.songs), nil
}

func (m *Memory) TotalFingerprints(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, nil
}

func (m *Memory) GetSong(_ context.Context, id uint32) (*models.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.songs[id]
	if !ok {
		return nil, ErrSongNotFound
	}
	return &s, nil
}

func (m *Memory) ListSongs(context.Context) ([]models.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Song, 0, len(m.songs))
	for _, s := range m.songs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteSong(_ context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.songs[id]
	if !ok {
		return ErrSongNotFound
	}
	m.removePostingsLocked(id)
	delete(m.songs, id)
	delete(m.byKey, songKey(s.Title, s.Artist))
	return nil
}

func (m *Memory) Close() error { return nil }
