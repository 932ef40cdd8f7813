//go:build !js && !wasm

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/acousticid/pkg/models"
)

// Key layout (all integers big-endian):
//
//	h | hash | song | offset -> multiplicity   posting, scanned by hash
//	f | song | hash | offset -> multiplicity   same posting, scanned by song
//	c | song                 -> count          written last; song is live once present
//	s | song                 -> song JSON
//	t | title 0x00 artist    -> song
const (
	pfxPosting   = 'h'
	pfxSongFP    = 'f'
	pfxCount     = 'c'
	pfxSong      = 's'
	pfxTitle     = 't'
	songSequence = "q/song"
)

// Badger is an embedded key-value index. A song's postings are hidden while
// they are being rewritten: readers skip postings whose song has no count
// key, and the count key is only written after every posting is flushed.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	wmu sync.Mutex // serializes writers
}

// OpenBadger opens a Badger index rooted at dir.
func OpenBadger(dir string) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("badger backend requires a directory")
	}
	return openBadger(badger.DefaultOptions(dir).WithLogger(nil))
}

// OpenBadgerInMemory opens a Badger index that lives only in memory.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	seq, err := db.GetSequence([]byte(songSequence), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &Badger{db: db, seq: seq}, nil
}

func (b *Badger) Close() error {
	relErr := b.seq.Release()
	if err := b.db.Close(); err != nil {
		return err
	}
	return relErr
}

func songIDKey(prefix byte, id uint32) []byte {
	k := make([]byte, 5)
	k[0] = prefix
	binary.BigEndian.PutUint32(k[1:], id)
	return k
}

func hashKey(hash uint32) []byte { return songIDKey(pfxPosting, hash) }

func postingKey(hash, song uint32, offset int32) []byte {
	k := make([]byte, 13)
	k[0] = pfxPosting
	binary.BigEndian.PutUint32(k[1:], hash)
	binary.BigEndian.PutUint32(k[5:], song)
	binary.BigEndian.PutUint32(k[9:], uint32(offset))
	return k
}

func songFPKey(song, hash uint32, offset int32) []byte {
	k := make([]byte, 13)
	k[0] = pfxSongFP
	binary.BigEndian.PutUint32(k[1:], song)
	binary.BigEndian.PutUint32(k[5:], hash)
	binary.BigEndian.PutUint32(k[9:], uint32(offset))
	return k
}

func titleKey(title, artist string) []byte {
	return append([]byte{pfxTitle}, songKey(title, artist)...)
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func readUint32(item *badger.Item) (uint32, error) {
	var v uint32
	err := item.Value(func(val []byte) error {
		if len(val) != 4 {
			return fmt.Errorf("corrupt value for key %x", item.Key())
		}
		v = binary.BigEndian.Uint32(val)
		return nil
	})
	return v, err
}

func (b *Badger) RegisterSong(_ context.Context, song models.Song) (uint32, error) {
	b.wmu.Lock()
	defer b.wmu.Unlock()

	tk := titleKey(song.Title, song.Artist)
	var id uint32
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(tk)
		if err == nil {
			id, err = readUint32(item)
			return err
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		next, err := b.seq.Next()
		if err != nil {
			return fmt.Errorf("next song id: %w", err)
		}
		id = uint32(next) + 1
		song.ID = id
		if song.CreatedAt.IsZero() {
			song.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(song)
		if err != nil {
			return err
		}
		if err := txn.Set(songIDKey(pfxSong, id), data); err != nil {
			return err
		}
		return txn.Set(tk, encodeUint32(id))
	})
	if err != nil {
		return 0, fmt.Errorf("registering song: %w", err)
	}
	return id, nil
}

func (b *Badger) PutMany(_ context.Context, songID uint32, fps []models.Fingerprint) error {
	type posting struct {
		hash   uint32
		offset int32
	}
	mult := make(map[posting]uint32, len(fps))
	for _, fp := range fps {
		mult[posting{fp.Hash, fp.AnchorTimeMs}]++
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	if err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(songIDKey(pfxSong, songID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrSongNotFound
			}
			return err
		}
		return txn.Delete(songIDKey(pfxCount, songID))
	}); err != nil {
		return err
	}

	if err := b.clearPostings(songID); err != nil {
		return fmt.Errorf("clearing postings: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for p, n := range mult {
		v := encodeUint32(n)
		if err := wb.Set(postingKey(p.hash, songID, p.offset), v); err != nil {
			return err
		}
		if err := wb.Set(songFPKey(songID, p.hash, p.offset), v); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("writing postings: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(songIDKey(pfxCount, songID), encodeUint32(uint32(len(fps))))
	})
}

// clearPostings deletes both index entries of every posting of songID.
func (b *Badger) clearPostings(songID uint32) error {
	prefix := songIDKey(pfxSongFP, songID)
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		hash := binary.BigEndian.Uint32(k[5:9])
		offset := int32(binary.BigEndian.Uint32(k[9:13]))
		if err := wb.Delete(postingKey(hash, songID, offset)); err != nil {
			return err
		}
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// liveSongs reports, per song id, whether its postings are complete.
type liveSongs map[uint32]bool

func (l liveSongs) check(txn *badger.Txn, id uint32) (bool, error) {
	if ok, seen := l[id]; seen {
		return ok, nil
	}
	_, err := txn.Get(songIDKey(pfxCount, id))
	switch {
	case err == nil:
		l[id] = true
	case errors.Is(err, badger.ErrKeyNotFound):
		l[id] = false
	default:
		return false, err
	}
	return l[id], nil
}

func (b *Badger) scanHash(txn *badger.Txn, hash uint32, live liveSongs) ([]models.Posting, error) {
	prefix := hashKey(hash)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []models.Posting
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		k := item.Key()
		song := binary.BigEndian.Uint32(k[5:9])
		offset := int32(binary.BigEndian.Uint32(k[9:13]))

		ok, err := live.check(txn, song)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		n, err := readUint32(item)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < n; i++ {
			out = append(out, models.Posting{SongID: song, OffsetMs: offset})
		}
	}
	return out, nil
}

func (b *Badger) Get(ctx context.Context, hash uint32) ([]models.Posting, error) {
	m, err := b.GetMany(ctx, []uint32{hash})
	if err != nil {
		return nil, err
	}
	return m[hash], nil
}

func (b *Badger) GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error) {
	out := make(map[uint32][]models.Posting, len(hashes))
	err := b.db.View(func(txn *badger.Txn) error {
		live := make(liveSongs)
		for _, h := range hashes {
			if err := ctx.Err(); err != nil {
				return err
			}
			ps, err := b.scanHash(txn, h, live)
			if err != nil {
				return err
			}
			if len(ps) > 0 {
				out[h] = ps
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger lookup: %w", err)
	}
	return out, nil
}

func (b *Badger) FingerprintCounts(_ context.Context, songIDs []uint32) (map[uint32]int, error) {
	out := make(map[uint32]int, len(songIDs))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range songIDs {
			item, err := txn.Get(songIDKey(pfxCount, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			n, err := readUint32(item)
			if err != nil {
				return err
			}
			out[id] = int(n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger counts: %w", err)
	}
	return out, nil
}

func (b *Badger) scanPrefix(prefix byte, fn func(item *badger.Item) error) error {
	p := []byte{prefix}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := fn(it.Item()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) TotalSongs(context.Context) (int, error) {
	n := 0
	err := b.scanPrefix(pfxSong, func(*badger.Item) error {
		n++
		return nil
	})
	return n, err
}

func (b *Badger) TotalFingerprints(context.Context) (int, error) {
	total := 0
	err := b.scanPrefix(pfxCount, func(item *badger.Item) error {
		n, err := readUint32(item)
		total += int(n)
		return err
	})
	return total, err
}

func decodeSong(item *badger.Item) (models.Song, error) {
	var s models.Song
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	return s, err
}

func (b *Badger) GetSong(_ context.Context, id uint32) (*models.Song, error) {
	var song models.Song
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(songIDKey(pfxSong, id))
		if err != nil {
			return err
		}
		song, err = decodeSong(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading song: %w", err)
	}
	return &song, nil
}

func (b *Badger) ListSongs(context.Context) ([]models.Song, error) {
	var out []models.Song
	err := b.scanPrefix(pfxSong, func(item *badger.Item) error {
		s, err := decodeSong(item)
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Badger) DeleteSong(ctx context.Context, id uint32) error {
	song, err := b.GetSong(ctx, id)
	if err != nil {
		return err
	}

	b.wmu.Lock()
	defer b.wmu.Unlock()

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(songIDKey(pfxCount, id))
	}); err != nil {
		return err
	}
	if err := b.clearPostings(id); err != nil {
		return fmt.Errorf("clearing postings: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(songIDKey(pfxSong, id)); err != nil {
			return err
		}
		return txn.Delete(titleKey(song.Title, song.Artist))
	})
}
