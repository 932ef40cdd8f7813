package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/acousticid/pkg/models"
)

type opener func(t *testing.T) Index

func backends() map[string]opener {
	b := map[string]opener{
		BackendMemory: func(t *testing.T) Index { return NewMemory() },
		BackendSQLite: func(t *testing.T) Index {
			idx, err := OpenSQLite(filepath.Join(t.TempDir(), "test_acousticid.sqlite3"))
			require.NoError(t, err)
			return idx
		},
		BackendBadger: func(t *testing.T) Index {
			idx, err := OpenBadgerInMemory()
			require.NoError(t, err)
			return idx
		},
	}
	if dsn := os.Getenv("ACOUSTICID_TEST_POSTGRES_DSN"); dsn != "" {
		b[BackendPostgres] = func(t *testing.T) Index {
			idx, err := OpenPostgres(dsn)
			require.NoError(t, err)
			wipe(t, idx)
			return idx
		}
	}
	if uri := os.Getenv("ACOUSTICID_TEST_MONGO_URI"); uri != "" {
		b[BackendMongo] = func(t *testing.T) Index {
			idx, err := OpenMongo(context.Background(), uri, "acousticid_test_"+uuid.NewString()[:8])
			require.NoError(t, err)
			t.Cleanup(func() { idx.client.Database(idx.songs.Database().Name()).Drop(context.Background()) })
			return idx
		}
	}
	return b
}

func wipe(t *testing.T, idx Index) {
	t.Helper()
	songs, err := idx.ListSongs(context.Background())
	require.NoError(t, err)
	for _, s := range songs {
		require.NoError(t, idx.DeleteSong(context.Background(), s.ID))
	}
}

// forEachBackend runs fn against a fresh index of every available backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, idx Index)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := open(t)
			t.Cleanup(func() { idx.Close() })
			fn(t, idx)
		})
	}
}

func sortPostings(ps []models.Posting) []models.Posting {
	out := append([]models.Posting(nil), ps...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SongID != out[j].SongID {
			return out[i].SongID < out[j].SongID
		}
		return out[i].OffsetMs < out[j].OffsetMs
	})
	return out
}

func register(t *testing.T, idx Index, title, artist string) uint32 {
	t.Helper()
	id, err := idx.RegisterSong(context.Background(), models.Song{Title: title, Artist: artist, DurationMs: 180000})
	require.NoError(t, err)
	require.NotZero(t, id)
	return id
}

func TestRegisterSong(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		ctx := context.Background()

		a := register(t, idx, "Blue Room", "Lanterns")
		again := register(t, idx, "Blue Room", "Lanterns")
		b := register(t, idx, "Blue Room", "Other Band")

		assert.Equal(t, a, again)
		assert.NotEqual(t, a, b)

		song, err := idx.GetSong(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "Blue Room", song.Title)
		assert.Equal(t, "Lanterns", song.Artist)
		assert.Equal(t, 180000, song.DurationMs)
		assert.False(t, song.CreatedAt.IsZero())

		_, err = idx.GetSong(ctx, 987654)
		assert.ErrorIs(t, err, ErrSongNotFound)

		songs, err := idx.ListSongs(ctx)
		require.NoError(t, err)
		require.Len(t, songs, 2)
		assert.Less(t, songs[0].ID, songs[1].ID)

		n, err := idx.TotalSongs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestPutManyAndLookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		ctx := context.Background()
		s1 := register(t, idx, "One", "A")
		s2 := register(t, idx, "Two", "B")

		require.NoError(t, idx.PutMany(ctx, s1, []models.Fingerprint{
			{Hash: 100, AnchorTimeMs: 0},
			{Hash: 100, AnchorTimeMs: 500},
			{Hash: 200, AnchorTimeMs: 500},
			{Hash: 300, AnchorTimeMs: 900},
			{Hash: 300, AnchorTimeMs: 900}, // repeated posting keeps its multiplicity
		}))
		require.NoError(t, idx.PutMany(ctx, s2, []models.Fingerprint{
			{Hash: 100, AnchorTimeMs: 42},
		}))

		ps, err := idx.Get(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, []models.Posting{{SongID: s1, OffsetMs: 0}, {SongID: s1, OffsetMs: 500}, {SongID: s2, OffsetMs: 42}}, sortPostings(ps))

		many, err := idx.GetMany(ctx, []uint32{100, 300, 999})
		require.NoError(t, err)
		assert.Len(t, many, 2)
		assert.Equal(t, []models.Posting{{SongID: s1, OffsetMs: 900}, {SongID: s1, OffsetMs: 900}}, many[300])
		assert.NotContains(t, many, uint32(999))

		empty, err := idx.Get(ctx, 999)
		require.NoError(t, err)
		assert.Empty(t, empty)

		counts, err := idx.FingerprintCounts(ctx, []uint32{s1, s2, 5555})
		require.NoError(t, err)
		assert.Equal(t, map[uint32]int{s1: 5, s2: 1}, counts)

		total, err := idx.TotalFingerprints(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, total)
	})
}

func TestPutManyReplaces(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		ctx := context.Background()
		s1 := register(t, idx, "One", "A")

		fps := []models.Fingerprint{{Hash: 1, AnchorTimeMs: 10}, {Hash: 2, AnchorTimeMs: 20}}
		require.NoError(t, idx.PutMany(ctx, s1, fps))
		require.NoError(t, idx.PutMany(ctx, s1, fps))

		total, err := idx.TotalFingerprints(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		ps, err := idx.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []models.Posting{{SongID: s1, OffsetMs: 10}}, ps)

		require.NoError(t, idx.PutMany(ctx, s1, []models.Fingerprint{{Hash: 3, AnchorTimeMs: 30}}))

		ps, err = idx.Get(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, ps)

		counts, err := idx.FingerprintCounts(ctx, []uint32{s1})
		require.NoError(t, err)
		assert.Equal(t, 1, counts[s1])
	})
}

func TestPutManyUnknownSong(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		err := idx.PutMany(context.Background(), 4242, []models.Fingerprint{{Hash: 1}})
		assert.ErrorIs(t, err, ErrSongNotFound)
	})
}

func TestDeleteSong(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		ctx := context.Background()
		s1 := register(t, idx, "One", "A")
		s2 := register(t, idx, "Two", "B")
		require.NoError(t, idx.PutMany(ctx, s1, []models.Fingerprint{{Hash: 7, AnchorTimeMs: 1}}))
		require.NoError(t, idx.PutMany(ctx, s2, []models.Fingerprint{{Hash: 7, AnchorTimeMs: 2}}))

		require.NoError(t, idx.DeleteSong(ctx, s1))

		ps, err := idx.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []models.Posting{{SongID: s2, OffsetMs: 2}}, ps)

		_, err = idx.GetSong(ctx, s1)
		assert.ErrorIs(t, err, ErrSongNotFound)
		assert.ErrorIs(t, idx.DeleteSong(ctx, s1), ErrSongNotFound)

		n, err := idx.TotalSongs(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// the title is free again
		s3 := register(t, idx, "One", "A")
		assert.NotEqual(t, s2, s3)
	})
}

func TestConcurrentReadsSeeWholeSongs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, idx Index) {
		ctx := context.Background()
		id := register(t, idx, "Loop", "Writer")

		const n = 50
		version := func(base int32) []models.Fingerprint {
			fps := make([]models.Fingerprint, n)
			for i := range fps {
				fps[i] = models.Fingerprint{Hash: 77, AnchorTimeMs: base + int32(i)}
			}
			return fps
		}
		require.NoError(t, idx.PutMany(ctx, id, version(0)))

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan string, 16)
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					ps, err := idx.Get(ctx, 77)
					if err != nil {
						errs <- err.Error()
						return
					}
					if len(ps) != 0 && len(ps) != n {
						errs <- "partial song visible"
						return
					}
				}
			}()
		}

		for v := int32(1); v <= 5; v++ {
			require.NoError(t, idx.PutMany(ctx, id, version(v*1000)))
		}
		close(stop)
		wg.Wait()
		close(errs)
		for e := range errs {
			t.Error(e)
		}

		ps, err := idx.Get(ctx, 77)
		require.NoError(t, err)
		require.Len(t, ps, n)
		assert.Equal(t, int32(5000), sortPostings(ps)[0].OffsetMs)
	})
}

func TestOpen(t *testing.T) {
	idx, err := Open(context.Background(), Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, idx)

	idx, err = Open(context.Background(), Options{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "sub", "db.sqlite3")})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = Open(context.Background(), Options{Backend: BackendBadger, Path: filepath.Join(t.TempDir(), "badger")})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = Open(context.Background(), Options{Backend: "cassandra"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
