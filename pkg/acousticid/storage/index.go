// Package storage holds the fingerprint index: a mapping from hash to the
// (song, offset) postings that carry it, plus song metadata.
package storage

import (
	"context"
	"errors"

	"github.com/himanishpuri/acousticid/pkg/models"
)

var (
	ErrSongNotFound   = errors.New("song not found")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendMongo    = "mongo"
)

const DefaultDBFile = "acousticid.sqlite3"

// Index is a fingerprint store. Implementations allow concurrent readers;
// a song whose postings are being written is invisible to readers until the
// write completes.
type Index interface {
	// RegisterSong returns the id of the song with the same title and
	// artist, creating it when absent.
	RegisterSong(ctx context.Context, song models.Song) (uint32, error)
	// PutMany replaces every posting of songID with fps.
	PutMany(ctx context.Context, songID uint32, fps []models.Fingerprint) error

	Get(ctx context.Context, hash uint32) ([]models.Posting, error)
	GetMany(ctx context.Context, hashes []uint32) (map[uint32][]models.Posting, error)
	FingerprintCounts(ctx context.Context, songIDs []uint32) (map[uint32]int, error)

	TotalSongs(ctx context.Context) (int, error)
	TotalFingerprints(ctx context.Context) (int, error)

	GetSong(ctx context.Context, id uint32) (*models.Song, error)
	ListSongs(ctx context.Context) ([]models.Song, error)
	DeleteSong(ctx context.Context, id uint32) error

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Path     string // sqlite file or badger directory
	DSN      string // postgres DSN or mongo URI
	Database string // mongo database name
	InMemory bool   // badger only
}

// songKey identifies a song for deduplication at registration.
func songKey(title, artist string) string {
	return title + "\x00" + artist
}
