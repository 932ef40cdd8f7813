package acousticid

import (
	"context"

	"github.com/himanishpuri/acousticid/pkg/models"
)

type Service interface {
	// AddSong ingests the audio file at audioPath. Empty title or artist are
	// filled from the file's tags, then from its name.
	AddSong(ctx context.Context, audioPath, title, artist string) (uint32, error)
	// AddURL downloads audio with yt-dlp and ingests it like AddSong.
	AddURL(ctx context.Context, url, title, artist string) (uint32, error)
	AddSamples(ctx context.Context, buf models.SampleBuffer, song models.Song) (uint32, error)

	MatchFile(ctx context.Context, audioPath string) (*MatchResult, error)
	MatchSamples(ctx context.Context, buf models.SampleBuffer) (*MatchResult, error)
	MatchFingerprints(ctx context.Context, fps []models.Fingerprint) (*MatchResult, error)

	Fingerprint(ctx context.Context, buf models.SampleBuffer) ([]models.Fingerprint, error)
	Diagnose(ctx context.Context, fps []models.Fingerprint) (*Diagnostics, error)
	Stats(ctx context.Context) (models.CorpusStats, error)

	GetSong(ctx context.Context, songID uint32) (*models.Song, error)
	ListSongs(ctx context.Context) ([]models.Song, error)
	DeleteSong(ctx context.Context, songID uint32) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
