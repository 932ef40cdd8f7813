// Package acousticid is the service facade over the fingerprinting and
// matching engines: it ingests reference songs into an index and identifies
// query clips against it.
package acousticid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/himanishpuri/acousticid/pkg/acousticid/audio"
	"github.com/himanishpuri/acousticid/pkg/acousticid/fingerprint"
	"github.com/himanishpuri/acousticid/pkg/acousticid/match"
	"github.com/himanishpuri/acousticid/pkg/acousticid/storage"
	"github.com/himanishpuri/acousticid/pkg/logger"
	"github.com/himanishpuri/acousticid/pkg/models"
)

var ErrNoFingerprints = errors.New("no fingerprints generated from audio")

const unknownArtist = "Unknown Artist"

var fallbackOnce sync.Once

// acousticService is the default implementation of the Service interface.
type acousticService struct {
	index     storage.Index
	ownsIndex bool
	gen       *fingerprint.Generator
	matcher   *match.Matcher
	log       Logger
	config    *Config
}

func NewService(opts ...Option) (Service, error) {
	return NewServiceContext(context.Background(), opts...)
}

// NewServiceContext is NewService with a context bounding backend connection.
func NewServiceContext(ctx context.Context, opts ...Option) (Service, error) {
	s, err := newService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newService(ctx context.Context, opts ...Option) (*acousticService, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	requested := cfg.Fingerprint.Scheme
	gen, err := fingerprint.NewGenerator(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint config: %w", err)
	}
	if effective := gen.Config().Scheme; effective != requested {
		fallbackOnce.Do(func() {
			cfg.Logger.Warnf("hash scheme %s unavailable, using %s; fingerprints are not interchangeable with %s corpora",
				requested, effective, requested)
		})
	}

	idx := cfg.Index
	owns := false
	if idx == nil {
		idx, err = storage.Open(ctx, cfg.storageOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		owns = true
	}

	return &acousticService{
		index:     idx,
		ownsIndex: owns,
		gen:       gen,
		matcher:   match.NewMatcher(idx, cfg.Match, cfg.Logger),
		log:       cfg.Logger,
		config:    cfg,
	}, nil
}

func (s *acousticService) load(ctx context.Context, path string) (models.SampleBuffer, error) {
	return audio.Load(ctx, path, audio.Options{
		TempDir:    s.config.TempDir,
		SampleRate: s.config.SampleRate,
	})
}

// AddSong decodes the audio file and stores its fingerprints.
func (s *acousticService) AddSong(ctx context.Context, audioPath, title, artist string) (uint32, error) {
	return s.addFile(ctx, audioPath, models.Song{Title: title, Artist: artist})
}

// AddURL downloads the audio behind url with yt-dlp and ingests it. Empty
// title or artist are taken from the remote metadata.
func (s *acousticService) AddURL(ctx context.Context, url, title, artist string) (uint32, error) {
	s.log.Infof("Downloading audio from %s", url)
	path, info, err := audio.Fetch(ctx, url, s.config.TempDir)
	if err != nil {
		return 0, fmt.Errorf("failed to download audio: %w", err)
	}
	defer os.Remove(path)

	remote := info.Tags()
	song := models.Song{Title: title, Artist: artist, Album: remote.Album}
	if song.Title == "" {
		song.Title = remote.Title
	}
	if song.Artist == "" {
		song.Artist = remote.Artist
	}
	return s.addFile(ctx, path, song)
}

func (s *acousticService) addFile(ctx context.Context, audioPath string, song models.Song) (uint32, error) {
	buf, err := s.load(ctx, audioPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read audio: %w", err)
	}

	if song.Title == "" || song.Artist == "" {
		tags, err := audio.ReadTags(ctx, audioPath)
		if err != nil {
			s.log.Debugf("No tags in %s: %v", audioPath, err)
		}
		if song.Title == "" {
			song.Title = tags.Title
		}
		if song.Artist == "" {
			song.Artist = tags.Artist
		}
		if song.Album == "" {
			song.Album = tags.Album
		}
	}
	if song.Title == "" {
		song.Title = audio.TitleFromFilename(audioPath)
	}
	if song.Artist == "" {
		song.Artist = unknownArtist
	}

	return s.AddSamples(ctx, buf, song)
}

// AddSamples fingerprints buf and stores it under song. Ingesting the same
// title and artist again replaces the song's postings.
func (s *acousticService) AddSamples(ctx context.Context, buf models.SampleBuffer, song models.Song) (uint32, error) {
	s.log.Infof("Processing song: %s by %s", song.Title, song.Artist)

	fps, err := s.gen.Generate(ctx, buf)
	if err != nil {
		return 0, fmt.Errorf("fingerprint generation failed: %w", err)
	}
	if len(fps) == 0 {
		return 0, ErrNoFingerprints
	}
	s.log.Infof("Generated %d fingerprints", len(fps))

	song.DurationMs = buf.DurationMs()
	songID, err := s.index.RegisterSong(ctx, song)
	if err != nil {
		return 0, fmt.Errorf("failed to register song: %w", err)
	}

	counts, countErr := s.index.FingerprintCounts(ctx, []uint32{songID})
	created := countErr == nil && counts[songID] == 0

	if err := s.index.PutMany(ctx, songID, fps); err != nil {
		// only roll back a song this call created
		if created {
			if delErr := s.index.DeleteSong(context.WithoutCancel(ctx), songID); delErr != nil {
				s.log.Errorf("Rollback of song %d failed: %v", songID, delErr)
			}
		}
		return 0, fmt.Errorf("failed to store fingerprints: %w", err)
	}

	s.log.Infof("Successfully added song ID=%d", songID)
	return songID, nil
}

// MatchFile identifies the audio file at audioPath. Failing to read it is the
// only error besides cancellation.
func (s *acousticService) MatchFile(ctx context.Context, audioPath string) (*MatchResult, error) {
	s.log.Infof("Matching audio: %s", audioPath)
	ctx, cancel := s.matchContext(ctx)
	defer cancel()

	buf, err := s.load(ctx, audioPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("match aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return s.matchSamples(ctx, buf)
}

func (s *acousticService) MatchSamples(ctx context.Context, buf models.SampleBuffer) (*MatchResult, error) {
	ctx, cancel := s.matchContext(ctx)
	defer cancel()
	return s.matchSamples(ctx, buf)
}

func (s *acousticService) matchSamples(ctx context.Context, buf models.SampleBuffer) (*MatchResult, error) {
	fps, err := s.gen.Generate(ctx, buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("match aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("fingerprint generation failed: %w", err)
	}
	return s.matchFingerprints(ctx, fps)
}

func (s *acousticService) MatchFingerprints(ctx context.Context, fps []models.Fingerprint) (*MatchResult, error) {
	ctx, cancel := s.matchContext(ctx)
	defer cancel()
	return s.matchFingerprints(ctx, fps)
}

// matchContext bounds one whole match request, decoding included, by
// MatchTimeout.
func (s *acousticService) matchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.MatchTimeout > 0 {
		return context.WithTimeout(ctx, s.config.MatchTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *acousticService) matchFingerprints(ctx context.Context, fps []models.Fingerprint) (*MatchResult, error) {
	res, err := s.matcher.Match(ctx, fps)
	if err != nil {
		return nil, fmt.Errorf("match aborted: %w", err)
	}
	if res.Matched {
		s.log.Infof("[%s] Matched song %d (%s) final=%.2f", res.RequestID, res.SongID, res.Title, res.Scores.Final)
	} else {
		s.log.Infof("[%s] No match: %v", res.RequestID, res.Reasons)
	}
	return res, nil
}

// Fingerprint returns the fingerprints of buf without touching the index.
func (s *acousticService) Fingerprint(ctx context.Context, buf models.SampleBuffer) ([]models.Fingerprint, error) {
	return s.gen.Generate(ctx, buf)
}

// Diagnose reports corpus totals and probes the first distinct query hashes
// for postings.
func (s *acousticService) Diagnose(ctx context.Context, fps []models.Fingerprint) (*Diagnostics, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	d := &Diagnostics{
		CorpusStats:       stats,
		QueryFingerprints: len(fps),
		HashScheme:        s.gen.Config().Scheme.String(),
	}

	seen := make(map[uint32]struct{}, DiagnoseProbeSize)
	for _, fp := range fps {
		if len(seen) == DiagnoseProbeSize {
			break
		}
		if _, ok := seen[fp.Hash]; ok {
			continue
		}
		seen[fp.Hash] = struct{}{}

		postings, err := s.index.Get(ctx, fp.Hash)
		if err != nil {
			s.log.Warnf("Probe of hash %d failed: %v", fp.Hash, err)
			continue
		}
		if len(postings) > 0 {
			d.HashesWithHits++
			d.Postings += len(postings)
		}
	}
	d.ProbedHashes = len(seen)
	return d, nil
}

func (s *acousticService) Stats(ctx context.Context) (models.CorpusStats, error) {
	songs, err := s.index.TotalSongs(ctx)
	if err != nil {
		return models.CorpusStats{}, fmt.Errorf("counting songs: %w", err)
	}
	fps, err := s.index.TotalFingerprints(ctx)
	if err != nil {
		return models.CorpusStats{}, fmt.Errorf("counting fingerprints: %w", err)
	}
	return models.CorpusStats{TotalSongs: songs, TotalFingerprints: fps}, nil
}

// GetSong retrieves a song's metadata by its database ID.
func (s *acousticService) GetSong(ctx context.Context, songID uint32) (*models.Song, error) {
	return s.index.GetSong(ctx, songID)
}

// ListSongs returns all songs in the database.
func (s *acousticService) ListSongs(ctx context.Context) ([]models.Song, error) {
	return s.index.ListSongs(ctx)
}

// DeleteSong removes a song and all its fingerprints from the database.
func (s *acousticService) DeleteSong(ctx context.Context, songID uint32) error {
	return s.index.DeleteSong(ctx, songID)
}

// Close releases the index when the service opened it.
func (s *acousticService) Close() error {
	if !s.ownsIndex {
		return nil
	}
	return s.index.Close()
}
