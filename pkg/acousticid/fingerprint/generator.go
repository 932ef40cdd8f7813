package fingerprint

import (
	"context"
	"errors"
	"sort"

	"github.com/himanishpuri/acousticid/pkg/models"
)

var (
	ErrInvalidSampleRate = errors.New("fingerprint: sample rate must be positive")
	ErrInvalidWindow     = errors.New("fingerprint: window and hop must be positive")
)

// ------------------------ TUNABLES ------------------------

// Config holds every tunable of the generation pass. Changing any of these,
// or the hash scheme, invalidates fingerprints already stored in a corpus.
type Config struct {
	WindowSize     int     // samples per analysis window
	HopSize        int     // samples between window starts
	MinFreqBin     int     // lowest eligible bin (inclusive)
	MaxFreqBin     int     // highest eligible bin (exclusive)
	Neighborhood   int     // local-maximum radius in bins
	MagnitudeFloor float64 // minimum unitary magnitude of a peak
	PeaksPerFrame  int     // strongest peaks kept per frame
	FanOut         int     // successful targets paired with each anchor
	MinDeltaMs     int     // smallest anchor→target distance
	MaxDeltaMs     int     // largest anchor→target distance
	Scheme         Scheme
	Workers        int // STFT parallelism; <= 0 means GOMAXPROCS
}

func DefaultConfig() Config {
	return Config{
		WindowSize:     4096,
		HopSize:        2048,
		MinFreqBin:     10,
		MaxFreqBin:     512,
		Neighborhood:   10,
		MagnitudeFloor: 0.01,
		PeaksPerFrame:  5,
		FanOut:         15,
		MinDeltaMs:     0,
		MaxDeltaMs:     200,
		Scheme:         SchemeSHA1,
	}
}

// Generator turns sample buffers into fingerprint sequences.
type Generator struct {
	cfg    Config
	hasher *Hasher
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.WindowSize <= 0 || cfg.HopSize <= 0 {
		return nil, ErrInvalidWindow
	}
	h, err := NewHasher(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	cfg.Scheme = h.Scheme()
	return &Generator{cfg: cfg, hasher: h}, nil
}

// Config returns the effective configuration, including the hash scheme
// actually in use.
func (g *Generator) Config() Config { return g.cfg }

// Peaks runs the spectral analyzer and peak extractor and returns the peaks of
// every frame, time-ordered.
func (g *Generator) Peaks(ctx context.Context, buf models.SampleBuffer) ([]Peak, error) {
	if buf.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if len(buf.Samples) < g.cfg.WindowSize {
		return nil, nil
	}

	normalized := models.SampleBuffer{Samples: Normalize(buf.Samples), SampleRate: buf.SampleRate}
	frames, err := STFT(ctx, normalized, g.cfg.WindowSize, g.cfg.HopSize, g.cfg.Workers)
	if err != nil {
		return nil, err
	}

	peaks := make([]Peak, 0, len(frames)*g.cfg.PeaksPerFrame)
	for _, f := range frames {
		peaks = append(peaks, ExtractPeaks(f, g.cfg)...)
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].TimeMs < peaks[j].TimeMs })
	return peaks, nil
}

// Generate fingerprints buf. Empty or sub-window buffers yield an empty
// sequence and no error.
func (g *Generator) Generate(ctx context.Context, buf models.SampleBuffer) ([]models.Fingerprint, error) {
	peaks, err := g.Peaks(ctx, buf)
	if err != nil {
		return nil, err
	}
	return g.Pair(peaks), nil
}

// Pair combines time-ordered peaks into fingerprints. Each anchor is paired
// with up to FanOut later peaks whose distance lies in [MinDeltaMs,
// MaxDeltaMs]; peaks outside that range are skipped without using up the
// anchor's budget. peaks must be sorted by time: the scan for an anchor ends
// at the first peak past MaxDeltaMs.
func (g *Generator) Pair(peaks []Peak) []models.Fingerprint {
	fps := make([]models.Fingerprint, 0, len(peaks)*g.cfg.FanOut/2)
	for i := 0; i < len(peaks); i++ {
		anchor := peaks[i]
		paired := 0
		for j := i + 1; j < len(peaks) && paired < g.cfg.FanOut; j++ {
			target := peaks[j]
			delta := int(target.TimeMs - anchor.TimeMs)
			if delta > g.cfg.MaxDeltaMs {
				break
			}
			if delta < g.cfg.MinDeltaMs {
				continue
			}
			fps = append(fps, models.Fingerprint{
				Hash:         g.hasher.Hash(anchor.FreqBin, target.FreqBin, delta),
				AnchorTimeMs: anchor.TimeMs,
			})
			paired++
		}
	}
	return fps
}
