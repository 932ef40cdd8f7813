//go:build !js && !wasm

package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/acousticid/pkg/models"
)

// Options controls Load.
type Options struct {
	TempDir    string // scratch space for ffmpeg output; default os.TempDir()
	SampleRate int    // ffmpeg output rate; native formats keep their own
}

// Load decodes the file at path into a mono sample buffer.
func Load(ctx context.Context, path string, opts Options) (models.SampleBuffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		buf, err := loadWAV(path)
		if err == nil {
			return buf, nil
		}
		// compressed or float WAV variants; let ffmpeg try
		if !FFmpegAvailable() {
			return models.SampleBuffer{}, err
		}
	case ".mp3":
		return loadMP3(path)
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	wavPath, err := ConvertToMonoWAV(ctx, path, tempDir, ConvertWAVConfig{SampleRate: opts.SampleRate})
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("audio conversion failed: %w", err)
	}
	defer os.Remove(wavPath)

	return loadWAV(wavPath)
}

func loadWAV(path string) (models.SampleBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

func loadMP3(path string) (models.SampleBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("opening mp3: %w", err)
	}
	defer f.Close()
	return DecodeMP3(f)
}
