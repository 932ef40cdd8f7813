package main

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/acousticid/pkg/acousticid/audio"
)

type SpectrogramCmd struct {
	File   string `arg:"" type:"existingfile" help:"Audio file to render."`
	Out    string `short:"o" type:"path" help:"PNG output path (default: <file>.png)."`
	Width  int    `default:"2048" help:"Image width in pixels."`
	Height int    `default:"512" help:"Image height in pixels (frequency bins)."`
	Log    bool   `help:"Use a log10 magnitude scale."`
}

func (c *SpectrogramCmd) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be positive")
	}
	return nil
}

func (c *SpectrogramCmd) outPath() string {
	if c.Out != "" {
		return c.Out
	}
	return strings.TrimSuffix(c.File, filepath.Ext(c.File)) + ".png"
}

func (c *SpectrogramCmd) Run(g *Globals) error {
	buf, err := audio.Load(g.ctx, c.File, audio.Options{TempDir: g.TempDir, SampleRate: g.Rate})
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	if len(buf.Samples) == 0 {
		return fmt.Errorf("no samples in %s", c.File)
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, c.Width, c.Height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude
	spectrogram.Drawfft(img, buf.Samples, uint32(buf.SampleRate), uint32(c.Height), false, false, true, c.Log)

	out := c.outPath()
	if err := spectrogram.SavePng(img, out); err != nil {
		return fmt.Errorf("saving %s: %w", out, err)
	}
	printSuccess(fmt.Sprintf("✅ Saved spectrogram to %s", out))
	return nil
}
