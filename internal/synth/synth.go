// Package synth builds deterministic test signals: multi-tone "songs" whose
// spectral peaks are stable under the default fingerprint settings, clips of
// them, and white noise.
package synth

import (
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/acousticid/pkg/models"
)

const (
	// SampleRate makes one 2048-sample hop exactly 100 ms, so frame times
	// and pair deltas are integral.
	SampleRate = 20480
	// Window and Hop mirror the default analysis settings.
	Window = 4096
	Hop    = 2048

	segmentHops   = 5 // 0.5 s per tone segment
	tonesPerSeg   = 5
	minToneBin    = 40
	maxToneBin    = 500
	minToneSpread = 13
)

// Tones returns a song of the given length made of 0.5 s segments, each
// holding tonesPerSeg sinusoids centered on distinct FFT bins. The first
// sample of every segment is pinned to 1.0 so the song and any clip spanning
// a segment start are already unit-normalized.
func Tones(seed int64, seconds float64) models.SampleBuffer {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * SampleRate)
	samples := make([]float64, n)
	segLen := segmentHops * Hop

	for start := 0; start < n; start += segLen {
		bins := pickBins(rng)
		amps := make([]float64, len(bins))
		phases := make([]float64, len(bins))
		for i := range bins {
			amps[i] = 0.10 + 0.07*rng.Float64()
			phases[i] = 2 * math.Pi * rng.Float64()
		}
		end := start + segLen
		if end > n {
			end = n
		}
		for s := start; s < end; s++ {
			v := 0.0
			for i, b := range bins {
				freq := float64(b) * SampleRate / Window
				v += amps[i] * math.Sin(2*math.Pi*freq*float64(s)/SampleRate+phases[i])
			}
			samples[s] = v
		}
		samples[start] = 1.0
	}
	return models.SampleBuffer{Samples: samples, SampleRate: SampleRate}
}

func pickBins(rng *rand.Rand) []int {
	bins := make([]int, 0, tonesPerSeg)
	for len(bins) < tonesPerSeg {
		b := minToneBin + rng.Intn(maxToneBin-minToneBin)
		ok := true
		for _, o := range bins {
			if absInt(o-b) < minToneSpread {
				ok = false
				break
			}
		}
		if ok {
			bins = append(bins, b)
		}
	}
	return bins
}

// Clip copies seconds of buf starting at hop index startHop.
func Clip(buf models.SampleBuffer, startHop int, seconds float64) models.SampleBuffer {
	return ClipAt(buf, startHop*Hop, seconds)
}

// ClipAt copies seconds of buf starting at sample start, which need not fall
// on a hop boundary.
func ClipAt(buf models.SampleBuffer, start int, seconds float64) models.SampleBuffer {
	end := start + int(seconds*buf.SampleRate)
	if start > len(buf.Samples) {
		start = len(buf.Samples)
	}
	if end > len(buf.Samples) {
		end = len(buf.Samples)
	}
	out := make([]float64, end-start)
	copy(out, buf.Samples[start:end])
	return models.SampleBuffer{Samples: out, SampleRate: buf.SampleRate}
}

// AddNoise returns a copy of buf with uniform noise of the given amplitude
// mixed in.
func AddNoise(buf models.SampleBuffer, seed int64, amplitude float64) models.SampleBuffer {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, len(buf.Samples))
	for i, v := range buf.Samples {
		out[i] = v + amplitude*(rng.Float64()*2-1)
	}
	return models.SampleBuffer{Samples: out, SampleRate: buf.SampleRate}
}

// WhiteNoise returns uniform noise in [-1, 1).
func WhiteNoise(seed int64, seconds float64) models.SampleBuffer {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * SampleRate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = rng.Float64()*2 - 1
	}
	return models.SampleBuffer{Samples: samples, SampleRate: SampleRate}
}

// WriteWAV encodes buf as mono PCM at the given bit depth.
func WriteWAV(w io.WriteSeeker, buf models.SampleBuffer, bitDepth int) error {
	maxVal := float64(int(1)<<(uint(bitDepth)-1)) - 1
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(math.Round(s * maxVal))
	}
	enc := wav.NewEncoder(w, int(buf.SampleRate), bitDepth, 1, 1)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: int(buf.SampleRate)},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
