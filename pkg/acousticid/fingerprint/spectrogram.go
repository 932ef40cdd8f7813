package fingerprint

import (
	"context"
	"math"
	"math/cmplx"
	"runtime"

	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticid/pkg/models"
)

// Frame is the magnitude spectrum of one analysis window.
type Frame struct {
	Start      int       // window start, in samples
	TimeMs     int32     // floor(Start / sampleRate * 1000)
	Magnitudes []float64 // positive-frequency bins, len == windowSize/2
}

// Hamming returns an n-point Hamming taper.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// Normalize scales samples so the peak absolute amplitude is 1. The input is
// returned untouched when it is silent or already unit-normalized.
func Normalize(samples []float64) []float64 {
	maxAbs := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 || maxAbs == 1 {
		return samples
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s / maxAbs
	}
	return out
}

// MagnitudeSpectrum returns |X[k]| * scale for the first half of spectrum.
func MagnitudeSpectrum(spectrum []complex128, scale float64) []float64 {
	half := len(spectrum) / 2
	mag := make([]float64, half)
	for i := 0; i < half; i++ {
		mag[i] = cmplx.Abs(spectrum[i]) * scale
	}
	return mag
}

// frameTimeMs converts a window start to its millisecond tag.
func frameTimeMs(start int, sampleRate float64) int32 {
	return int32(math.Floor(float64(start) / sampleRate * 1000.0))
}

// STFT slices buf into overlapping Hamming-tapered windows and returns one
// Frame per window. Samples are expected to be normalized already. Windows are
// transformed in parallel; the output order always follows window position.
func STFT(ctx context.Context, buf models.SampleBuffer, windowSize, hopSize, workers int) ([]Frame, error) {
	if buf.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if windowSize <= 0 || hopSize <= 0 {
		return nil, ErrInvalidWindow
	}
	samples := buf.Samples
	if len(samples) < windowSize {
		return nil, nil
	}

	n := (len(samples)-windowSize)/hopSize + 1
	frames := make([]Frame, n)
	window := Hamming(windowSize)
	// unitary DFT scaling (1/sqrt(N)); MagnitudeFloor is expressed against it
	scale := 1.0 / math.Sqrt(float64(windowSize))

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := i * hopSize
			slice := make([]float64, windowSize)
			copy(slice, samples[start:start+windowSize])
			for k := range slice {
				slice[k] *= window[k]
			}
			frames[i] = Frame{
				Start:      start,
				TimeMs:     frameTimeMs(start, buf.SampleRate),
				Magnitudes: MagnitudeSpectrum(fft.FFTReal(slice), scale),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}
