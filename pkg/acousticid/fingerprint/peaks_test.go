package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func emptyFrame(timeMs int32) Frame {
	return Frame{TimeMs: timeMs, Magnitudes: make([]float64, 2048)}
}

func TestExtractPeaksEqualNeighborsDisqualify(t *testing.T) {
	f := emptyFrame(300)
	f.Magnitudes[100] = 0.5
	f.Magnitudes[105] = 0.5
	f.Magnitudes[300] = 0.4

	peaks := ExtractPeaks(f, DefaultConfig())

	if assert.Len(t, peaks, 1) {
		assert.Equal(t, 300, peaks[0].FreqBin)
		assert.Equal(t, int32(300), peaks[0].TimeMs)
	}
}

func TestExtractPeaksBandAndFloor(t *testing.T) {
	f := emptyFrame(0)
	f.Magnitudes[5] = 1.0     // below MinFreqBin
	f.Magnitudes[600] = 1.0   // above MaxFreqBin
	f.Magnitudes[200] = 0.005 // under the floor
	f.Magnitudes[250] = 0.01  // exactly the floor

	peaks := ExtractPeaks(f, DefaultConfig())

	if assert.Len(t, peaks, 1) {
		assert.Equal(t, 250, peaks[0].FreqBin)
	}
}

func TestExtractPeaksKeepsStrongest(t *testing.T) {
	f := emptyFrame(0)
	mags := []float64{0.1, 0.7, 0.3, 0.9, 0.2, 0.8, 0.4}
	for i, m := range mags {
		f.Magnitudes[20+i*40] = m
	}

	peaks := ExtractPeaks(f, DefaultConfig())

	var bins []int
	for _, p := range peaks {
		bins = append(bins, p.FreqBin)
	}
	assert.Equal(t, []int{140, 220, 60, 260, 100}, bins)
}

func TestExtractPeaksNearEqualKeepsBinOrder(t *testing.T) {
	f := emptyFrame(0)
	f.Magnitudes[50] = 0.50001
	f.Magnitudes[90] = 0.500012

	peaks := ExtractPeaks(f, DefaultConfig())

	if assert.Len(t, peaks, 2) {
		assert.Equal(t, 50, peaks[0].FreqBin)
		assert.Equal(t, 90, peaks[1].FreqBin)
	}
}

func TestExtractPeaksEmptyFrame(t *testing.T) {
	assert.Empty(t, ExtractPeaks(Frame{}, DefaultConfig()))
	assert.Empty(t, ExtractPeaks(emptyFrame(0), DefaultConfig()))
}

func TestExtractPeaksShortSpectrumClampsUpperBound(t *testing.T) {
	f := Frame{Magnitudes: make([]float64, 64)}
	f.Magnitudes[60] = 1.0 // inside radius of the end
	f.Magnitudes[30] = 0.5

	peaks := ExtractPeaks(f, DefaultConfig())

	if assert.Len(t, peaks, 1) {
		assert.Equal(t, 30, peaks[0].FreqBin)
	}
}

func TestMinInt(t *testing.T) {
	tests := []struct {
		a, b, expected int
	}{
		{5, 10, 5},
		{10, 5, 5},
		{7, 7, 7},
		{-5, 3, -5},
	}

	for _, tt := range tests {
		result := minInt(tt.a, tt.b)
		if result != tt.expected {
			t.Errorf("minInt(%d, %d) = %d, expected %d", tt.a, tt.b, result, tt.expected)
		}
	}
}
