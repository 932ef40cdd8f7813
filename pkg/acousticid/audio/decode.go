// Package audio turns audio files into mono sample buffers for fingerprinting.
// WAV and MP3 are decoded natively; anything else goes through ffmpeg.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/himanishpuri/acousticid/pkg/models"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// DecodeWAV reads a PCM WAV stream of any bit depth and channel count and
// returns its channels averaged to mono, scaled to [-1, 1].
func DecodeWAV(r io.ReadSeeker) (models.SampleBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return models.SampleBuffer{}, fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("reading wav samples: %w", err)
	}

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	scale := float64(int64(1) << uint(bitDepth-1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		offset = 128
	}

	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i+channels <= len(buf.Data); i += channels {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i+c]) - offset) / scale
		}
		samples = append(samples, sum/float64(channels))
	}

	return models.SampleBuffer{Samples: samples, SampleRate: float64(dec.SampleRate)}, nil
}

// DecodeMP3 decodes an MP3 stream. The decoder always yields 16-bit
// little-endian stereo, which is averaged to mono.
func DecodeMP3(r io.Reader) (models.SampleBuffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return models.SampleBuffer{}, fmt.Errorf("reading mp3 frames: %w", err)
	}

	const frame = 4 // two int16 channels
	samples := make([]float64, 0, len(pcm)/frame)
	for i := 0; i+frame <= len(pcm); i += frame {
		l := int16(binary.LittleEndian.Uint16(pcm[i:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i+2:]))
		samples = append(samples, (float64(l)+float64(r))/2/32768.0)
	}

	return models.SampleBuffer{Samples: samples, SampleRate: float64(dec.SampleRate())}, nil
}
