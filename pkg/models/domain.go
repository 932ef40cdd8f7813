package models

import "time"

// SampleBuffer is a mono, floating-point PCM buffer with values in [-1, 1].
type SampleBuffer struct {
	Samples    []float64
	SampleRate float64
}

// DurationMs returns the buffer length in milliseconds.
func (b SampleBuffer) DurationMs() int {
	if b.SampleRate <= 0 {
		return 0
	}
	return int(float64(len(b.Samples)) / b.SampleRate * 1000.0)
}

// Fingerprint is one peak-pair hash and the time of its anchor peak.
type Fingerprint struct {
	Hash         uint32 `json:"hash"`
	AnchorTimeMs int32  `json:"anchor_time_ms"`
}

// Posting is one occurrence of a hash in the corpus.
type Posting struct {
	SongID   uint32 `json:"song_id"`
	OffsetMs int32  `json:"offset_ms"`
}

// Song is a reference track in the corpus.
type Song struct {
	ID         uint32    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album,omitempty"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CorpusStats holds corpus-wide counts used for diagnostics.
type CorpusStats struct {
	TotalSongs        int `json:"total_songs"`
	TotalFingerprints int `json:"total_fingerprints"`
}
