package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/models"
)

// Fingerprint limit constants for validation
const (
	// MaxFingerprintsHardLimit is the absolute maximum allowed (~2 minutes of audio)
	MaxFingerprintsHardLimit = 50000

	// FingerprintWarningThreshold triggers logging for large batches
	FingerprintWarningThreshold = 10000
)

// MatchFingerprintsRequest is the request body for POST /api/match/fingerprints.
// It is the output of `acousticid fingerprint` and of the WASM module.
type MatchFingerprintsRequest struct {
	Scheme       string               `json:"scheme"`
	Fingerprints []models.Fingerprint `json:"fingerprints"`
}

// Validate checks the request against the server's hash scheme.
func (r *MatchFingerprintsRequest) Validate(scheme string) error {
	if len(r.Fingerprints) == 0 {
		return fmt.Errorf("fingerprints cannot be empty")
	}
	if len(r.Fingerprints) > MaxFingerprintsHardLimit {
		return fmt.Errorf("too many fingerprints: %d (maximum: %d)", len(r.Fingerprints), MaxFingerprintsHardLimit)
	}
	if r.Scheme != "" && r.Scheme != scheme {
		return fmt.Errorf("hash scheme %q does not match server scheme %q", r.Scheme, scheme)
	}
	for i, fp := range r.Fingerprints {
		if fp.AnchorTimeMs < 0 {
			return fmt.Errorf("fingerprint %d has negative anchor time", i)
		}
	}
	return nil
}

// MatchResponse is the response for both match endpoints.
type MatchResponse struct {
	*acousticid.MatchResult
	Diagnostics *acousticid.Diagnostics `json:"diagnostics,omitempty"`
}

// AddSongURLRequest is the request body for POST /api/songs/url
type AddSongURLRequest struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// Validate checks if the request is valid
func (r *AddSongURLRequest) Validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	return nil
}

// AddSongResponse is the response for successful song addition
type AddSongResponse struct {
	Message string `json:"message"`
	ID      uint32 `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
}

// SongDTO represents a song in API responses
type SongDTO struct {
	ID         uint32    `json:"id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album,omitempty"`
	DurationMs int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func songDTO(song models.Song) SongDTO {
	return SongDTO{
		ID:         song.ID,
		Title:      song.Title,
		Artist:     song.Artist,
		Album:      song.Album,
		DurationMs: song.DurationMs,
		CreatedAt:  song.CreatedAt,
	}
}

// ListSongsResponse is the response for GET /api/songs
type ListSongsResponse struct {
	Songs []SongDTO `json:"songs"`
	Count int       `json:"count"`
}

// DeleteSongResponse is the response for DELETE /api/songs/{id}
type DeleteSongResponse struct {
	Message string `json:"message"`
	ID      uint32 `json:"id"`
}

// MetricsResponse provides server health and corpus metrics
type MetricsResponse struct {
	Status           string `json:"status"`
	Backend          string `json:"backend"`
	SongCount        int    `json:"song_count"`
	FingerprintCount int    `json:"fingerprint_count"`
	HashScheme       string `json:"hash_scheme"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
