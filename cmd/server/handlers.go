package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/acousticid/storage"
	"github.com/himanishpuri/acousticid/pkg/logger"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service acousticid.Service
	config  *ServerConfig
	log     acousticid.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Backend        string
	TempDir        string
	HashScheme     string
	AllowedOrigins []string
	AccessLog      bool
}

// NewServer creates a new server instance
func NewServer(service acousticid.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "acousticid API",
		"version": version,
		"endpoints": map[string]string{
			"health":            "GET /health",
			"metrics":           "GET /api/health/metrics",
			"songs":             "GET /api/songs",
			"addSongFile":       "POST /api/songs",
			"addSongURL":        "POST /api/songs/url",
			"getSong":           "GET /api/songs/{id}",
			"deleteSong":        "DELETE /api/songs/{id}",
			"matchFile":         "POST /api/match",
			"matchFingerprints": "POST /api/match/fingerprints",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.log.Errorf("Failed to get corpus stats: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:           "healthy",
		Backend:          s.config.Backend,
		SongCount:        stats.TotalSongs,
		FingerprintCount: stats.TotalFingerprints,
		HashScheme:       s.config.HashScheme,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list songs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve songs")
		return
	}

	songDTOs := make([]SongDTO, len(songs))
	for i, song := range songs {
		songDTOs[i] = songDTO(song)
	}

	s.respondJSON(w, http.StatusOK, ListSongsResponse{
		Songs: songDTOs,
		Count: len(songDTOs),
	})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	song, err := s.service.GetSong(r.Context(), songID)
	if err != nil {
		s.respondSongError(w, songID, err)
		return
	}
	s.respondJSON(w, http.StatusOK, songDTO(*song))
}

// handleDeleteSong handles DELETE /api/songs/{id}
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	song, err := s.service.GetSong(r.Context(), songID)
	if err != nil {
		s.respondSongError(w, songID, err)
		return
	}

	if err := s.service.DeleteSong(r.Context(), songID); err != nil {
		s.log.Errorf("Failed to delete song %d: %v", songID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to delete song")
		return
	}

	s.log.Infof("Deleted song: %s by %s (ID: %d)", song.Title, song.Artist, songID)
	s.respondJSON(w, http.StatusOK, DeleteSongResponse{
		Message: "Song deleted successfully",
		ID:      songID,
	})
}

func (s *Server) respondSongError(w http.ResponseWriter, songID uint32, err error) {
	if errors.Is(err, storage.ErrSongNotFound) {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Song with ID %d not found", songID))
		return
	}
	s.log.Errorf("Failed to load song %d: %v", songID, err)
	s.respondError(w, http.StatusInternalServerError, "Failed to retrieve song")
}

// saveUpload copies the multipart "audio" field into a fresh temp directory
// under the upload's own base name, so the decoder can pick a format from the
// extension and ingestion can fall back to the name for a title. The caller
// removes the returned directory.
func (s *Server) saveUpload(r *http.Request, prefix string) (path, dir string, err error) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", "", fmt.Errorf("audio file is required")
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + header.Filename))
	if name == "/" || name == "." {
		name = prefix + ".bin"
	}

	dir, err = os.MkdirTemp(s.config.TempDir, prefix+"_*")
	if err != nil {
		return "", "", fmt.Errorf("creating temp dir: %w", err)
	}
	path = filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("saving upload: %w", err)
	}
	return path, dir, nil
}

// handleAddSongFile handles POST /api/songs (multipart file upload)
func (s *Server) handleAddSongFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	// Parse multipart form (max 100MB)
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	title := r.FormValue("title")
	artist := r.FormValue("artist")

	tempFile, tempDir, err := s.saveUpload(r, "upload")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.RemoveAll(tempDir)

	// empty title and artist come from the file's tags, then its name
	songID, err := s.service.AddSong(ctx, tempFile, title, artist)
	if err != nil {
		s.log.Errorf("Failed to add song: %v", err)
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to add song: %v", err))
		return
	}

	song, err := s.service.GetSong(ctx, songID)
	if err != nil {
		s.respondSongError(w, songID, err)
		return
	}

	s.log.Infof("Successfully added song: %s by %s (ID: %d)", song.Title, song.Artist, songID)
	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message: "Song added successfully",
		ID:      songID,
		Title:   song.Title,
		Artist:  song.Artist,
	})
}

// handleAddSongURL handles POST /api/songs/url
func (s *Server) handleAddSongURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req AddSongURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	songID, err := s.service.AddURL(ctx, req.URL, req.Title, req.Artist)
	if err != nil {
		s.log.Errorf("Failed to add song from %s: %v", req.URL, err)
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to add song: %v", err))
		return
	}

	song, err := s.service.GetSong(ctx, songID)
	if err != nil {
		s.respondSongError(w, songID, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message: "Song added successfully",
		ID:      songID,
		Title:   song.Title,
		Artist:  song.Artist,
	})
}

// handleMatchFile handles POST /api/match (multipart file upload)
func (s *Server) handleMatchFile(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 50MB)
	if err := r.ParseMultipartForm(50 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	tempFile, tempDir, err := s.saveUpload(r, "query")
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.RemoveAll(tempDir)

	s.log.Infof("Matching uploaded file: %s", filepath.Base(tempFile))
	res, err := s.service.MatchFile(r.Context(), tempFile)
	if err != nil {
		s.respondMatchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, MatchResponse{MatchResult: res})
}

// handleMatchFingerprints handles POST /api/match/fingerprints, matching
// fingerprints computed on the client.
func (s *Server) handleMatchFingerprints(w http.ResponseWriter, r *http.Request) {
	var req MatchFingerprintsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(s.config.HashScheme); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Fingerprints) >= FingerprintWarningThreshold {
		s.log.Warnf("Large fingerprint batch received: %d fingerprints", len(req.Fingerprints))
	}

	res, err := s.service.MatchFingerprints(r.Context(), req.Fingerprints)
	if err != nil {
		s.respondMatchError(w, err)
		return
	}

	resp := MatchResponse{MatchResult: res}
	if diagnose, _ := strconv.ParseBool(r.URL.Query().Get("diagnose")); diagnose {
		d, err := s.service.Diagnose(r.Context(), req.Fingerprints)
		if err != nil {
			s.log.Warnf("Diagnostics failed: %v", err)
		} else {
			resp.Diagnostics = d
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondMatchError(w http.ResponseWriter, err error) {
	s.log.Errorf("Failed to match: %v", err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, "Match timed out")
	case errors.Is(err, context.Canceled):
		s.respondError(w, http.StatusServiceUnavailable, "Match canceled")
	default:
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to match: %v", err))
	}
}

// handleSongs routes requests to /api/songs
func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSongs(w, r)
	case http.MethodPost:
		s.handleAddSongFile(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSong routes requests to /api/songs/{id}
func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/songs/")
	if idStr == "" {
		s.respondError(w, http.StatusBadRequest, "Song ID required")
		return
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid song ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetSong(w, r, uint32(id))
	case http.MethodDelete:
		s.handleDeleteSong(w, r, uint32(id))
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleMatch routes requests to /api/match
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchFile(w, r)
}

// handleMatchFingerprintsRoute routes requests to /api/match/fingerprints
func (s *Server) handleMatchFingerprintsRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleMatchFingerprints(w, r)
}
