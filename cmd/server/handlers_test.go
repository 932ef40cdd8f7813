package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/acousticid/internal/synth"
	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/acousticid/storage"
	"github.com/himanishpuri/acousticid/pkg/logger"
	"github.com/himanishpuri/acousticid/pkg/models"
)

type testServer struct {
	svc     acousticid.Service
	handler http.Handler
	song    models.SampleBuffer
	songID  uint32
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, err := acousticid.NewService(
		acousticid.WithBackend(storage.BackendMemory),
		acousticid.WithTempDir(t.TempDir()),
		acousticid.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	song := synth.Tones(7, 15)
	id, err := svc.AddSamples(context.Background(), song, models.Song{Title: "Harbor Lights", Artist: "The Tides"})
	require.NoError(t, err)
	_, err = svc.AddSamples(context.Background(), synth.Tones(8, 15), models.Song{Title: "Night Drive", Artist: "The Tides"})
	require.NoError(t, err)

	srv := NewServer(svc, &ServerConfig{
		Backend:        storage.BackendMemory,
		TempDir:        t.TempDir(),
		HashScheme:     "sha1-v1",
		AllowedOrigins: []string{"*"},
	})
	srv.log = logger.Discard()

	return &testServer{svc: svc, handler: srv.setupRoutes(), song: song, songID: id}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	m := decode[MetricsResponse](t, rec)
	assert.Equal(t, 2, m.SongCount)
	assert.Positive(t, m.FingerprintCount)
	assert.Equal(t, "sha1-v1", m.HashScheme)
}

func TestSongsEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListSongsResponse](t, rec)
	assert.Equal(t, 2, list.Count)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	song := decode[SongDTO](t, rec)
	assert.Equal(t, "Harbor Lights", song.Title)
	assert.Equal(t, 15000, song.DurationMs)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/songs/2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs/2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, httptest.NewRequest(http.MethodPut, "/api/songs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMatchFingerprints(t *testing.T) {
	ts := setupTestServer(t)
	fps, err := ts.svc.Fingerprint(context.Background(), synth.Clip(ts.song, 30, 5))
	require.NoError(t, err)

	body, err := json.Marshal(MatchFingerprintsRequest{Scheme: "sha1-v1", Fingerprints: fps})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/match/fingerprints?diagnose=true", bytes.NewReader(body))
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["matched"])
	assert.EqualValues(t, ts.songID, raw["song_id"])
	assert.Equal(t, "Harbor Lights", raw["title"])
	scores, ok := raw["scores"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"aligned", "normalized", "final", "match_ratio", "quality"} {
		assert.Contains(t, scores, key)
	}
	assert.Contains(t, raw, "diagnostics")
}

func TestMatchFingerprintsValidation(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"empty", `{"fingerprints":[]}`},
		{"wrong scheme", `{"scheme":"xxh32-v2","fingerprints":[{"hash":1,"anchor_time_ms":0}]}`},
		{"negative time", `{"fingerprints":[{"hash":1,"anchor_time_ms":-5}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/match/fingerprints", bytes.NewBufferString(tt.body))
			rec := ts.do(t, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func multipartWAV(t *testing.T, name string, buf models.SampleBuffer, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, synth.WriteWAV(f, buf, 16))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("audio", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestMatchUpload(t *testing.T) {
	ts := setupTestServer(t)
	body, contentType := multipartWAV(t, "clip.wav", synth.Clip(ts.song, 40, 5), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/match", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["matched"])
	assert.EqualValues(t, ts.songID, raw["song_id"])
}

func TestMatchUploadMissingFile(t *testing.T) {
	ts := setupTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/match", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddSongUpload(t *testing.T) {
	ts := setupTestServer(t)
	body, contentType := multipartWAV(t, "clip.wav", synth.Tones(9, 10), map[string]string{
		"title":  "Paper Moons",
		"artist": "The Tides",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/songs", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[AddSongResponse](t, rec)
	assert.Equal(t, "Paper Moons", resp.Title)
	assert.Equal(t, uint32(3), resp.ID)
}

func TestAddSongUploadNamesFromFile(t *testing.T) {
	ts := setupTestServer(t)
	body, contentType := multipartWAV(t, "../paper_moons.wav", synth.Tones(9, 10), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/songs", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[AddSongResponse](t, rec)
	assert.Equal(t, "paper moons", resp.Title)
	assert.Equal(t, "Unknown Artist", resp.Artist)
}

func TestSaveUploadKeepsBaseName(t *testing.T) {
	dir := t.TempDir()
	srv := &Server{config: &ServerConfig{TempDir: dir}, log: logger.Discard()}

	body, contentType := multipartWAV(t, "../../etc/night_drive.wav", synth.Tones(8, 1), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/songs", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, req.ParseMultipartForm(10<<20))

	path, tempDir, err := srv.saveUpload(req, "upload")
	require.NoError(t, err)
	assert.Equal(t, "night_drive.wav", filepath.Base(path))
	assert.Equal(t, tempDir, filepath.Dir(path))
	assert.Equal(t, dir, filepath.Dir(tempDir))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/match", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, parseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, parseOrigins("https://a.example, https://b.example"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}

func TestAddSongURLValidation(t *testing.T) {
	ts := setupTestServer(t)
	for _, body := range []string{`{`, `{"url":""}`, `{"url":"ftp://example.com/a.mp3"}`, `{"url":"/relative"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/songs/url", bytes.NewBufferString(body))
		rec := ts.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/songs/url", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
