//go:build !js && !wasm

package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var ErrNoDownloader = errors.New("yt-dlp not found")

// RemoteInfo is the subset of yt-dlp metadata used to label a download.
type RemoteInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Track    string  `json:"track"`
	Album    string  `json:"album"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

// Tags picks the best title and artist yt-dlp reported.
func (r RemoteInfo) Tags() Tags {
	title := firstNonEmpty(r.Track, r.Title)
	artist := firstNonEmpty(r.Artist, r.Channel, r.Uploader)
	return Tags{Title: title, Artist: artist, Album: strings.TrimSpace(r.Album)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Fetch downloads the best audio stream of a URL yt-dlp understands into
// outputDir. The caller owns the returned file.
func Fetch(ctx context.Context, url, outputDir string) (string, RemoteInfo, error) {
	if _, err := exec.LookPath("yt-dlp"); err != nil {
		return "", RemoteInfo{}, ErrNoDownloader
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", RemoteInfo{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	var stdout, stderr bytes.Buffer
	metaCmd := exec.CommandContext(ctx, "yt-dlp", "-J", "--no-warnings", "--no-playlist", url)
	metaCmd.Stdout = &stdout
	metaCmd.Stderr = &stderr
	if err := metaCmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", RemoteInfo{}, ctx.Err()
		}
		return "", RemoteInfo{}, fmt.Errorf("yt-dlp metadata extraction failed: %v (%s)", err, strings.TrimSpace(stderr.String()))
	}

	var info RemoteInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", RemoteInfo{}, fmt.Errorf("failed to parse yt-dlp JSON: %w", err)
	}
	if strings.TrimSpace(info.ID) == "" {
		return "", RemoteInfo{}, errors.New("missing media ID in yt-dlp output")
	}

	// yt-dlp picks the extension; --print after_move:filepath reports it
	stdout.Reset()
	stderr.Reset()
	outputTemplate := filepath.Join(outputDir, info.ID+".%(ext)s")
	dlCmd := exec.CommandContext(ctx, "yt-dlp",
		"-f", "ba",
		"--no-warnings",
		"--no-playlist",
		"--print", "after_move:filepath",
		"-o", outputTemplate,
		url,
	)
	dlCmd.Stdout = &stdout
	dlCmd.Stderr = &stderr
	if err := dlCmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", RemoteInfo{}, ctx.Err()
		}
		return "", RemoteInfo{}, fmt.Errorf("yt-dlp download failed: %v (%s)", err, strings.TrimSpace(stderr.String()))
	}

	path := strings.TrimSpace(stdout.String())
	if i := strings.LastIndexByte(path, '\n'); i >= 0 {
		path = path[i+1:]
	}
	if _, err := os.Stat(path); err != nil {
		return "", RemoteInfo{}, fmt.Errorf("downloaded audio file not found for %s: %w", info.ID, err)
	}
	return path, info, nil
}
