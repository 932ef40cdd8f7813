//go:build !js && !wasm

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/acousticid/fingerprint"
	"github.com/himanishpuri/acousticid/pkg/logger"
)

var version = "0.1.0"

type config struct {
	Port      int    `default:"8080" env:"PORT" help:"HTTP server port."`
	DB        string `name:"db" env:"ACOUSTICID_DB_PATH" default:"acousticid.sqlite3" help:"SQLite file or Badger directory."`
	Backend   string `env:"ACOUSTICID_BACKEND" default:"sqlite" enum:"memory,sqlite,postgres,badger,mongo" help:"Index backend."`
	DSN       string `name:"dsn" env:"ACOUSTICID_DSN" help:"Postgres DSN or MongoDB URI."`
	TempDir   string `name:"temp" env:"ACOUSTICID_TEMP_DIR" help:"Directory for uploads and ffmpeg conversion."`
	Rate      int    `default:"22050" help:"Sample rate used when converting with ffmpeg."`
	Origins   string `default:"*" env:"ACOUSTICID_ORIGINS" help:"Comma-separated list of allowed CORS origins (use * for all)."`
	AccessLog bool   `name:"access-log" help:"Log every request."`
	LogLevel  string `name:"log-level" env:"ACOUSTICID_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log verbosity."`
}

func parseOrigins(s string) []string {
	if s == "*" {
		return []string{"*"}
	}
	origins := strings.Split(s, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func main() {
	_ = godotenv.Load()

	var cfg config
	kong.Parse(&cfg,
		kong.Name("acousticid-server"),
		kong.Description("HTTP API for acoustic fingerprint matching"),
	)

	log := logger.GetLogger()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	opts := []acousticid.Option{
		acousticid.WithBackend(cfg.Backend),
		acousticid.WithDBPath(cfg.DB),
		acousticid.WithTempDir(tempDir),
		acousticid.WithSampleRate(cfg.Rate),
	}
	if cfg.DSN != "" {
		opts = append(opts, acousticid.WithDSN(cfg.DSN))
	}

	service, err := acousticid.NewServiceContext(ctx, opts...)
	if err != nil {
		log.Errorf("Failed to create service: %v", err)
		os.Exit(1)
	}
	defer service.Close()

	hasher, err := fingerprint.NewHasher(fingerprint.DefaultConfig().Scheme)
	if err != nil {
		log.Errorf("Failed to create hasher: %v", err)
		os.Exit(1)
	}

	server := NewServer(service, &ServerConfig{
		Port:           cfg.Port,
		Backend:        cfg.Backend,
		TempDir:        tempDir,
		HashScheme:     hasher.Scheme().String(),
		AllowedOrigins: parseOrigins(cfg.Origins),
		AccessLog:      cfg.AccessLog,
	})
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
		stop()
		service.Close()
		os.Exit(1)
	}
}
