package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/himanishpuri/acousticid/pkg/acousticid"
	"github.com/himanishpuri/acousticid/pkg/logger"
)

var version = "0.1.0"

// Globals are the options shared by every command.
type Globals struct {
	DB       string `name:"db" env:"ACOUSTICID_DB_PATH" default:"acousticid.sqlite3" help:"SQLite file or Badger directory."`
	Backend  string `env:"ACOUSTICID_BACKEND" default:"sqlite" enum:"memory,sqlite,postgres,badger,mongo" help:"Index backend."`
	DSN      string `name:"dsn" env:"ACOUSTICID_DSN" help:"Postgres DSN or MongoDB URI."`
	TempDir  string `name:"temp" env:"ACOUSTICID_TEMP_DIR" type:"path" help:"Scratch directory for ffmpeg conversion."`
	Rate     int    `default:"22050" help:"Sample rate used when converting with ffmpeg."`
	LogLevel string `name:"log-level" env:"ACOUSTICID_LOG_LEVEL" default:"warn" enum:"debug,info,warn,error" help:"Log verbosity."`

	ctx context.Context
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Version     kong.VersionFlag `short:"v" help:"Show version information."`
	Add         AddCmd           `cmd:"" help:"Fingerprint an audio file and add it to the corpus."`
	Index       IndexCmd         `cmd:"" help:"Add every audio file under a directory."`
	Match       MatchCmd         `cmd:"" help:"Identify an audio clip."`
	List        ListCmd          `cmd:"" help:"List songs in the corpus."`
	Delete      DeleteCmd        `cmd:"" help:"Remove a song and its fingerprints."`
	Stats       StatsCmd         `cmd:"" help:"Show corpus totals."`
	Fingerprint FingerprintCmd   `cmd:"" help:"Print the fingerprints of an audio file as JSON."`
	Spectrogram SpectrogramCmd   `cmd:"" help:"Render an audio file's spectrogram to PNG."`
}

// createService creates a new service with the configured options
func (g *Globals) createService() (acousticid.Service, error) {
	opts := []acousticid.Option{
		acousticid.WithBackend(g.Backend),
		acousticid.WithDBPath(g.DB),
		acousticid.WithSampleRate(g.Rate),
	}
	if g.DSN != "" {
		opts = append(opts, acousticid.WithDSN(g.DSN))
	}
	if g.TempDir != "" {
		opts = append(opts, acousticid.WithTempDir(g.TempDir))
	}
	return acousticid.NewServiceContext(g.ctx, opts...)
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("acousticid"),
		kong.Description("Acoustic fingerprinting and matching"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Help(styledHelpPrinter()),
	)

	logger.SetLevel(logger.ParseLevel(cli.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.Globals.ctx = ctx

	if err := kctx.Run(&cli.Globals); err != nil {
		printError(err.Error())
		stop()
		os.Exit(1)
	}
}
