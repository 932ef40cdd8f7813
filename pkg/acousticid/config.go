package acousticid

import (
	"os"
	"time"

	"github.com/himanishpuri/acousticid/pkg/acousticid/fingerprint"
	"github.com/himanishpuri/acousticid/pkg/acousticid/match"
	"github.com/himanishpuri/acousticid/pkg/acousticid/storage"
)

// Environment variables read by defaultConfig.
const (
	EnvBackend = "ACOUSTICID_BACKEND"
	EnvDBPath  = "ACOUSTICID_DB_PATH"
	EnvDSN     = "ACOUSTICID_DSN"
	EnvTempDir = "ACOUSTICID_TEMP_DIR"
)

const DefaultMatchTimeout = 30 * time.Second

type Config struct {
	Backend    string
	DBPath     string // sqlite file or badger directory
	DSN        string // postgres DSN or mongo URI
	Database   string // mongo database
	TempDir    string
	SampleRate int // ffmpeg conversion rate for formats without a native decoder

	Logger Logger
	Index  storage.Index // takes precedence over Backend; not closed by the service

	Fingerprint  fingerprint.Config
	Match        match.Config
	MatchTimeout time.Duration
}

type Option func(*Config)

func WithBackend(backend string) Option {
	return func(c *Config) {
		c.Backend = backend
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithDSN(dsn string) Option {
	return func(c *Config) {
		c.DSN = dsn
	}
}

func WithDatabase(name string) Option {
	return func(c *Config) {
		c.Database = name
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithIndex makes the service use idx instead of opening a backend. The
// caller keeps ownership of idx.
func WithIndex(idx storage.Index) Option {
	return func(c *Config) {
		c.Index = idx
	}
}

func WithFingerprintConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.Fingerprint = cfg
	}
}

func WithMatchConfig(cfg match.Config) Option {
	return func(c *Config) {
		c.Match = cfg
	}
}

// WithMatchTimeout bounds each match on top of the caller's context. Zero
// disables the bound.
func WithMatchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.MatchTimeout = d
	}
}

func defaultConfig() *Config {
	return &Config{
		Backend:      envOr(EnvBackend, storage.BackendSQLite),
		DBPath:       envOr(EnvDBPath, storage.DefaultDBFile),
		DSN:          os.Getenv(EnvDSN),
		TempDir:      envOr(EnvTempDir, os.TempDir()),
		Fingerprint:  fingerprint.DefaultConfig(),
		Match:        match.DefaultConfig(),
		MatchTimeout: DefaultMatchTimeout,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) storageOptions() storage.Options {
	return storage.Options{
		Backend:  c.Backend,
		Path:     c.DBPath,
		DSN:      c.DSN,
		Database: c.Database,
	}
}
