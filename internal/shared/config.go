package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Download    DownloadConfig    `toml:"download"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
//
// They are only used for client-credentials metadata lookups of provider track IDs.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DownloadConfig carries everything the download pipeline and retention sweep need.
type DownloadConfig struct {
	ScratchDir     string   `toml:"scratch_dir"`
	Retention      Duration `toml:"retention"`
	SweepInterval  Duration `toml:"sweep_interval"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	AcquireTimeout Duration `toml:"acquire_timeout"`
	Timeout        Duration `toml:"timeout"`
	RateLimit      float64  `toml:"rate_limit"`
	Format         string   `toml:"format"`
	AudioQuality   string   `toml:"audio_quality"`
	Executable     string   `toml:"executable"`
}

// LogConfig controls the service logger.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "10m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads the given .env files into the process environment when they exist.
//
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values with environment variables.
//
// lookup is usually [os.LookupEnv]; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("SPOTIFY_CLIENT_ID"); ok {
		c.Credentials.Spotify.ClientID = v
	}
	if v, ok := lookup("SPOTIFY_CLIENT_SECRET"); ok {
		c.Credentials.Spotify.ClientSecret = v
	}
	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimPrefix(v, ":")); err == nil {
			c.Server.Port = port
		}
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := lookup("SCRATCH_DIR"); ok && v != "" {
		c.Download.ScratchDir = v
	}
	if v, ok := lookup("MAX_CONCURRENT_JOBS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.MaxConcurrent = n
		}
	}
	if v, ok := lookup("RETENTION_MINUTES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.Retention.Duration = time.Duration(n) * time.Minute
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate normalizes the download settings and reports values the service cannot run with.
func (c *Config) Validate() error {
	d := &c.Download
	if d.ScratchDir == "" {
		d.ScratchDir = filepath.Join(os.TempDir(), "rhythm_dl")
	}
	d.ScratchDir = ExpandPath(d.ScratchDir)

	if d.MaxConcurrent < 1 {
		return fmt.Errorf("%w: download.max_concurrent must be at least 1", ErrInvalidConfig)
	}
	if d.Retention.Duration <= 0 {
		return fmt.Errorf("%w: download.retention must be positive", ErrInvalidConfig)
	}
	if d.SweepInterval.Duration <= 0 {
		d.SweepInterval.Duration = time.Minute
	}
	if d.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: download.timeout must be positive", ErrInvalidConfig)
	}
	if d.Format == "" {
		d.Format = "mp3"
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

// HasSpotifyCredentials reports whether both Spotify client credentials are set.
func (c *Config) HasSpotifyCredentials() bool {
	return c.Credentials.Spotify.ClientID != "" && c.Credentials.Spotify.ClientSecret != ""
}
