package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// minSyncInterval keeps the scheduler from hammering the server.
const minSyncInterval = time.Second

// Config holds all environment-based configuration for pantry-sync.
type Config struct {
	// Base URL of the inventory server, e.g. https://pantry.example.com
	ServerURL string `env:"PANTRY_SERVER_URL"`

	// Account credentials. Required by every command that talks to the
	// server: login, sync and daemon each sign in on start because the
	// session cookie is kept in memory only.
	Login    string `env:"PANTRY_LOGIN"`
	Password string `env:"PANTRY_PASSWORD"`

	// Path of the local replica. Defaults to ~/.pantry-sync/state.db.
	StatePath string `env:"PANTRY_STATE_PATH"`

	// Interval between automatic sync cycles. Stored in the replica's
	// settings on startup so the scheduler picks it up.
	SyncInterval time.Duration `env:"PANTRY_SYNC_INTERVAL" envDefault:"30s"`

	// Timeout of a single request to the server.
	RequestTimeout time.Duration `env:"PANTRY_REQUEST_TIMEOUT" envDefault:"16s"`

	// Locale used for the default location name and sent to the server.
	Locale string `env:"PANTRY_LOCALE" envDefault:"en"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("PANTRY_SERVER_URL is required")
	}

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PANTRY_SERVER_URL must be an absolute http or https URL, got %q", c.ServerURL)
	}

	if (c.Login == "") != (c.Password == "") {
		return fmt.Errorf("PANTRY_LOGIN and PANTRY_PASSWORD must be set together")
	}

	if c.SyncInterval < minSyncInterval {
		return fmt.Errorf("PANTRY_SYNC_INTERVAL must be at least %s, got %s", minSyncInterval, c.SyncInterval)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("PANTRY_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if c.Locale == "" {
		return fmt.Errorf("PANTRY_LOCALE must not be empty")
	}

	return nil
}

// DefaultStatePath returns the default replica location:
// ~/.pantry-sync/state.db
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".pantry-sync", "state.db"), nil
}

// HasCredentials reports whether login credentials were configured.
func (c *Config) HasCredentials() bool {
	return c.Login != "" && c.Password != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
