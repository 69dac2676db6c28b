package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Platform identifiers used throughout the codebase.
const (
	PlatformDeliveroo = "deliveroo"
	PlatformGlovo     = "glovo"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []string{PlatformDeliveroo, PlatformGlovo}

// Credentials holds portal login credentials for one platform.
type Credentials struct {
	Email    string
	Password string
}

// Configured reports whether both email and password are set.
func (c Credentials) Configured() bool {
	return c.Email != "" && c.Password != ""
}

type Config struct {
	DataDir      string
	DownloadsDir string
	SessionsDir  string
	DBPath       string

	Headless bool

	// NavTimeout bounds every single browser navigation/wait.
	NavTimeout time.Duration
	// RunDeadline bounds a whole sync run across all entities.
	RunDeadline time.Duration
	// RefreshThreshold: refresh the token when less than this remains.
	RefreshThreshold time.Duration
	// KeepAliveInterval between keep-alive ticks in daemon mode.
	KeepAliveInterval time.Duration

	EntityRetries int
	RetryBackoff  time.Duration

	SlackWebhookURL string

	Deliveroo Credentials
	Glovo     Credentials
}

type tomlConfig struct {
	DataDir          string `toml:"data_dir"`
	Headless         *bool  `toml:"headless"`
	NavTimeoutSec    int    `toml:"nav_timeout_seconds"`
	RunDeadlineMin   int    `toml:"run_deadline_minutes"`
	RefreshThreshMin int    `toml:"refresh_threshold_minutes"`
	KeepAliveMin     int    `toml:"keepalive_interval_minutes"`
	EntityRetries    *int   `toml:"entity_retries"`
	RetryBackoffSec  int    `toml:"retry_backoff_seconds"`
	SlackWebhookURL  string `toml:"slack_webhook_url"`
}

// Load reads config from ~/.config/deliverydash/config.toml plus a .env file
// for credentials. Both are optional; defaults apply when missing.
func Load() (*Config, error) {
	cfg := defaults()

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil // Use defaults
	}

	tomlPath := filepath.Join(home, ".config", "deliverydash", "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", tomlPath, err)
		}
		cfg.apply(tc)
	}

	// Credentials and the webhook live in .env, never in the TOML file.
	// A missing .env is fine: plain environment variables still apply.
	_ = godotenv.Load(filepath.Join(cfg.DataDir, ".env"), ".env")

	cfg.Deliveroo = Credentials{
		Email:    os.Getenv("DELIVEROO_EMAIL"),
		Password: os.Getenv("DELIVEROO_PASSWORD"),
	}
	cfg.Glovo = Credentials{
		Email:    os.Getenv("GLOVO_EMAIL"),
		Password: os.Getenv("GLOVO_PASSWORD"),
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		cfg.SlackWebhookURL = url
	}

	return cfg, nil
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".local", "share", "deliverydash")

	cfg := &Config{
		DataDir:           dataDir,
		Headless:          true,
		NavTimeout:        60 * time.Second,
		RunDeadline:       45 * time.Minute,
		RefreshThreshold:  30 * time.Minute,
		KeepAliveInterval: 2 * time.Hour,
		EntityRetries:     2,
		RetryBackoff:      5 * time.Second,
	}
	cfg.derivePaths()
	return cfg
}

func (c *Config) apply(tc tomlConfig) {
	if tc.DataDir != "" {
		c.DataDir = tc.DataDir
	}
	if tc.Headless != nil {
		c.Headless = *tc.Headless
	}
	if tc.NavTimeoutSec > 0 {
		c.NavTimeout = time.Duration(tc.NavTimeoutSec) * time.Second
	}
	if tc.RunDeadlineMin > 0 {
		c.RunDeadline = time.Duration(tc.RunDeadlineMin) * time.Minute
	}
	if tc.RefreshThreshMin > 0 {
		c.RefreshThreshold = time.Duration(tc.RefreshThreshMin) * time.Minute
	}
	if tc.KeepAliveMin > 0 {
		c.KeepAliveInterval = time.Duration(tc.KeepAliveMin) * time.Minute
	}
	if tc.EntityRetries != nil && *tc.EntityRetries >= 0 {
		c.EntityRetries = *tc.EntityRetries
	}
	if tc.RetryBackoffSec > 0 {
		c.RetryBackoff = time.Duration(tc.RetryBackoffSec) * time.Second
	}
	if tc.SlackWebhookURL != "" {
		c.SlackWebhookURL = tc.SlackWebhookURL
	}
	c.derivePaths()
}

func (c *Config) derivePaths() {
	c.DownloadsDir = filepath.Join(c.DataDir, "downloads")
	c.SessionsDir = filepath.Join(c.DataDir, "sessions")
	c.DBPath = filepath.Join(c.DataDir, "dash.db")
}

// CredentialsFor returns the credentials for a platform.
func (c *Config) CredentialsFor(platform string) Credentials {
	switch platform {
	case PlatformDeliveroo:
		return c.Deliveroo
	case PlatformGlovo:
		return c.Glovo
	}
	return Credentials{}
}

// PlatformDownloadsDir returns the per-platform downloads directory.
func (c *Config) PlatformDownloadsDir(platform string) string {
	return filepath.Join(c.DownloadsDir, platform)
}

// SessionFile returns the session file path for a platform.
func (c *Config) SessionFile(platform string) string {
	return filepath.Join(c.SessionsDir, platform+"_session.json")
}

// EnsureDirectories creates the data directory tree.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.DownloadsDir, c.SessionsDir}
	for _, p := range Platforms {
		dirs = append(dirs, c.PlatformDownloadsDir(p))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
