// Package config resolves the runtime configuration the core packages need:
// where the Adept authorization directory lives, where the Kobo Desktop
// library lives, and the HTTP/retry knobs for talking to a Content Server.
//
// Loading a config file and parsing CLI flags is the caller's job (out of
// scope for the core this repo implements); New still follows the teacher's
// layered-load shape (defaults, then YAML file, then environment) so the
// core can be pointed at a real Adobe/Kobo environment without a CLI.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Config holds the paths and network knobs the core packages consume.
// Configure via YAML file (/config/bookloader.yaml) or environment variables.
// Environment variables use uppercase with underscores (e.g. AUTH_DIR).
type Config struct {
	// AuthDir is the Adept authorization directory (devicesalt, device.xml,
	// activation.xml / activation.dat).
	AuthDir string `koanf:"auth_dir" json:"auth_dir"`

	// KoboDir is the Kobo Desktop Edition library directory. Empty means
	// use the platform default.
	KoboDir string `koanf:"kobo_dir" json:"kobo_dir"`

	// HTTPTimeout bounds every single Adept/ACSM network call (spec: 30s).
	HTTPTimeout time.Duration `koanf:"http_timeout" json:"http_timeout"`

	// ACSMMaxRetries is how many times a NetworkTimeout fulfillment request
	// is retried before surfacing the error (spec: 3).
	ACSMMaxRetries int `koanf:"acsm_max_retries" json:"acsm_max_retries"`

	// ACSMRetryBaseDelay is the first backoff delay; each retry doubles it
	// (spec: 1s, 2s, 4s).
	ACSMRetryBaseDelay time.Duration `koanf:"acsm_retry_base_delay" json:"acsm_retry_base_delay"`

	// Hostname is computed, not loaded from config.
	Hostname string `koanf:"-" json:"-"`
}

func defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		AuthDir:            filepath.Join(home, ".config", "book-loader", ".adobe"),
		KoboDir:            "",
		HTTPTimeout:        30 * time.Second,
		ACSMMaxRetries:     3,
		ACSMRetryBaseDelay: 1 * time.Second,
	}
}

// New creates a new Config by loading from file and environment variables.
// Load order (later sources override earlier):
//  1. Defaults
//  2. Config file (/config/bookloader.yaml or CONFIG_FILE env var)
//  3. Environment variables
func New() (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "/config/bookloader.yaml"
	}
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load config file %s", configPath)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get hostname")
	}
	cfg.Hostname = hostname

	if cfg.AuthDir == "" {
		return nil, errors.New("auth_dir must not be empty")
	}

	return cfg, nil
}

// NewForTest creates a Config rooted at a temporary directory, for tests
// that need a real (but throwaway) auth directory.
func NewForTest(authDir string) *Config {
	cfg := defaults()
	cfg.AuthDir = authDir
	cfg.Hostname = "test-host"
	return cfg
}
