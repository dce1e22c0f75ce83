package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides, applied after the config file.
const (
	EnvAPIURL         = "CHAT_API_URL"
	EnvRealtimeURL    = "CHAT_REALTIME_URL"
	EnvIdentityAPIKey = "CHAT_IDENTITY_API_KEY"
)

// Config represents the global ~/.socialchat/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Backend        Backend  `toml:"backend"`
	Realtime       Realtime `toml:"realtime"`
	Identity       Identity `toml:"identity"`
}

// Backend configures the REST client.
type Backend struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// Realtime configures the live conversation channel.
type Realtime struct {
	URL               string   `toml:"url"`
	Transports        []string `toml:"transports"`
	ConnectTimeout    Duration `toml:"connect_timeout"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	PollInterval      Duration `toml:"poll_interval"`
}

// Identity configures the identity provider.
type Identity struct {
	APIKey string `toml:"api_key"`
	// Endpoint overrides the provider base URL, mostly for emulators.
	Endpoint     string `toml:"endpoint"`
	CallbackPort int    `toml:"callback_port"`
	// LegacyPlaceholderPassword is sent as the password of federated logins
	// for backends that still expect one. Empty disables it.
	LegacyPlaceholderPassword string `toml:"legacy_placeholder_password"`
}

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:3000"
	}
	if c.Backend.Timeout.Duration == 0 {
		c.Backend.Timeout.Duration = 15 * time.Second
	}
	if c.Realtime.URL == "" {
		c.Realtime.URL = c.Backend.URL
	}
	if len(c.Realtime.Transports) == 0 {
		c.Realtime.Transports = []string{"websocket", "polling"}
	}
	if c.Realtime.ConnectTimeout.Duration == 0 {
		c.Realtime.ConnectTimeout.Duration = 10 * time.Second
	}
	if c.Realtime.ReconnectAttempts == 0 {
		c.Realtime.ReconnectAttempts = 5
	}
	if c.Realtime.ReconnectDelay.Duration == 0 {
		c.Realtime.ReconnectDelay.Duration = time.Second
	}
	if c.Realtime.PollInterval.Duration == 0 {
		c.Realtime.PollInterval.Duration = 2 * time.Second
	}
}

// Load reads config from the given path and fills defaults. Returns error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadEffective is Load with a missing file treated as defaults, followed
// by the optional .env file at envPath and the CHAT_* environment overrides.
// envPath may be empty.
func LoadEffective(path, envPath string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if envPath != "" {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	}

	backendFromEnv := false
	if v := os.Getenv(EnvAPIURL); v != "" {
		backendFromEnv = cfg.Realtime.URL == cfg.Backend.URL
		cfg.Backend.URL = v
	}
	if v := os.Getenv(EnvRealtimeURL); v != "" {
		cfg.Realtime.URL = v
	} else if backendFromEnv {
		cfg.Realtime.URL = cfg.Backend.URL
	}
	if v := os.Getenv(EnvIdentityAPIKey); v != "" {
		cfg.Identity.APIKey = v
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
