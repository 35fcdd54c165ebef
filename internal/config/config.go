package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig points at the REST service that owns mailbox storage
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// RealtimeConfig holds the event stream settings
type RealtimeConfig struct {
	// URL of the event stream endpoint; empty means "same as backend"
	URL          string `yaml:"url"`
	ReconnectMin string `yaml:"reconnect_min"`
	ReconnectMax string `yaml:"reconnect_max"`
}

// PollConfig holds the fallback refresh settings
type PollConfig struct {
	Interval string `yaml:"interval"`
}

// OAuthConfig holds the connection handshake settings
type OAuthConfig struct {
	// CallbackAddr is the local address the OAuth redirect lands on;
	// empty binds an ephemeral loopback port
	CallbackAddr string `yaml:"callback_addr"`
	PollInterval string `yaml:"poll_interval"`
	GraceDelay   string `yaml:"grace_delay"`
	Timeout      string `yaml:"timeout"`
}

// CacheConfig holds the persisted status cache settings
type CacheConfig struct {
	DBPath     string `yaml:"db_path"`
	SeedMaxAge string `yaml:"seed_max_age"`
}

// Config holds all configuration for the inbox sync client
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Poll     PollConfig     `yaml:"poll"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Cache    CacheConfig    `yaml:"cache"`

	// Logging
	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000",
		},
		Realtime: RealtimeConfig{
			ReconnectMin: "2s",
			ReconnectMax: "30s",
		},
		Poll: PollConfig{
			Interval: "30s",
		},
		OAuth: OAuthConfig{
			PollInterval: "500ms",
			GraceDelay:   "2s",
			Timeout:      "5m",
		},
		Cache: CacheConfig{
			DBPath:     DefaultDBPath(),
			SeedMaxAge: "10m",
		},
		LogFile: "",
	}
}

// LoadConfig loads configuration from a file, falling back to defaults for
// anything unset. A missing file is not an error
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", configPath, err)
			}
		}
	}

	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "inboxsync", "config.yaml")
}

// DefaultDBPath returns the default path of the persisted status database
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "inboxsync", "status.db")
}

// DefaultLogDir returns the default log directory path
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "inboxsync")
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// StreamURL returns the realtime endpoint, defaulting to the backend base URL
func (c *Config) StreamURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	return c.Backend.BaseURL + "/api/events"
}

// GetPollInterval returns the parsed fallback poll interval
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Poll.Interval, 30*time.Second)
}

// GetReconnectMin returns the parsed minimum reconnect backoff
func (c *Config) GetReconnectMin() time.Duration {
	return parseDuration(c.Realtime.ReconnectMin, 2*time.Second)
}

// GetReconnectMax returns the parsed maximum reconnect backoff
func (c *Config) GetReconnectMax() time.Duration {
	return parseDuration(c.Realtime.ReconnectMax, 30*time.Second)
}

// GetOAuthPollInterval returns the parsed handshake status poll cadence
func (c *Config) GetOAuthPollInterval() time.Duration {
	return parseDuration(c.OAuth.PollInterval, 500*time.Millisecond)
}

// GetOAuthGraceDelay returns the parsed abort-fallback grace delay
func (c *Config) GetOAuthGraceDelay() time.Duration {
	return parseDuration(c.OAuth.GraceDelay, 2*time.Second)
}

// GetOAuthTimeout returns the parsed overall handshake ceiling
func (c *Config) GetOAuthTimeout() time.Duration {
	return parseDuration(c.OAuth.Timeout, 5*time.Minute)
}

// GetSeedMaxAge returns the parsed persisted-status age ceiling
func (c *Config) GetSeedMaxAge() time.Duration {
	return parseDuration(c.Cache.SeedMaxAge, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
