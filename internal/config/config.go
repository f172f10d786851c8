package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Config represents the global ~/.wppinbox/config.toml.
type Config struct {
	DefaultSession string  `toml:"default_session"`
	Gateway        Gateway `toml:"gateway"`
	Stream         Stream  `toml:"stream"`
	Daemon         Daemon  `toml:"daemon"`
}

// Gateway locates the messaging gateway.
type Gateway struct {
	BaseURL          string `toml:"base_url"`
	StreamPath       string `toml:"stream_path"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// Stream tunes the event stream reconnect policy.
type Stream struct {
	ReconnectBaseMS int `toml:"reconnect_base_ms"`
	ReconnectMaxMS  int `toml:"reconnect_max_ms"`
}

// Daemon holds inboxd process settings.
type Daemon struct {
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Gateway: Gateway{
			BaseURL:    "http://127.0.0.1:8080",
			StreamPath: "/ws",
		},
		Stream: Stream{
			ReconnectBaseMS: 1000,
			ReconnectMaxMS:  30000,
		},
		Daemon: Daemon{
			LogLevel: "info",
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("gateway.base_url %q is not an absolute URL", c.Gateway.BaseURL)
	}
	if c.Gateway.RequestTimeoutMS < 0 {
		return fmt.Errorf("gateway.request_timeout_ms must not be negative")
	}
	if c.Stream.ReconnectBaseMS < 0 || c.Stream.ReconnectMaxMS < 0 {
		return fmt.Errorf("stream reconnect delays must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Daemon.LogLevel); err != nil {
		return fmt.Errorf("daemon.log_level: %w", err)
	}
	return nil
}

// RequestTimeout returns the HTTP timeout for send calls; zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeoutMS) * time.Millisecond
}

// ReconnectBase returns the first reconnect delay.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Stream.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the reconnect delay cap.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Stream.ReconnectMaxMS) * time.Millisecond
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
