// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// Config is the root configuration structure.
type Config struct {
	Highlight HighlightConfig `toml:"highlight"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
}

// HighlightConfig holds resolution and highlighting settings.
type HighlightConfig struct {
	// AutoHighlight restores stored bookmarks when a document opens.
	// Defaults to true if unset.
	AutoHighlight     *bool `toml:"auto_highlight"`
	PendingTTLSeconds int   `toml:"pending_ttl_seconds"`
	DebounceMS        int   `toml:"debounce_ms"`
	PulseMS           int   `toml:"pulse_ms"`
	ContextChars      int   `toml:"context_chars"`
	// Sites limits auto-highlighting to URLs matching one of these
	// doublestar patterns, matched against host and path
	// (e.g. "chat.example.com/c/**"). Empty allows every site.
	Sites []string `toml:"sites"`
}

// AutoHighlightOrDefault returns whether stored bookmarks are restored on load.
func (h HighlightConfig) AutoHighlightOrDefault() bool {
	if h.AutoHighlight == nil {
		return true
	}
	return *h.AutoHighlight
}

// PendingTTLOrDefault returns how long unresolved anchors wait, 30s if unset.
func (h HighlightConfig) PendingTTLOrDefault() time.Duration {
	if h.PendingTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.PendingTTLSeconds) * time.Second
}

// DebounceOrDefault returns the quiet period before a retry sweep, 500ms if unset.
func (h HighlightConfig) DebounceOrDefault() time.Duration {
	if h.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(h.DebounceMS) * time.Millisecond
}

// PulseOrDefault returns how long a revealed highlight pulses, 1s if unset.
func (h HighlightConfig) PulseOrDefault() time.Duration {
	if h.PulseMS <= 0 {
		return time.Second
	}
	return time.Duration(h.PulseMS) * time.Millisecond
}

// ContextCharsOrDefault returns the captured context length, 150 if unset.
func (h HighlightConfig) ContextCharsOrDefault() int {
	if h.ContextChars <= 0 {
		return 150
	}
	return h.ContextChars
}

// AllowsURL reports whether auto-highlighting applies to rawURL.
func (h HighlightConfig) AllowsURL(rawURL string) bool {
	if len(h.Sites) == 0 {
		return true
	}
	target := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		target = u.Host + u.Path
	}
	for _, pattern := range h.Sites {
		if ok, err := doublestar.Match(pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// StoreConfig holds bookmark database settings.
type StoreConfig struct {
	Path string `toml:"path"`
}

// PathOrDefault returns the database path, ~/.config/threadmark/threadmark.db if unset.
func (s StoreConfig) PathOrDefault() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "threadmark.db"), nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AddrOrDefault returns the listen address or "127.0.0.1:7315" if unset.
func (s ServerConfig) AddrOrDefault() string {
	if s.Addr == "" {
		return "127.0.0.1:7315"
	}
	return s.Addr
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	return cfg
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads ~/.config/threadmark/config.toml, falling back to
// Default when the file does not exist.
func LoadDefault() (*Config, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	h := c.Highlight
	for _, field := range []struct {
		name  string
		value int
	}{
		{"pending_ttl_seconds", h.PendingTTLSeconds},
		{"debounce_ms", h.DebounceMS},
		{"pulse_ms", h.PulseMS},
		{"context_chars", h.ContextChars},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Errorf("highlight.%s=%d must not be negative", field.name, field.value))
		}
	}

	for i, pattern := range h.Sites {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("highlight.sites[%d]=%q is not a valid pattern", i, pattern))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"THREADMARK_DB", func(v string) {
			if v != "" {
				cfg.Store.Path = v
			}
		}},
		{"THREADMARK_ADDR", func(v string) {
			if v != "" {
				cfg.Server.Addr = v
			}
		}},
		{"THREADMARK_AUTO_HIGHLIGHT", func(v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				cfg.Highlight.AutoHighlight = &b
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the threadmark data directory (~/.config/threadmark).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "threadmark"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
