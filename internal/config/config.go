// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for planweave.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.planweave/config.toml
//   - ~/.planweave/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/planweave/planweave/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete planweave configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// Server connection configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Project selection
	Project ProjectConfig `toml:"project" json:"project"`

	// Streaming behavior
	Stream StreamConfig `toml:"stream" json:"stream"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// ServerConfig contains backend connection configuration.
type ServerConfig struct {
	// BaseURL is the planning backend base URL.
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the per-request timeout for REST calls in seconds.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the retry budget for transient REST failures.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RateLimit is the sustained request rate per second (0 = default).
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
}

// Timeout returns the REST request timeout as a duration.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// ProjectConfig selects the default project.
type ProjectConfig struct {
	// ID is the project the client starts in. Empty means pick at launch.
	ID string `toml:"id" json:"id"`
	// GitHub routes issue operations through the GitHub-backed endpoints.
	GitHub bool `toml:"github" json:"github"`
}

// StreamConfig tunes the streaming transport.
type StreamConfig struct {
	// IdleTimeoutSecs aborts a stream after this many seconds without
	// bytes from the server.
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`
}

// IdleTimeout returns the stream idle timeout as a duration.
func (s StreamConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSecs) * time.Second
}

// UIConfig contains terminal presentation configuration.
type UIConfig struct {
	// Theme selects the color theme: "dark", "light", or "auto".
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders AI responses and documents as styled markdown.
	Markdown bool `toml:"markdown" json:"markdown"`
	// WordWrap is the render width for markdown output.
	WordWrap int `toml:"word_wrap" json:"word_wrap"`
	// ShowDiffs prints a word diff automatically when a proposal arrives.
	ShowDiffs bool `toml:"show_diffs" json:"show_diffs"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			BaseURL:     "http://localhost:8000",
			TimeoutSecs: 30,
			MaxRetries:  3,
			RateLimit:   10,
		},

		Project: ProjectConfig{
			ID:     "",
			GitHub: false,
		},

		Stream: StreamConfig{
			IdleTimeoutSecs: 90,
		},

		UI: UIConfig{
			Theme:     "auto",
			Markdown:  true,
			WordWrap:  80,
			ShowDiffs: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the planweave configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".planweave"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finishLoad(cfg)
		}
	}

	return finishLoad(cfg)
}

func finishLoad(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from an explicit path, picking the
// decoder from the file extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	switch filepath.Ext(path) {
	case ".toml":
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	case ".json":
		if err := LoadJSON(cfg, path); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	return finishLoad(cfg)
}

// fillDefaults replaces zero values with defaults so a sparse config
// file still produces a usable configuration.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaults.Server.BaseURL
	}
	if c.Server.TimeoutSecs == 0 {
		c.Server.TimeoutSecs = defaults.Server.TimeoutSecs
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = defaults.Server.MaxRetries
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = defaults.Server.RateLimit
	}

	if c.Stream.IdleTimeoutSecs == 0 {
		c.Stream.IdleTimeoutSecs = defaults.Stream.IdleTimeoutSecs
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.UI.WordWrap == 0 {
		c.UI.WordWrap = defaults.UI.WordWrap
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# planweave configuration file")
	fmt.Fprintln(file, "# Generated by planweave - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ValidationError{Field: "server.base_url", Message: "must be a valid http(s) URL"}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return ValidationError{Field: "server.base_url", Message: "scheme must be http or https"}
		}
	}

	if c.Server.TimeoutSecs < 0 {
		return ValidationError{Field: "server.timeout_secs", Message: "must be non-negative"}
	}
	if c.Server.MaxRetries < 0 || c.Server.MaxRetries > 10 {
		return ValidationError{Field: "server.max_retries", Message: "must be between 0 and 10"}
	}
	if c.Stream.IdleTimeoutSecs < 0 {
		return ValidationError{Field: "stream.idle_timeout_secs", Message: "must be non-negative"}
	}

	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		return ValidationError{Field: "ui.theme", Message: `must be "dark", "light", or "auto"`}
	}
	if c.UI.WordWrap < 0 {
		return ValidationError{Field: "ui.word_wrap", Message: "must be non-negative"}
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PLANWEAVE_URL: overrides server.base_url
//   - PLANWEAVE_PROJECT: overrides project.id
//   - PLANWEAVE_GITHUB: set to "1" or "true" to use GitHub-backed issues
//   - PLANWEAVE_IDLE_TIMEOUT: overrides stream.idle_timeout_secs
//   - PLANWEAVE_THEME: overrides ui.theme
//   - PLANWEAVE_NO_MARKDOWN: set to "1" or "true" to disable markdown rendering
func (c *Config) ApplyEnvOverrides() {
	if baseURL := os.Getenv("PLANWEAVE_URL"); baseURL != "" {
		c.Server.BaseURL = baseURL
	}

	if project := os.Getenv("PLANWEAVE_PROJECT"); project != "" {
		c.Project.ID = project
	}

	if github := os.Getenv("PLANWEAVE_GITHUB"); github != "" {
		c.Project.GitHub = github == "1" || strings.ToLower(github) == "true"
	}

	if idle := os.Getenv("PLANWEAVE_IDLE_TIMEOUT"); idle != "" {
		if secs, err := strconv.Atoi(idle); err == nil && secs > 0 {
			c.Stream.IdleTimeoutSecs = secs
		}
	}

	if theme := os.Getenv("PLANWEAVE_THEME"); theme != "" {
		c.UI.Theme = theme
	}

	if noMD := os.Getenv("PLANWEAVE_NO_MARKDOWN"); noMD != "" {
		if noMD == "1" || strings.ToLower(noMD) == "true" {
			c.UI.Markdown = false
		}
	}
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
