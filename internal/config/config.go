// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for instagov.
//
// Configuration lives in a single TOML file with sensible defaults and
// validation. All on-disk state (session store, key file, risk settings,
// action journal) hangs off one data directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/instagov/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete instagov configuration.
type Config struct {
	// DataDir is the root directory for all persisted state.
	// Empty means ~/.instagov.
	DataDir string `toml:"data_dir"`

	Backend BackendConfig `toml:"backend"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Risk    RiskConfig    `toml:"risk"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig configures the local admin API.
type ServerConfig struct {
	// Addr is the listen address. Keep it on loopback; the API is
	// unauthenticated.
	Addr string `toml:"addr"`
}

// BackendConfig configures the remote automation backend.
type BackendConfig struct {
	// BaseURL is the backend API base URL.
	BaseURL string `toml:"base_url"`
	// RequestsPerSecond throttles outbound calls.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the throttle burst size.
	Burst int `toml:"burst"`
}

// StoreConfig configures the encrypted session store.
type StoreConfig struct {
	// TTLDays is the session lifetime in days.
	TTLDays int `toml:"ttl_days"`
	// SweepIntervalHours is the background expiry sweep interval.
	SweepIntervalHours int `toml:"sweep_interval_hours"`
}

// RiskConfig configures the risk governor.
type RiskConfig struct {
	// WatchSettings reloads risk settings when the file changes on disk.
	WatchSettings bool `toml:"watch_settings"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8085",
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8086",
		},
		Store: StoreConfig{
			TTLDays:            30,
			SweepIntervalHours: 24,
		},
		Risk: RiskConfig{
			WatchSettings: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ResolveDataDir returns the effective data directory, creating it if
// needed.
func (c *Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".instagov")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// SessionStorePath returns the encrypted session store file path.
func (c *Config) SessionStorePath(dataDir string) string {
	return filepath.Join(dataDir, "sessions.dat")
}

// KeyFilePath returns the encryption key file path.
func (c *Config) KeyFilePath(dataDir string) string {
	return filepath.Join(dataDir, "session.key")
}

// RiskSettingsPath returns the risk settings file path.
func (c *Config) RiskSettingsPath(dataDir string) string {
	return filepath.Join(dataDir, "risk_settings.json")
}

// JournalPath returns the action journal database path.
func (c *Config) JournalPath(dataDir string) string {
	return filepath.Join(dataDir, "actions.db")
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path atomically.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("config: backend.base_url must not be empty")
	}
	if c.Backend.RequestsPerSecond <= 0 {
		return fmt.Errorf("config: backend.requests_per_second must be positive, got %v", c.Backend.RequestsPerSecond)
	}
	if c.Backend.Burst < 1 {
		return fmt.Errorf("config: backend.burst must be at least 1, got %d", c.Backend.Burst)
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr must not be empty")
	}
	if c.Store.TTLDays < 1 {
		return fmt.Errorf("config: store.ttl_days must be at least 1, got %d", c.Store.TTLDays)
	}
	if c.Store.SweepIntervalHours < 1 {
		return fmt.Errorf("config: store.sweep_interval_hours must be at least 1, got %d", c.Store.SweepIntervalHours)
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("config: log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
