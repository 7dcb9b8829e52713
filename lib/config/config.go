// Copyright 2026 The Tracker Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the tracker
// daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - TRACKER_CONFIG environment variable, or
//   - --config flag passed to trackerd
//
// There are no fallbacks or automatic discovery. Flags override file
// values; the file overrides defaults. The core consumes no
// environment variables beyond TRACKER_CONFIG itself.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the trackerd configuration.
type Config struct {
	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the low end of the inclusive bind scan.
	Port int `yaml:"port"`

	// PortEnd is the high end of the inclusive bind scan. Zero means
	// "Port only"; a nonzero value below Port fails Validate.
	PortEnd int `yaml:"port_end"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Limits bounds protocol resource use.
	Limits LimitsConfig `yaml:"limits"`
}

// LogConfig configures the daemon's slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Silent suppresses info-level logs regardless of Level. Matches
	// the silent flag of the embedded tracker entry point.
	Silent bool `yaml:"silent"`
}

// LimitsConfig bounds protocol resource use.
type LimitsConfig struct {
	// MaxFrameBytes caps accepted frame payloads. Zero applies the
	// wire default (16 MiB).
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`
}

// Default returns the default configuration: listen on all interfaces,
// scan the conventional tracker port range.
func Default() *Config {
	return &Config{
		Host:    "0.0.0.0",
		Port:    9190,
		PortEnd: 9199,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the TRACKER_CONFIG environment
// variable. Fails if it is not set — callers that support a --config
// flag should prefer LoadFile.
func Load() (*Config, error) {
	path := os.Getenv("TRACKER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("TRACKER_CONFIG environment variable not set; " +
			"set it to the path of your tracker.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging over
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, fmt.Errorf("host is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PortEnd != 0 && (c.PortEnd < c.Port || c.PortEnd > 65535) {
		errs = append(errs, fmt.Errorf("port_end %d must be in [%d, 65535]", c.PortEnd, c.Port))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
