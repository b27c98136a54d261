// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with defaults applied and path-like fields
// template-expanded, so they may reference environment variables through
// the template's env function.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if _, err := NewTemplateExpander().ExpandConfig(cfg); err != nil {
		return nil, fmt.Errorf("expand config: %w", err)
	}

	return cfg, nil
}

// FindConfig searches for a config file in the current directory. It looks
// for sessiond.hjson first, then sessiond.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"sessiond.hjson",
		"sessiond.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for sessiond.hjson, sessiond.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8771
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Sessions.Root == "" {
		cfg.Sessions.Root = "sessions"
	}
	if cfg.Sessions.ReapAfter == "" {
		cfg.Sessions.ReapAfter = "10m"
	}
	if cfg.Sessions.FIFOTimeout == "" {
		cfg.Sessions.FIFOTimeout = "10s"
	}

	if cfg.Assistant.Binary == "" {
		cfg.Assistant.Binary = "claude"
	}
	if cfg.Assistant.DefaultModel == "" {
		cfg.Assistant.DefaultModel = "sonnet"
	}
	for i := range cfg.Assistant.NoiseRules {
		if cfg.Assistant.NoiseRules[i].MatchMode == "" {
			cfg.Assistant.NoiseRules[i].MatchMode = "any"
		}
	}
}
