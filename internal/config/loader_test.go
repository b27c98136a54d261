// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiond.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l := NewLoader()
	cfg, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		assistant: {
			binary: "claude"
			default_model: "sonnet"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude", cfg.Assistant.Binary)
	assert.Equal(t, "sonnet", cfg.Assistant.DefaultModel)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Comments, unquoted keys, and trailing commas are all HJSON features
	// this loader must tolerate since it reads .hjson, not strict JSON.
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		assistant: {
			binary: claude,
			default_model: sonnet,
		}
	}`

	cfg := loadFromString(t, configContent)
	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "claude", cfg.Assistant.Binary)
}

func TestLoader_Load_MissingFile(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "missing.hjson"))
	assert.Error(t, err)
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiond.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{ not: valid: hjson:"), 0o644))

	l := NewLoader()
	_, err := l.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_LoadWithDefaults_AppliesDefaults(t *testing.T) {
	cfg := loadFromString(t, `{ version: "1.0" }`)
	applyDefaults(cfg)

	assert.Equal(t, 8771, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sessions", cfg.Sessions.Root)
	assert.Equal(t, "10m", cfg.Sessions.ReapAfter)
	assert.Equal(t, "10s", cfg.Sessions.FIFOTimeout)
	assert.Equal(t, "claude", cfg.Assistant.Binary)
	assert.Equal(t, "sonnet", cfg.Assistant.DefaultModel)
}

func TestLoader_LoadWithDefaults_DoesNotOverrideSetValues(t *testing.T) {
	cfg := loadFromString(t, `{
		version: "1.0"
		server: { port: 9000 host: "0.0.0.0" }
		assistant: { binary: "/usr/local/bin/claude" default_model: "opus" }
	}`)
	applyDefaults(cfg)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Assistant.Binary)
	assert.Equal(t, "opus", cfg.Assistant.DefaultModel)
}

func TestLoader_LoadWithDefaults_DefaultsNoiseRuleMatchMode(t *testing.T) {
	cfg := loadFromString(t, `{
		assistant: { noise_rules: [ { patterns: ["Caveat:"] } ] }
	}`)
	applyDefaults(cfg)
	require.Len(t, cfg.Assistant.NoiseRules, 1)
	assert.Equal(t, "any", cfg.Assistant.NoiseRules[0].MatchMode)
}

func TestLoader_LoadWithDefaults_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("SESSIOND_TEST_ROOT", "/tmp/sessiond-test")
	l := NewLoader()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiond.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		sessions: { root: "{{ env \"SESSIOND_TEST_ROOT\" }}/sessions" }
	}`), 0o644))

	cfg, err := l.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sessiond-test/sessions", cfg.Sessions.Root)
}

func TestLoader_FindConfig_PrefersHJSON(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessiond.hjson"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessiond.json"), []byte("{}"), 0o644))

	l := NewLoader()
	path, err := l.FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "sessiond.hjson", filepath.Base(path))
}

func TestLoader_FindConfig_NotFound(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(dir))

	l := NewLoader()
	_, err = l.FindConfig()
	assert.Error(t, err)
}
