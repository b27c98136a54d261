// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_JSONRoundTrip(t *testing.T) {
	cfg := Config{
		Version: "1",
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8771},
		Sessions: SessionsConfig{
			Root:        "sessions",
			ReapAfter:   "10m",
			FIFOTimeout: "10s",
		},
		Assistant: AssistantConfig{
			Binary:          "claude",
			DefaultModel:    "sonnet",
			NotifyToolNames: []string{"mcp__notify__send"},
			NoiseRules: []NoiseRuleConfig{
				{Patterns: []string{"Caveat:"}, MatchMode: "any"},
			},
			EnableDiff: true,
		},
		Vault:   VaultConfig{Root: "~/.claude/projects"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg, decoded)
}

func TestNoiseRuleConfig_DefaultMatchModeIsEmptyUntilDefaulted(t *testing.T) {
	var rule NoiseRuleConfig
	assert.Empty(t, rule.MatchMode)
}
