// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading, validation, and
// template expansion for sessiond.
package config

// Config is the root configuration structure for sessiond.
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Sessions  SessionsConfig  `json:"sessions"`
	Assistant AssistantConfig `json:"assistant"`
	Vault     VaultConfig     `json:"vault"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig configures the gateway's HTTP/WebSocket listener.
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	TLSCert string `json:"tls_cert"` // enables HTTPS if both cert and key set
	TLSKey  string `json:"tls_key"`
}

// SessionsConfig configures the engine's session registry.
type SessionsConfig struct {
	// Root is the directory holding each session's journal
	// (sessions/<id>/{in,out}.jsonl, metadata.json, input.fifo).
	Root string `json:"root"`
	// ReapAfter is how long a session may sit idle before the reaper
	// hibernates it (spec §5 Reaper), e.g. "10m".
	ReapAfter string `json:"reap_after"`
	// FIFOTimeout bounds how long the engine waits for the supervisor's
	// reader to attach to a session's input pipe, e.g. "10s".
	FIFOTimeout string `json:"fifo_timeout"`
}

// AssistantConfig configures how the assistant CLI is launched and how its
// raw output is turned into normalized frames.
type AssistantConfig struct {
	// Binary is the path or name of the assistant CLI executable.
	Binary string `json:"binary"`
	// DefaultModel is used when a session is created without one.
	DefaultModel string `json:"default_model"`
	// NotifyToolNames identifies tool_use blocks that represent a
	// notification to the user rather than ordinary tool work (spec §4.6).
	NotifyToolNames []string `json:"notify_tool_names"`
	// NoiseRules filters text-bearing frames before they're ever written
	// to a session's journal (spec §4.6).
	NoiseRules []NoiseRuleConfig `json:"noise_rules"`
	// EnableDiff turns on unified-diff enrichment of Edit/Write tool calls.
	EnableDiff bool `json:"enable_diff"`
}

// NoiseRuleConfig is one configured noise rule: a pattern set and how they
// combine (spec §4.6 "configurable set of substring/pattern rules").
type NoiseRuleConfig struct {
	Patterns  []string `json:"patterns"`
	MatchMode string   `json:"match_mode"` // "any" (default) or "all"
}

// VaultConfig points at the assistant tool's own on-disk project vault, the
// read-only hydration source of spec §4.8.
type VaultConfig struct {
	Root string `json:"root"`
}

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}
