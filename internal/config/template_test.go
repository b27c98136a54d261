// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateExpander_Expand_NoPlaceholder_ReturnsUnchanged(t *testing.T) {
	e := NewTemplateExpander()
	out, err := e.Expand("plain/literal/path")
	require.NoError(t, err)
	assert.Equal(t, "plain/literal/path", out)
}

func TestTemplateExpander_Expand_Env(t *testing.T) {
	t.Setenv("SESSIOND_TEMPLATE_TEST", "/home/ops")
	e := NewTemplateExpander()
	out, err := e.Expand(`{{ env "SESSIOND_TEMPLATE_TEST" }}/sessions`)
	require.NoError(t, err)
	assert.Equal(t, "/home/ops/sessions", out)
}

func TestTemplateExpander_Expand_Default(t *testing.T) {
	e := NewTemplateExpander()
	out, err := e.Expand(`{{ default "claude" "" }}`)
	require.NoError(t, err)
	assert.Equal(t, "claude", out)
}

func TestTemplateExpander_Expand_Slugify(t *testing.T) {
	e := NewTemplateExpander()
	out, err := e.Expand(`{{ slugify "My Project/v2" }}`)
	require.NoError(t, err)
	assert.Equal(t, "my-project-v2", out)
}

func TestTemplateExpander_Expand_InvalidTemplate(t *testing.T) {
	e := NewTemplateExpander()
	_, err := e.Expand(`{{ .Unclosed `)
	assert.Error(t, err)
}

func TestTemplateExpander_ExpandConfig_ExpandsPathFields(t *testing.T) {
	t.Setenv("SESSIOND_TEMPLATE_TEST", "/home/ops")
	e := NewTemplateExpander()
	cfg := &Config{
		Sessions:  SessionsConfig{Root: `{{ env "SESSIOND_TEMPLATE_TEST" }}/sessions`},
		Assistant: AssistantConfig{Binary: "claude"},
		Vault:     VaultConfig{Root: `{{ env "SESSIOND_TEMPLATE_TEST" }}/.claude/projects`},
	}

	expanded, err := e.ExpandConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/home/ops/sessions", expanded.Sessions.Root)
	assert.Equal(t, "claude", expanded.Assistant.Binary)
	assert.Equal(t, "/home/ops/.claude/projects", expanded.Vault.Root)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My Project":     "my-project",
		"a/b/c":          "a-b-c",
		"Already-Slug":   "already-slug",
		"multi   spaces": "multi-spaces",
		"./weird_.chars": "weird-chars",
	}
	for input, want := range cases {
		assert.Equal(t, want, Slugify(input), "input=%q", input)
	}
}

func TestReplace(t *testing.T) {
	assert.Equal(t, "a-b-c", Replace("/", "-", "a/b/c"))
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "fallback", Default("fallback", ""))
	assert.Equal(t, "value", Default("fallback", "value"))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
	assert.Equal(t, "'plain'", Quote("plain"))
}
