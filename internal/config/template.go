// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
)

// TemplateExpander expands `{{ }}` placeholders in path-like config fields
// against the process environment, e.g. letting a config say
// `"root": "{{ env \"HOME\" }}/.claude/projects"` instead of a hardcoded
// path. Same text/template + FuncMap idiom as the teacher's own
// TemplateExpander, scoped down from its worktree/service/workflow
// placeholder language to the handful of helpers a config file's path
// fields actually need.
type TemplateExpander struct {
	funcMap template.FuncMap
}

// NewTemplateExpander builds an expander with the standard helper functions
// registered.
func NewTemplateExpander() *TemplateExpander {
	return &TemplateExpander{
		funcMap: template.FuncMap{
			"env":     os.Getenv,
			"slugify": Slugify,
			"replace": Replace,
			"default": Default,
			"quote":   Quote,
		},
	}
}

// Expand renders value as a text/template against the expander's FuncMap. A
// value with no `{{` is returned unchanged without invoking the template
// engine, so ordinary literal config values never pay the parsing cost.
func (e *TemplateExpander) Expand(value string) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}
	tmpl, err := template.New("config").Funcs(e.funcMap).Parse(value)
	if err != nil {
		return "", fmt.Errorf("config: parse template %q: %w", value, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", fmt.Errorf("config: execute template %q: %w", value, err)
	}
	return buf.String(), nil
}

// ExpandConfig expands every path-like string field of cfg in place,
// returning cfg for chaining. These are exactly the fields an operator is
// likely to want environment-relative: where sessions, the assistant
// binary, and the vault live.
func (e *TemplateExpander) ExpandConfig(cfg *Config) (*Config, error) {
	fields := []*string{
		&cfg.Sessions.Root,
		&cfg.Assistant.Binary,
		&cfg.Vault.Root,
	}
	for _, f := range fields {
		expanded, err := e.Expand(*f)
		if err != nil {
			return nil, err
		}
		*f = expanded
	}
	return cfg, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)
var multiHyphen = regexp.MustCompile(`-+`)

// Slugify lowercases s and collapses anything that isn't a letter, digit, or
// hyphen into a single hyphen, for generating new identifiers. This is
// deliberately more aggressive than hydrate's own slug match, which only
// replaces path separators — hydrate is matching existing vault directory
// names and can't afford to lose information literal path characters carry.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("/", "-", "_", "-", ".", "-", " ", "-").Replace(s)
	s = nonSlugChars.ReplaceAllString(s, "-")
	s = multiHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Replace is strings.ReplaceAll exposed as a template function.
func Replace(old, new, s string) string {
	return strings.ReplaceAll(s, old, new)
}

// Default returns value unless it's empty, in which case it returns
// defaultVal.
func Default(defaultVal, value string) string {
	if value == "" {
		return defaultVal
	}
	return value
}

// Quote shell-escapes s for safe interpolation into a single-quoted shell
// argument.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
