// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"regexp"
	"strings"
)

// NoiseRule is one entry of the configurable noise filter named in spec
// §4.6: a set of patterns and a match mode. Frames whose text matches are
// dropped before ever reaching out.jsonl.
type NoiseRule struct {
	Patterns  []string
	MatchMode string // "any" (default) or "all"
}

// compiledRule caches regexp compilation so isNoise doesn't recompile a
// pattern per line. A pattern that fails to compile as a regular expression
// falls back to plain substring matching, so a rule author can hand either
// shape without the watcher choking on it.
type compiledRule struct {
	rule  NoiseRule
	exprs []*regexp.Regexp // nil entry at index i means Patterns[i] is a literal substring
}

func compileRules(rules []NoiseRule) []compiledRule {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		exprs := make([]*regexp.Regexp, len(r.Patterns))
		for j, p := range r.Patterns {
			if re, err := regexp.Compile(p); err == nil {
				exprs[j] = re
			}
		}
		compiled[i] = compiledRule{rule: r, exprs: exprs}
	}
	return compiled
}

func matchesPattern(text, pattern string, expr *regexp.Regexp) bool {
	if expr != nil {
		return expr.MatchString(text)
	}
	return pattern != "" && strings.Contains(text, pattern)
}

// isNoise reports whether text matches any configured noise rule.
func isNoise(text string, rules []compiledRule) bool {
	for _, cr := range rules {
		if len(cr.rule.Patterns) == 0 {
			continue
		}
		all := cr.rule.MatchMode == "all"
		matched := all
		for i, p := range cr.rule.Patterns {
			hit := matchesPattern(text, p, cr.exprs[i])
			if all {
				if !hit {
					matched = false
					break
				}
			} else if hit {
				matched = true
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
