// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"regexp"
	"strings"
)

var notifyLineRe = regexp.MustCompile(`(?m)^::notify (.+)$`)

// extractNotify implements the ::notify directive extraction of spec §4.6
// and §8 property 5: every line matching ^::notify (.+)$ is stripped from
// text, the remainder is trimmed, and the subject of the last matching line
// is returned. found is false if no line matched.
func extractNotify(text string) (cleaned, subject string, found bool) {
	matches := notifyLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, "", false
	}
	subject = matches[len(matches)-1][1]

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if notifyLineRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned = strings.TrimSpace(strings.Join(kept, "\n"))
	return cleaned, subject, true
}
