// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// editInput is the Edit tool's input shape.
type editInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// writeInput is the Write tool's input shape.
type writeInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// enrichDiff attaches a best-effort unified diff, rendered as a small HTML
// <pre> block, to an Edit or Write tool_call frame. Grounded on
// claude.enrichEditBlock/enrichWriteBlock, replacing their hand-rolled LCS
// with go-difflib's unified diff (carried over from the teacher's go.mod as
// a direct dependency given a real job). Never required for the baseline
// tool_call frame: any failure here just leaves DiffHTML empty.
func enrichDiff(toolName string, rawInput json.RawMessage, workDir string) string {
	if len(rawInput) == 0 {
		return ""
	}
	switch toolName {
	case "Edit":
		var in editInput
		if err := json.Unmarshal(rawInput, &in); err != nil {
			return ""
		}
		return diffEdit(workDir, in)
	case "Write":
		var in writeInput
		if err := json.Unmarshal(rawInput, &in); err != nil {
			return ""
		}
		return diffWrite(workDir, in)
	default:
		return ""
	}
}

func resolvePath(filePath, workDir string) string {
	if strings.HasPrefix(filePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, filePath[2:])
		}
	} else if !filepath.IsAbs(filePath) {
		return filepath.Join(workDir, filePath)
	}
	return filePath
}

func isBinaryData(data []byte) bool {
	checkLen := len(data)
	if checkLen > 8192 {
		checkLen = 8192
	}
	for i := 0; i < checkLen; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}

const maxDiffInputBytes = 1024 * 1024

func diffEdit(workDir string, in editInput) string {
	if in.FilePath == "" {
		return ""
	}
	path := resolvePath(in.FilePath, workDir)
	data, err := os.ReadFile(path)
	if err != nil || len(data) > maxDiffInputBytes || isBinaryData(data) {
		return ""
	}
	content := string(data)

	var newContent string
	if in.OldString == "" {
		newContent = in.NewString + content
	} else if !strings.Contains(content, in.OldString) {
		return ""
	} else {
		newContent = strings.Replace(content, in.OldString, in.NewString, 1)
	}
	return unifiedDiffHTML(in.FilePath, content, newContent)
}

func diffWrite(workDir string, in writeInput) string {
	if in.FilePath == "" {
		return ""
	}
	path := resolvePath(in.FilePath, workDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return unifiedDiffHTML(in.FilePath, "", in.Content)
	}
	if len(data) > maxDiffInputBytes || isBinaryData(data) {
		return ""
	}
	oldContent := string(data)
	if oldContent == in.Content {
		return ""
	}
	return unifiedDiffHTML(in.FilePath, oldContent, in.Content)
}

// unifiedDiffHTML renders a difflib.UnifiedDiff as an escaped <pre> block.
func unifiedDiffHTML(filePath, before, after string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: filePath,
		ToFile:   filePath,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		return ""
	}
	return fmt.Sprintf(`<pre class="session-diff">%s</pre>`, html.EscapeString(text))
}
