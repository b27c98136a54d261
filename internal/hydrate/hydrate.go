// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hydrate implements the read-only vault importer of spec §4.8: it
// merges unseen turns from the assistant tool's own on-disk project vault
// into a session's out.jsonl, deduplicated by id. Grounded on
// internal/claude/transcript.go's atomic split-transcript reader for the
// "read a sidecar log, degrade gracefully on corruption" shape, and on
// internal/transform's raw-frame-to-StreamItem mapping (reused here with
// every tool_call born "completed", since a vault entry is always finished
// history).
package hydrate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

const maxScanTokenSize = 10 * 1024 * 1024

// Config holds the construction-time settings for an Importer.
type Config struct {
	// VaultRoot is the directory of per-project vault subdirectories, each
	// holding <sessionId>.jsonl logs.
	VaultRoot string
	Logger    *log.Logger
}

// Importer performs vault hydration for sessions. Stateless beyond its
// construction-time config; safe for concurrent use across sessions.
type Importer struct {
	vaultRoot string
	logger    *log.Logger
}

// New returns an Importer reading from cfg.VaultRoot.
func New(cfg Config) *Importer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "hydrate: ", log.LstdFlags)
	}
	return &Importer{vaultRoot: cfg.VaultRoot, logger: logger}
}

// Hydrate implements spec §4.8: return true iff a vault log was found for
// this project (whether or not it produced any new frames on this call).
func (im *Importer) Hydrate(sessionID streamitem.SessionID, sessionDir, projectPath, remoteSessionID string) (bool, error) {
	if im.vaultRoot == "" || projectPath == "" {
		return false, nil
	}

	vaultDir, err := im.findVaultDir(projectPath)
	if err != nil {
		return false, fmt.Errorf("hydrate: locate vault dir: %w", err)
	}
	if vaultDir == "" {
		return false, nil
	}

	candidate := string(sessionID)
	if remoteSessionID != "" {
		candidate = remoteSessionID
	}
	vaultLog := filepath.Join(vaultDir, candidate+".jsonl")

	entries, err := readVaultLog(vaultLog)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("hydrate: read vault log: %w", err)
	}

	j := journal.New(sessionDir)
	known := knownItemIDs(j)

	for _, item := range buildItems(entries) {
		if item.ID == "" || known[item.ID] {
			continue
		}
		if err := j.AppendStreamItem(item); err != nil {
			im.logger.Printf("session %s: hydrate append: %v", sessionID, err)
			continue
		}
		known[item.ID] = true
	}

	return true, nil
}

// readVaultLog parses every non-sidechain line of a vault session log.
func readVaultLog(path string) ([]vaultEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []vaultEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry vaultEntry
		if json.Unmarshal(line, &entry) != nil {
			continue // unparseable: skipped, per spec §7
		}
		if entry.IsSidechain {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// knownItemIDs collects the ids already present among out.jsonl's normalized
// frames, so a re-run of Hydrate never re-appends an entry it has already
// imported (spec §8 property 9).
func knownItemIDs(j *journal.Journal) map[string]bool {
	known := make(map[string]bool)
	for _, line := range j.ReadOutputHistory() {
		var env streamitem.RawEnvelope
		if json.Unmarshal([]byte(line), &env) != nil || env.Type != "stream_item" {
			continue
		}
		var frame streamitem.StreamItemFrame
		if json.Unmarshal([]byte(line), &frame) != nil {
			continue
		}
		if frame.Item.ID != "" {
			known[frame.Item.ID] = true
		}
	}
	return known
}

// findVaultDir slugs projectPath by replacing path separators with hyphens
// and looks inside vaultRoot for a directory whose name equals or contains
// the slug.
func (im *Importer) findVaultDir(projectPath string) (string, error) {
	slug := slugify(projectPath)
	entries, err := os.ReadDir(im.vaultRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == slug || strings.Contains(e.Name(), slug) {
			return filepath.Join(im.vaultRoot, e.Name()), nil
		}
	}
	return "", nil
}

func slugify(projectPath string) string {
	slug := strings.ReplaceAll(projectPath, string(filepath.Separator), "-")
	slug = strings.ReplaceAll(slug, "/", "-")
	return slug
}

// vaultEntry is a single line of a vault session log: a superset of the raw
// assistant frame shape, plus the vault-specific uuid/isSidechain fields.
type vaultEntry struct {
	UUID        string       `json:"uuid"`
	IsSidechain bool         `json:"isSidechain"`
	Type        string       `json:"type"`
	Message     vaultMessage `json:"message"`
}

type vaultMessage struct {
	ID      string                    `json:"id"`
	Content []streamitem.ContentBlock `json:"content"`
}

func (e vaultEntry) id() string {
	if e.UUID != "" {
		return e.UUID
	}
	return e.Message.ID
}

// buildItems maps a vault log's entries to normalized StreamItems, the same
// block mapping as the transform watcher (spec §4.6), with one deliberate
// change from a line-by-line streaming mapping: tool_result blocks (which
// the vault carries as a separate "user" entry) are merged into their
// originating tool_use's frame before emission, so each tool call produces
// exactly one completed frame carrying both its input and its result. Doing
// this live, as transform.Watcher does, relies on upsert-by-id across two
// separate frames; a vault import has the whole history in hand up front,
// so there is no reason to replay that two-step update here.
func buildItems(entries []vaultEntry) []streamitem.StreamItem {
	results := make(map[string]streamitem.ContentBlock) // tool_use id -> its tool_result block
	for _, entry := range entries {
		if entry.Type != "user" {
			continue
		}
		for _, block := range entry.Message.Content {
			if block.Type == "tool_result" && block.ToolUseID != "" {
				results[block.ToolUseID] = block
			}
		}
	}

	var items []streamitem.StreamItem
	for _, entry := range entries {
		if entry.Type != "assistant" {
			continue
		}
		id := entry.id()
		for i, block := range entry.Message.Content {
			blockID := block.ID
			if blockID == "" {
				blockID = fmt.Sprintf("%s-%d", id, i)
			}
			switch block.Type {
			case "text":
				if block.Text == "" {
					continue
				}
				items = append(items, streamitem.StreamItem{
					Timestamp: time.Now(),
					Kind:      streamitem.KindAssistantMessage,
					ID:        blockID,
					Text:      block.Text,
				})
			case "thinking", "thought":
				text := block.Thinking
				if text == "" {
					text = block.Text
				}
				if text == "" {
					continue
				}
				items = append(items, streamitem.StreamItem{
					Timestamp: time.Now(),
					Kind:      streamitem.KindThought,
					ID:        blockID,
					Text:      text,
					Status:    streamitem.ThoughtStatusReady,
				})
			case "tool_use":
				item := streamitem.StreamItem{
					Timestamp: time.Now(),
					Kind:      streamitem.KindToolCall,
					ID:        blockID,
					Name:      block.Name,
					Status:    streamitem.ToolCallStatusCompleted,
				}
				if len(block.Input) > 0 {
					var input map[string]interface{}
					if json.Unmarshal(block.Input, &input) == nil {
						item.Input = input
					}
				}
				if result, ok := results[blockID]; ok {
					if result.IsError {
						item.Status = streamitem.ToolCallStatusFailed
					}
					item.Result = contentToString(result.Content)
				}
				items = append(items, item)
			}
		}
	}
	return items
}

func contentToString(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
