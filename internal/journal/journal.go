// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package journal implements the per-session append-only in/out NDJSON
// logs and the small mutable metadata document, per spec §4.1. Metadata
// writes are atomic (temp-file + rename); journal appends rely on POSIX
// O_APPEND semantics so lines from concurrent writers never interleave.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

const (
	inputFile    = "in.jsonl"
	outputFile   = "out.jsonl"
	metadataFile = "metadata.json"
	fifoFile     = "input.fifo"
	resumeFile   = "resume_id"
	errLogFile   = "err.log"
)

// Metadata is the serializable per-session mutable document
// (sessions/<id>/metadata.json), grounded on claude.SessionRecord /
// terminal store atomic-write patterns in the teacher.
type Metadata struct {
	LastSeen             time.Time  `json:"lastSeen"`
	LastResultAt         *time.Time `json:"lastResultAt,omitempty"`
	LastViewedAt         *time.Time `json:"lastViewedAt,omitempty"`
	SessionID            string     `json:"sessionId"`
	ProjectPath          string     `json:"projectPath"`
	Model                string     `json:"model"`
	Status               string     `json:"status"`
	RemoteSessionID      string     `json:"claudeSessionId,omitempty"`
	LastProcessedInputID string     `json:"lastProcessedInputId,omitempty"`
}

// HasUnread implements the unread law of spec §3/§8.6:
// hasUnread <=> lastResultAt set && (lastViewedAt unset || lastResultAt > lastViewedAt)
func (m Metadata) HasUnread() bool {
	if m.LastResultAt == nil {
		return false
	}
	if m.LastViewedAt == nil {
		return true
	}
	return m.LastResultAt.After(*m.LastViewedAt)
}

// Journal owns the on-disk state of a single session directory.
type Journal struct {
	metaMu sync.Mutex // serializes metadata read-modify-write, per session
	dir    string
}

// New returns a Journal rooted at dir (sessions/<id>/). It does not touch
// the filesystem; call EnsureStorage to create it.
func New(dir string) *Journal {
	return &Journal{dir: dir}
}

// Dir returns the session's on-disk directory.
func (j *Journal) Dir() string { return j.dir }

func (j *Journal) path(name string) string { return filepath.Join(j.dir, name) }

// EnsureStorage creates the session directory and empty in/out journals if
// they are absent. Idempotent.
func (j *Journal) EnsureStorage() error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("journal: create session dir: %w", err)
	}
	for _, name := range []string{inputFile, outputFile} {
		p := j.path(name)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("journal: create %s: %w", name, err)
			}
			f.Close()
		}
	}
	return nil
}

// AppendInput appends a single input entry, assigning the server timestamp
// and returning the full entry. Atomic single-line append.
func (j *Journal) AppendInput(clientID string, kind streamitem.InputKind, text string) (streamitem.InputEntry, error) {
	entry := streamitem.InputEntry{
		ID:        uuid.New().String(),
		ClientID:  clientID,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("journal: marshal input entry: %w", err)
	}
	if err := j.appendLine(inputFile, data); err != nil {
		return entry, err
	}
	return entry, nil
}

// AppendOutput appends an already-serialized NDJSON line to out.jsonl.
// A trailing newline is added if the caller omitted one.
func (j *Journal) AppendOutput(rawLine []byte) error {
	return j.appendLine(outputFile, rawLine)
}

// AppendStreamItem is a convenience wrapper that marshals and appends a
// normalized UI frame to out.jsonl.
func (j *Journal) AppendStreamItem(item streamitem.StreamItem) error {
	data, err := streamitem.NewStreamItemFrame(item).MarshalLine()
	if err != nil {
		return fmt.Errorf("journal: marshal stream item: %w", err)
	}
	return j.appendLine(outputFile, data)
}

// appendLine opens name with O_APPEND and writes data followed by a
// newline (unless data already ends in one). O_APPEND guarantees the
// kernel serializes concurrent whole-line writers for line-sized writes,
// which is the only cross-writer coordination out.jsonl relies on (spec §5).
func (j *Journal) appendLine(name string, data []byte) error {
	f, err := os.OpenFile(j.path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", name, err)
	}
	defer f.Close()

	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: append %s: %w", name, err)
	}
	return nil
}

// GetMetadata reads the current metadata document. Returns (nil, nil) if
// absent.
func (j *Journal) GetMetadata() (*Metadata, error) {
	data, err := os.ReadFile(j.path(metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: read metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("journal: parse metadata: %w", err)
	}
	return &m, nil
}

// UpdateMetadata merges partial into the current metadata (or a synthesized
// default), refreshes LastSeen, and writes it atomically via a random-
// suffix temp file + rename in the same directory. Serialized per session
// by metaMu so concurrent callers get "last writer wins" semantics.
func (j *Journal) UpdateMetadata(apply func(*Metadata)) (Metadata, error) {
	j.metaMu.Lock()
	defer j.metaMu.Unlock()

	current, err := j.GetMetadata()
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if current != nil {
		m = *current
	} else {
		m = Metadata{ProjectPath: "", Model: "sonnet", Status: string(streamitem.StatusSleeping)}
	}

	apply(&m)
	m.LastSeen = time.Now()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, fmt.Errorf("journal: marshal metadata: %w", err)
	}

	tmp, err := os.CreateTemp(j.dir, "metadata-*.json.tmp")
	if err != nil {
		return m, fmt.Errorf("journal: create temp metadata: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return m, fmt.Errorf("journal: write temp metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return m, fmt.Errorf("journal: close temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, j.path(metadataFile)); err != nil {
		os.Remove(tmpPath)
		return m, fmt.Errorf("journal: rename metadata: %w", err)
	}
	return m, nil
}

// ReadOutputHistory returns a finite, non-streaming snapshot of every line
// currently in out.jsonl.
func (j *Journal) ReadOutputHistory() []string {
	return j.readLines(outputFile)
}

// ReadInputHistory returns every parsed input entry currently in in.jsonl,
// in append order. Parse failures are skipped (best-effort, never fatal).
func (j *Journal) ReadInputHistory() []streamitem.InputEntry {
	lines := j.readLines(inputFile)
	entries := make([]streamitem.InputEntry, 0, len(lines))
	for _, line := range lines {
		var e streamitem.InputEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (j *Journal) readLines(name string) []string {
	f, err := os.Open(j.path(name))
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// FIFOPath returns the path of the session's named pipe.
func (j *Journal) FIFOPath() string { return j.path(fifoFile) }

// OutputPath returns the path of the session's out.jsonl journal, used by
// the transform watcher to tail it directly.
func (j *Journal) OutputPath() string { return j.path(outputFile) }

// ResumeIDPath returns the path of the plain-text resume id file.
func (j *Journal) ResumeIDPath() string { return j.path(resumeFile) }

// ErrLogPath returns the path of the supervisor diagnostics log.
func (j *Journal) ErrLogPath() string { return j.path(errLogFile) }

// WriteResumeID writes the captured remote session id to resume_id so the
// supervisor's next loop iteration can pass --resume.
func (j *Journal) WriteResumeID(id string) error {
	return os.WriteFile(j.ResumeIDPath(), []byte(id), 0o644)
}

// ReadResumeID returns the contents of resume_id, or "" if absent/empty.
func (j *Journal) ReadResumeID() string {
	data, err := os.ReadFile(j.ResumeIDPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// Remove deletes the entire on-disk session directory. Used only by
// explicit destroy (spec §4.5 destroy, deleteFiles=true).
func (j *Journal) Remove() error {
	return os.RemoveAll(j.dir)
}
