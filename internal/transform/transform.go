// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transform implements the Transform watcher of spec §4.6: exactly
// one per session, tailing out.jsonl from its current end and turning raw
// assistant frames into normalized StreamItem frames appended back into the
// same journal. Grounded on internal/watcher/binary.go's fsnotify-based
// watcher, generalized from "binary changed -> restart" to "journal
// appended -> parse new lines".
package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

// notificationCompletionDelay mirrors spec §4.6's "schedule processNextInput
// after a 100ms delay so any just-submitted inputs can settle".
const notificationCompletionDelay = 100 * time.Millisecond

// pollInterval is a fallback re-scan period for platforms or filesystems
// where fsnotify write events coalesce or are missed; the watcher never
// relies on fsnotify alone to avoid a stuck tail.
const pollInterval = 500 * time.Millisecond

// Config holds the construction-time settings shared by every watcher the
// Factory starts, per spec §4.6's "noise rules... fixed at engine
// construction".
type Config struct {
	NotifyToolNames []string
	NoiseRules      []NoiseRule
	EnableDiff      bool
	Logger          *log.Logger
}

// Factory implements the engine package's WatcherFactory interface
// structurally (Start returns *Watcher, which has a Close method) without
// importing internal/engine; internal/app adapts it to the engine's
// narrower interface at wiring time, per the REDESIGN FLAGS dependency
// inversion in spec §9.
type Factory struct {
	cfg         Config
	rules       []compiledRule
	notifyTools map[string]bool
	logger      *log.Logger
}

// NewFactory returns a Factory sharing cfg across every watcher it starts.
func NewFactory(cfg Config) *Factory {
	notifyTools := make(map[string]bool, len(cfg.NotifyToolNames))
	for _, n := range cfg.NotifyToolNames {
		notifyTools[n] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "transform: ", log.LstdFlags)
	}
	return &Factory{
		cfg:         cfg,
		rules:       compileRules(cfg.NoiseRules),
		notifyTools: notifyTools,
		logger:      logger,
	}
}

// Start begins tailing sessionDir/out.jsonl for sessionID, invoking
// onTurnComplete (after the spec's 100ms settle delay) whenever a raw frame
// marks turn completion and no notification-style tool call is still
// awaiting acknowledgement.
func (f *Factory) Start(sessionID streamitem.SessionID, sessionDir string, onTurnComplete func()) (*Watcher, error) {
	j := journal.New(sessionDir)
	outPath := j.OutputPath()

	info, err := os.Stat(outPath)
	var startOffset int64
	if err == nil {
		startOffset = info.Size()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("transform: new fsnotify watcher: %w", err)
	}
	if err := fsw.Add(sessionDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("transform: watch %s: %w", sessionDir, err)
	}

	w := &Watcher{
		sessionID:      sessionID,
		outPath:        outPath,
		journal:        j,
		fsw:            fsw,
		onTurnComplete: onTurnComplete,
		rules:          f.rules,
		notifyTools:    f.notifyTools,
		enableDiff:     f.cfg.EnableDiff,
		logger:         f.logger,
		offset:         startOffset,
		awaitingAck:    make(map[string]bool),
		debounce:       newDebouncer(defaultDebounceDuration),
		closeCh:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	// Catch anything appended between the Stat above and fsnotify.Add taking
	// effect.
	w.processNewLines()

	return w, nil
}

// Watcher tails a single session's out.jsonl and emits normalized frames.
// Implements the engine package's Watcher interface (a bare Close method).
type Watcher struct {
	sessionID      streamitem.SessionID
	outPath        string
	journal        *journal.Journal
	fsw            *fsnotify.Watcher
	onTurnComplete func()
	rules          []compiledRule
	notifyTools    map[string]bool
	enableDiff     bool
	logger         *log.Logger

	tailMu sync.Mutex // guards offset + the tail read; held across processNewLines
	offset int64

	ackMu       sync.Mutex // guards awaitingAck independently of tailMu, since
	awaitingAck map[string]bool // handleLine runs with tailMu already held

	debounce *debouncer

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// Close stops tailing and releases the fsnotify watch. Safe to call more
// than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.fsw.Close()
		w.debounce.stop()
	})
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.debounce.trigger(w.processNewLines)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.processNewLines()
		}
	}
}

// processNewLines reads every complete line appended to out.jsonl since the
// last call and dispatches it. A trailing partial line (no newline yet) is
// left for the next pass so offset only ever advances past whole lines.
func (w *Watcher) processNewLines() {
	w.tailMu.Lock()
	defer w.tailMu.Unlock()

	f, err := os.Open(w.outPath)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return
	}
	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			w.offset += int64(len(line))
			w.handleLine(bytes.TrimRight(line, "\n"))
			if err == nil {
				continue
			}
		}
		break
	}
}

func (w *Watcher) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var envelope streamitem.RawEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return // unparseable: ignored silently, per spec §7
	}
	if envelope.Type == "stream_item" {
		return // already transformed
	}

	var frame streamitem.AssistantFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return
	}

	switch {
	case frame.Type == "system" && frame.Subtype == "init" && frame.SessionID != "":
		w.handleInit(frame.SessionID)
	case frame.Type == "assistant":
		w.handleAssistant(frame)
	case frame.Type == "content_block_delta":
		w.handleDelta(frame)
	case frame.Type == "tool_result":
		w.handleToolResult(frame)
	case frame.Type == "result", frame.Type == "error", frame.Type == "system" && frame.Subtype == "error":
		w.handleTurnCompletion(frame)
	}
}

func (w *Watcher) handleInit(remoteSessionID string) {
	if _, err := w.journal.UpdateMetadata(func(m *journal.Metadata) {
		m.RemoteSessionID = remoteSessionID
	}); err != nil {
		w.logger.Printf("session %s: persist remote session id: %v", w.sessionID, err)
	}
	if err := w.journal.WriteResumeID(remoteSessionID); err != nil {
		w.logger.Printf("session %s: write resume id: %v", w.sessionID, err)
	}
}

func (w *Watcher) handleAssistant(frame streamitem.AssistantFrame) {
	var msg streamitem.AssistantMessage
	if err := json.Unmarshal(frame.Message, &msg); err != nil {
		return
	}
	workDir := w.projectDir()
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			w.emitText(block.Text)
		case "thinking", "thought":
			text := block.Thinking
			if text == "" {
				text = block.Text
			}
			w.emit(streamitem.StreamItem{
				Timestamp: time.Now(),
				Kind:      streamitem.KindThought,
				ID:        block.ID,
				Text:      text,
				Status:    streamitem.ThoughtStatusReady,
			})
		case "tool_use":
			item := streamitem.StreamItem{
				Timestamp: time.Now(),
				Kind:      streamitem.KindToolCall,
				ID:        block.ID,
				Name:      block.Name,
				Status:    streamitem.ToolCallStatusRunning,
			}
			if len(block.Input) > 0 {
				var input map[string]interface{}
				if json.Unmarshal(block.Input, &input) == nil {
					item.Input = input
				}
			}
			if w.enableDiff {
				item.DiffHTML = enrichDiff(block.Name, block.Input, workDir)
			}
			if err := w.journal.AppendStreamItem(item); err != nil {
				w.logger.Printf("session %s: append tool_call: %v", w.sessionID, err)
			}
			if w.notifyTools[block.Name] {
				w.ackMu.Lock()
				w.awaitingAck[block.ID] = true
				w.ackMu.Unlock()
				w.emit(streamitem.StreamItem{
					Timestamp: time.Now(),
					Kind:      streamitem.KindNotification,
					ID:        "notify-" + block.ID,
					Subject:   block.Name,
				})
			}
		}
	}
}

// emitText applies ::notify extraction (spec §4.6, §8 property 5) before
// emitting an assistant_message and, if present, a notification frame.
func (w *Watcher) emitText(text string) {
	if text == "" {
		return
	}
	cleaned, subject, found := extractNotify(text)
	if cleaned != "" {
		w.emit(streamitem.StreamItem{
			Timestamp: time.Now(),
			Kind:      streamitem.KindAssistantMessage,
			ID:        newFrameID(),
			Text:      cleaned,
		})
	}
	if found {
		w.emit(streamitem.StreamItem{
			Timestamp: time.Now(),
			Kind:      streamitem.KindNotification,
			ID:        newFrameID(),
			Subject:   subject,
		})
	}
}

func (w *Watcher) handleDelta(frame streamitem.AssistantFrame) {
	if frame.Delta == nil || frame.Delta.Text == "" {
		return
	}
	w.emit(streamitem.StreamItem{
		Timestamp: time.Now(),
		Kind:      streamitem.KindTextDelta,
		ID:        "delta",
		Text:      frame.Delta.Text,
	})
}

func (w *Watcher) handleToolResult(frame streamitem.AssistantFrame) {
	if frame.ToolUseID == "" {
		return
	}
	status := streamitem.ToolCallStatusCompleted
	if frame.IsError {
		status = streamitem.ToolCallStatusFailed
	}
	item := streamitem.StreamItem{
		Timestamp: time.Now(),
		Kind:      streamitem.KindToolCall,
		ID:        frame.ToolUseID,
		Status:    status,
		Result:    contentToString(frame.Content),
	}
	if err := w.journal.AppendStreamItem(item); err != nil {
		w.logger.Printf("session %s: append tool_result: %v", w.sessionID, err)
	}
	w.ackMu.Lock()
	delete(w.awaitingAck, frame.ToolUseID)
	w.ackMu.Unlock()
}

func (w *Watcher) handleTurnCompletion(frame streamitem.AssistantFrame) {
	if frame.Type == "error" || (frame.Type == "system" && frame.Subtype == "error") {
		text := extractErrorText(frame)
		if text != "" && !isNoise(text, w.rules) {
			w.emit(streamitem.StreamItem{
				Timestamp: time.Now(),
				Kind:      streamitem.KindError,
				ID:        newFrameID(),
				Text:      text,
			})
		}
	}

	now := time.Now()
	if _, err := w.journal.UpdateMetadata(func(m *journal.Metadata) {
		m.LastResultAt = &now
	}); err != nil {
		w.logger.Printf("session %s: persist last result: %v", w.sessionID, err)
	}

	w.ackMu.Lock()
	stillAwaiting := len(w.awaitingAck) > 0
	w.ackMu.Unlock()
	if stillAwaiting || w.onTurnComplete == nil {
		return
	}
	time.AfterFunc(notificationCompletionDelay, w.onTurnComplete)
}

func (w *Watcher) emit(item streamitem.StreamItem) {
	if item.Text != "" && isNoise(item.Text, w.rules) {
		return
	}
	if err := w.journal.AppendStreamItem(item); err != nil {
		w.logger.Printf("session %s: append stream item: %v", w.sessionID, err)
	}
}

func (w *Watcher) projectDir() string {
	meta, err := w.journal.GetMetadata()
	if err != nil || meta == nil {
		return ""
	}
	return meta.ProjectPath
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

func extractErrorText(frame streamitem.AssistantFrame) string {
	if s := contentToString(frame.Content); s != "" {
		return s
	}
	if len(frame.Message) > 0 {
		var msg streamitem.AssistantMessage
		if json.Unmarshal(frame.Message, &msg) == nil {
			for _, b := range msg.Content {
				if b.Text != "" {
					return b.Text
				}
			}
		}
	}
	return ""
}

var frameSeq struct {
	mu sync.Mutex
	n  uint64
}

// newFrameID allocates a locally-unique id for frames the raw protocol
// doesn't already tag with one (notification/assistant_message/error
// frames), so observer-side upsert-by-id dedup never collides two distinct
// emissions.
func newFrameID() string {
	frameSeq.mu.Lock()
	frameSeq.n++
	n := frameSeq.n
	frameSeq.mu.Unlock()
	return fmt.Sprintf("tf-%d-%d", time.Now().UnixNano(), n)
}
