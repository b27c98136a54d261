// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package observer implements the per-client session stream of spec §4.7:
// hydrate from the vault, ensure the session is awake, emit an initial
// agent_status, subscribe to live status changes, snapshot history, then
// tail out.jsonl for new normalized frames until the caller's context is
// canceled. Grounded on internal/api/handlers/claude.go's serveSession
// (history-then-live loop, mutex-guarded writes) adapted to a transport-
// agnostic Writer so the gateway's WebSocket handler is the only thing that
// knows about sockets.
package observer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

// rehydrateInterval matches spec §4.7's "periodic 10-second re-hydration
// tick".
const rehydrateInterval = 10 * time.Second

// tailPollInterval is the polling fallback for the live out.jsonl tail,
// mirroring internal/transform's belt-and-suspenders poll loop.
const tailPollInterval = 500 * time.Millisecond

// Engine is the subset of *engine.Engine an observer stream needs,
// structurally satisfied without an import of internal/engine — the same
// interface-at-the-consumer pattern the engine package itself uses for
// WatcherFactory/Launcher.
type Engine interface {
	Journal(id streamitem.SessionID) *journal.Journal
	RuntimeStatus(id streamitem.SessionID) streamitem.SessionStatus
	SubscribeStatus(id streamitem.SessionID) (<-chan statusbus.StatusChange, statusbus.SubscriptionID)
	UnsubscribeStatus(subID statusbus.SubscriptionID)
	AcquireWatcher(id streamitem.SessionID) error
	ReleaseWatcher(id streamitem.SessionID)
	EnsureAwake(ctx context.Context, id streamitem.SessionID) error
	SessionDir(id streamitem.SessionID) string
}

// Hydrator imports unseen vault history into a session's out.jsonl.
// Satisfied by *hydrate.Importer.
type Hydrator interface {
	Hydrate(sessionID streamitem.SessionID, sessionDir, projectPath, remoteSessionID string) (bool, error)
}

// Writer is the transport-agnostic sink a Stream writes JSON lines to: one
// value per call, in order. The gateway wraps a WebSocket connection (or
// any other transport) behind this.
type Writer interface {
	WriteJSON(v interface{}) error
}

// Config holds construction-time dependencies shared across every stream.
type Config struct {
	Engine   Engine
	Hydrator Hydrator
	Logger   *log.Logger
}

// Observer starts client streams for sessions.
type Observer struct {
	cfg    Config
	logger *log.Logger
}

// New returns an Observer sharing cfg across every stream it starts.
func New(cfg Config) *Observer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "observer: ", log.LstdFlags)
	}
	return &Observer{cfg: cfg, logger: logger}
}

// Stream runs the observer contract of spec §4.7 for id, writing to w until
// ctx is canceled or a write fails. It blocks for the caller's lifetime; run
// it in its own goroutine.
func (o *Observer) Stream(ctx context.Context, id streamitem.SessionID, w Writer) error {
	j := o.cfg.Engine.Journal(id)

	o.hydrateOnce(id, j)
	if err := o.cfg.Engine.EnsureAwake(ctx, id); err != nil {
		o.logger.Printf("session %s: ensure awake: %v", id, err)
	}

	rehydrateCtx, cancelRehydrate := context.WithCancel(ctx)
	defer cancelRehydrate()
	go o.rehydrateLoop(rehydrateCtx, id, j)

	if err := o.cfg.Engine.AcquireWatcher(id); err != nil {
		return fmt.Errorf("observer: session %s: acquire watcher: %w", id, err)
	}
	defer o.cfg.Engine.ReleaseWatcher(id)

	status := streamitem.AgentStatusForRuntime(o.cfg.Engine.RuntimeStatus(id))
	if err := w.WriteJSON(streamitem.AgentStatus{Type: "agent_status", Status: status}); err != nil {
		return err
	}

	statusCh, subID := o.cfg.Engine.SubscribeStatus(id)
	defer o.cfg.Engine.UnsubscribeStatus(subID)

	// Stat before reading history, not after: any frame appended in the gap
	// is then included in both the snapshot and the live tail, which the
	// client's upsert-by-id dedup (spec §4.7) absorbs harmlessly. The
	// reverse order would risk losing that frame entirely.
	var offset int64
	if info, err := os.Stat(j.OutputPath()); err == nil {
		offset = info.Size()
	}

	history := readHistorySnapshot(j)
	if err := w.WriteJSON(streamitem.HistorySnapshot{Type: "history_snapshot", Items: history}); err != nil {
		return err
	}

	return o.liveLoop(ctx, j, statusCh, offset, w)
}

// hydrateOnce performs the one-time hydration spec §4.7 step 1 requires
// before a stream's first agent_status, if the session has a project path.
func (o *Observer) hydrateOnce(id streamitem.SessionID, j *journal.Journal) {
	meta, err := j.GetMetadata()
	if err != nil || meta == nil || meta.ProjectPath == "" {
		return
	}
	if _, err := o.cfg.Hydrator.Hydrate(id, o.cfg.Engine.SessionDir(id), meta.ProjectPath, meta.RemoteSessionID); err != nil {
		o.logger.Printf("session %s: hydrate: %v", id, err)
	}
}

// rehydrateLoop re-runs hydration on the configured interval until ctx is
// canceled, per spec §4.7's periodic re-hydration tick.
func (o *Observer) rehydrateLoop(ctx context.Context, id streamitem.SessionID, j *journal.Journal) {
	ticker := time.NewTicker(rehydrateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.hydrateOnce(id, j)
		}
	}
}

// readHistorySnapshot reads out.jsonl in full, keeping only normalized
// stream_item frames.
func readHistorySnapshot(j *journal.Journal) []streamitem.StreamItem {
	var items []streamitem.StreamItem
	for _, line := range j.ReadOutputHistory() {
		var env streamitem.RawEnvelope
		if json.Unmarshal([]byte(line), &env) != nil || env.Type != "stream_item" {
			continue
		}
		var frame streamitem.StreamItemFrame
		if json.Unmarshal([]byte(line), &frame) != nil {
			continue
		}
		items = append(items, frame.Item)
	}
	return items
}

// liveLoop tails out.jsonl from offset, forwarding each normalized
// stream_item line verbatim and translating status changes to agent_status
// lines, until ctx is canceled or a write fails.
func (o *Observer) liveLoop(ctx context.Context, j *journal.Journal, statusCh <-chan statusbus.StatusChange, offset int64, w Writer) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("observer: new fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(j.Dir()); err != nil {
		return fmt.Errorf("observer: watch %s: %w", j.Dir(), err)
	}

	outPath := j.OutputPath()
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	scan := func() error {
		var scanErr error
		offset, scanErr = tailFrom(outPath, offset, w)
		return scanErr
	}
	if err := scan(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case change, ok := <-statusCh:
			if !ok {
				statusCh = nil
				continue
			}
			status := streamitem.AgentStatusForRuntime(change.Status)
			if err := w.WriteJSON(streamitem.AgentStatus{Type: "agent_status", Status: status}); err != nil {
				return err
			}
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := scan(); err != nil {
					return err
				}
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		case <-ticker.C:
			if err := scan(); err != nil {
				return err
			}
		}
	}
}

// tailFrom reads every complete line appended to path since offset and
// forwards normalized stream_item lines to w verbatim; raw assistant frames
// are ignored here since the transform watcher owns turning those into
// stream_item frames. Returns the advanced offset.
func tailFrom(path string, offset int64, w Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, nil
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, nil
	}
	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			offset += int64(len(line))
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) > 0 {
				var env streamitem.RawEnvelope
				if json.Unmarshal(trimmed, &env) == nil && env.Type == "stream_item" {
					var frame streamitem.StreamItemFrame
					if json.Unmarshal(trimmed, &frame) == nil {
						if writeErr := w.WriteJSON(frame); writeErr != nil {
							return offset, writeErr
						}
					}
				}
			}
			if err == nil {
				continue
			}
		}
		break
	}
	return offset, nil
}
