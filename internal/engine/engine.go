// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the session engine (spec §4.5): the registry,
// status machine, input queue, wake/hibernate logic, reconciliation,
// interrupt and destroy operations. Grounded on claude.Manager/claude.Session
// in the teacher — a mutex-guarded registry of mutex-guarded per-session
// structs, Subscribe/Unsubscribe-style fan-out (here statusbus.Bus instead
// of a raw channel map), a persist callback pattern, and a generation
// counter guarding stale goroutines (claude.Session.processGen).
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wingedpig/sessiond/internal/fifo"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
	"github.com/wingedpig/sessiond/internal/tmuxadapter"
)

// reapAfter is how long a session may sit idle before the reaper hibernates
// it (spec §5 Reaper).
const reapAfter = 10 * time.Minute

const reapInterval = 60 * time.Second

// interruptFallback is how long interrupt() waits for a turn-terminator
// before forcing the session back to idle (spec §4.5 interrupt).
const interruptFallback = 3 * time.Second

// Watcher is the minimal handle the engine holds for a running transform
// watcher; it knows only how to stop itself.
type Watcher interface {
	Close()
}

// WatcherFactory starts a transform watcher for a session. Defined here
// (rather than imported from internal/transform) so the engine never
// depends on the transform package — transform is wired in by the caller
// (internal/app), breaking what would otherwise be an import cycle between
// "engine creates watchers" and "watcher drives the engine's queue".
type WatcherFactory interface {
	Start(sessionID streamitem.SessionID, sessionDir string, onTurnComplete func()) (Watcher, error)
}

// Launcher starts the durable multiplexer-hosted supervisor loop for a
// session. Satisfied by *supervisor.Launcher.
type Launcher interface {
	Launch(ctx context.Context, sessionID, sessionDir, model, projectDir string) error
}

// ProcessTable reports which OS process ids are currently alive on the
// host. Defined here rather than taken as a bare tmuxadapter.LivePIDs
// reference so Reconcile's reliance on it can be swapped out in tests.
// Defaults to the real host process table.
type ProcessTable interface {
	LivePIDs() (map[int]bool, error)
}

type hostProcessTable struct{}

func (hostProcessTable) LivePIDs() (map[int]bool, error) { return tmuxadapter.LivePIDs() }

// Config configures a new Engine.
type Config struct {
	SessionsRoot   string
	DefaultModel   string
	FIFOTimeout    time.Duration
	ReapAfter      time.Duration
	Logger         *log.Logger
	Adapter        tmuxadapter.Adapter
	Launcher       Launcher
	Bus            *statusbus.Bus
	WatcherFactory WatcherFactory
	ProcessTable   ProcessTable
}

// Engine is the session registry and status machine.
type Engine struct {
	cfg      Config
	logger   *log.Logger
	mu       sync.Mutex
	sessions map[streamitem.SessionID]*session
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

type wakeCall struct {
	done chan struct{}
	err  error
}

type session struct {
	mu           sync.Mutex
	stdinMu      sync.Mutex
	id           streamitem.SessionID
	journal      *journal.Journal
	writer       *fifo.Writer
	status       streamitem.SessionStatus
	lastActivity time.Time
	wake         *wakeCall
	watcher      Watcher
	watcherRefs  int
	interruptGen int
}

// New constructs an Engine. Call Reconcile once at process start.
func New(cfg Config) *Engine {
	if cfg.FIFOTimeout == 0 {
		cfg.FIFOTimeout = fifo.DefaultOpenTimeout
	}
	if cfg.ReapAfter == 0 {
		cfg.ReapAfter = reapAfter
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "sonnet"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ProcessTable == nil {
		cfg.ProcessTable = hostProcessTable{}
	}
	return &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[streamitem.SessionID]*session),
		stopCh:   make(chan struct{}),
	}
}

// RunReaper starts the background hibernation sweep. Call once; it runs
// until the engine is stopped.
func (e *Engine) RunReaper() {
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.reapIdleSessions()
			}
		}
	}()
}

func (e *Engine) reapIdleSessions() {
	e.mu.Lock()
	candidates := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		candidates = append(candidates, s)
	}
	e.mu.Unlock()

	now := time.Now()
	for _, s := range candidates {
		s.mu.Lock()
		idle := s.writer != nil && now.Sub(s.lastActivity) > e.cfg.ReapAfter
		s.mu.Unlock()
		if idle {
			e.hibernate(s)
		}
	}
}

func (e *Engine) hibernate(s *session) {
	s.mu.Lock()
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	s.status = streamitem.StatusSleeping
	s.mu.Unlock()

	e.persistStatus(s, streamitem.StatusSleeping)
	e.cfg.Bus.Publish(s.id, streamitem.StatusSleeping)
	e.logger.Printf("engine: session %s hibernated (idle > %s)", s.id, e.cfg.ReapAfter)
}

func (e *Engine) sessionDir(id streamitem.SessionID) string {
	return filepath.Join(e.cfg.SessionsRoot, string(id))
}

// SessionDir exposes id's on-disk session directory, used by the observer
// package to tell the hydrator which session journal to import into.
func (e *Engine) SessionDir(id streamitem.SessionID) string {
	return e.sessionDir(id)
}

func (e *Engine) getOrCreateSession(id streamitem.SessionID) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s
	}
	s := &session{
		id:      id,
		journal: journal.New(e.sessionDir(id)),
		status:  streamitem.StatusSleeping,
	}
	e.sessions[id] = s
	return s
}

func (e *Engine) lookupSession(id streamitem.SessionID) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

func (e *Engine) persistStatus(s *session, status streamitem.SessionStatus) {
	if _, err := s.journal.UpdateMetadata(func(m *journal.Metadata) {
		m.Status = string(status)
	}); err != nil {
		e.logger.Printf("engine: session %s: persist status: %v", s.id, err)
	}
}

// Create upserts metadata for id and wakes it (spec §4.5 create).
func (e *Engine) Create(ctx context.Context, id streamitem.SessionID, projectPath, model string) error {
	s := e.getOrCreateSession(id)
	if err := s.journal.EnsureStorage(); err != nil {
		return fmt.Errorf("engine: create %s: %w", id, err)
	}
	if model == "" {
		model = e.cfg.DefaultModel
	}
	if _, err := s.journal.UpdateMetadata(func(m *journal.Metadata) {
		m.SessionID = string(id)
		m.ProjectPath = projectPath
		m.Model = model
	}); err != nil {
		return fmt.Errorf("engine: create %s: %w", id, err)
	}
	return e.EnsureAwake(ctx, id)
}

// Submit appends a user input and either delivers it immediately or lets it
// queue for processNextInput to pick up later (spec §4.5 submit).
func (e *Engine) Submit(ctx context.Context, id streamitem.SessionID, clientID, text string) (streamitem.InputEntry, error) {
	s := e.getOrCreateSession(id)
	if err := s.journal.EnsureStorage(); err != nil {
		return streamitem.InputEntry{}, fmt.Errorf("engine: submit %s: %w", id, err)
	}

	entry, err := s.journal.AppendInput(clientID, streamitem.InputKindUser, text)
	if err != nil {
		return entry, fmt.Errorf("engine: submit %s: %w", id, err)
	}
	if err := s.journal.AppendStreamItem(streamitem.StreamItem{
		Kind:      streamitem.KindUserMessage,
		ID:        entry.ID,
		Text:      text,
		Timestamp: entry.Timestamp,
	}); err != nil {
		return entry, fmt.Errorf("engine: submit %s: %w", id, err)
	}

	s.mu.Lock()
	busyOrWaking := s.status == streamitem.StatusBusy || s.wake != nil
	s.mu.Unlock()
	if busyOrWaking {
		return entry, nil
	}

	go e.processNextInput(ctx, id)
	return entry, nil
}

// GetState overlays live status on top of persisted metadata.
func (e *Engine) GetState(id streamitem.SessionID) (*journal.Metadata, error) {
	s, ok := e.lookupSession(id)
	if !ok {
		s = &session{journal: journal.New(e.sessionDir(id))}
	}
	meta, err := s.journal.GetMetadata()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}
	if ok {
		s.mu.Lock()
		meta.Status = string(s.status)
		s.mu.Unlock()
	}
	return meta, nil
}

// ListActiveSessions returns ids with an open FIFO writer.
func (e *Engine) ListActiveSessions() []streamitem.SessionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []streamitem.SessionID
	for id, s := range e.sessions {
		s.mu.Lock()
		active := s.writer != nil
		s.mu.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	return ids
}

// EnsureAwake makes sure id has a live multiplexer session and an open FIFO
// writer, deduping concurrent callers onto a single in-flight wake
// (spec §4.5 ensureAwake).
func (e *Engine) EnsureAwake(ctx context.Context, id streamitem.SessionID) error {
	s := e.getOrCreateSession(id)

	s.mu.Lock()
	if s.writer != nil {
		s.mu.Unlock()
		return nil
	}
	if s.wake != nil {
		wake := s.wake
		s.mu.Unlock()
		<-wake.done
		return wake.err
	}
	wake := &wakeCall{done: make(chan struct{})}
	s.wake = wake
	s.mu.Unlock()

	err := e.doWake(ctx, s)

	s.mu.Lock()
	s.wake = nil
	s.mu.Unlock()
	wake.err = err
	close(wake.done)
	return err
}

func (e *Engine) doWake(ctx context.Context, s *session) error {
	meta, err := s.journal.GetMetadata()
	if err != nil {
		return fmt.Errorf("engine: wake %s: read metadata: %w", s.id, err)
	}
	projectPath := ""
	model := e.cfg.DefaultModel
	if meta != nil {
		if meta.ProjectPath != "" {
			projectPath = meta.ProjectPath
		}
		if meta.Model != "" {
			model = meta.Model
		}
	}
	if projectPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectPath = cwd
		}
	}

	dir := e.sessionDir(s.id)
	if err := fifo.Ensure(filepath.Join(dir, "input.fifo")); err != nil {
		return fmt.Errorf("engine: wake %s: %w", s.id, err)
	}
	if err := e.cfg.Launcher.Launch(ctx, string(s.id), dir, model, projectPath); err != nil {
		return fmt.Errorf("engine: wake %s: %w", s.id, err)
	}

	writer, err := fifo.OpenWriter(ctx, s.journal.FIFOPath(), e.cfg.FIFOTimeout)
	if err != nil {
		return fmt.Errorf("engine: wake %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.writer = writer
	s.status = streamitem.StatusIdle
	s.lastActivity = time.Now()
	s.mu.Unlock()

	e.persistStatus(s, streamitem.StatusIdle)
	e.cfg.Bus.Publish(s.id, streamitem.StatusIdle)
	return nil
}

// processNextInput delivers the next not-yet-delivered in.jsonl entry to
// the assistant subprocess (spec §4.5 processNextInput).
func (e *Engine) processNextInput(ctx context.Context, id streamitem.SessionID) {
	s := e.getOrCreateSession(id)

	meta, err := s.journal.GetMetadata()
	if err != nil {
		e.logger.Printf("engine: session %s: processNextInput: read metadata: %v", id, err)
		return
	}
	entries := s.journal.ReadInputHistory()
	next, ok := nextUnprocessed(entries, meta)
	if !ok {
		// Turn completion with no queued input left to deliver: this is the
		// normal end-of-turn case (spec §4.6 terminator handling), so the
		// session goes idle here rather than staying busy forever. The
		// watcher only invokes this callback once no notify-tool ack is
		// still pending, so there's nothing left to gate on.
		s.mu.Lock()
		s.status = streamitem.StatusIdle
		s.lastActivity = time.Now()
		s.mu.Unlock()
		e.persistStatus(s, streamitem.StatusIdle)
		e.cfg.Bus.Publish(id, streamitem.StatusIdle)
		return
	}

	if err := e.EnsureAwake(ctx, id); err != nil {
		e.logger.Printf("engine: session %s: processNextInput: ensureAwake: %v", id, err)
		return
	}

	s.mu.Lock()
	s.status = streamitem.StatusBusy
	s.mu.Unlock()
	e.persistStatus(s, streamitem.StatusBusy)
	e.cfg.Bus.Publish(id, streamitem.StatusBusy)

	remoteSessionID := ""
	if meta != nil {
		remoteSessionID = meta.RemoteSessionID
	}
	frame, err := streamitem.NewStdinUserFrame(next.Text, remoteSessionID).Marshal()
	if err != nil {
		e.logger.Printf("engine: session %s: processNextInput: marshal: %v", id, err)
		return
	}

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	if e.writeWithRetry(ctx, s, frame) {
		if _, err := s.journal.UpdateMetadata(func(m *journal.Metadata) {
			m.LastProcessedInputID = next.ID
		}); err != nil {
			e.logger.Printf("engine: session %s: persist lastProcessedInputId: %v", id, err)
		}
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.status = streamitem.StatusSleeping
	s.mu.Unlock()
	e.persistStatus(s, streamitem.StatusSleeping)
	e.cfg.Bus.Publish(id, streamitem.StatusSleeping)
}

// writeWithRetry writes frame to s's FIFO, reconnecting and retrying
// exactly once on failure (spec §4.4/§4.5 step 5).
func (e *Engine) writeWithRetry(ctx context.Context, s *session, frame []byte) bool {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()

	if writer != nil && writer.Write(frame) == nil {
		return true
	}

	s.mu.Lock()
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	s.mu.Unlock()

	if err := e.EnsureAwake(ctx, s.id); err != nil {
		e.logger.Printf("engine: session %s: reconnect: %v", s.id, err)
		return false
	}

	s.mu.Lock()
	writer = s.writer
	s.mu.Unlock()
	return writer != nil && writer.Write(frame) == nil
}

// nextUnprocessed finds the input entry immediately after
// meta.LastProcessedInputID, or the first entry if none is set.
func nextUnprocessed(entries []streamitem.InputEntry, meta *journal.Metadata) (streamitem.InputEntry, bool) {
	if len(entries) == 0 {
		return streamitem.InputEntry{}, false
	}
	lastID := ""
	if meta != nil {
		lastID = meta.LastProcessedInputID
	}
	if lastID == "" {
		return entries[0], true
	}
	for i, e := range entries {
		if e.ID == lastID {
			if i+1 < len(entries) {
				return entries[i+1], true
			}
			return streamitem.InputEntry{}, false
		}
	}
	// lastID not found among entries (shouldn't happen); be conservative
	// and treat the newest as already delivered.
	return streamitem.InputEntry{}, false
}

// Interrupt soft-cancels the in-flight turn (spec §4.5 interrupt).
func (e *Engine) Interrupt(ctx context.Context, id streamitem.SessionID) error {
	s, ok := e.lookupSession(id)
	if !ok {
		return fmt.Errorf("engine: interrupt %s: unknown session", id)
	}
	if err := e.cfg.Adapter.SendInterrupt(ctx, tmuxadapter.SessionNameFor(string(id))); err != nil {
		e.logger.Printf("engine: session %s: send interrupt: %v", id, err)
	}

	s.mu.Lock()
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	s.interruptGen++
	gen := s.interruptGen
	s.mu.Unlock()

	time.AfterFunc(interruptFallback, func() {
		s.mu.Lock()
		stillBusyFromThisInterrupt := s.status == streamitem.StatusBusy && s.interruptGen == gen
		if stillBusyFromThisInterrupt {
			s.status = streamitem.StatusIdle
		}
		s.mu.Unlock()
		if stillBusyFromThisInterrupt {
			e.persistStatus(s, streamitem.StatusIdle)
			e.cfg.Bus.Publish(id, streamitem.StatusIdle)
			go e.processNextInput(ctx, id)
		}
	})
	return nil
}

// Destroy terminates a session, optionally removing its on-disk directory
// (spec §4.5 destroy).
func (e *Engine) Destroy(ctx context.Context, id streamitem.SessionID, deleteFiles bool) error {
	s, ok := e.lookupSession(id)
	if ok {
		s.mu.Lock()
		if s.writer != nil {
			s.writer.Close()
			s.writer = nil
		}
		watcher := s.watcher
		s.watcher = nil
		s.watcherRefs = 0
		s.mu.Unlock()
		if watcher != nil {
			watcher.Close()
		}
	}

	if err := e.cfg.Adapter.KillSession(ctx, tmuxadapter.SessionNameFor(string(id))); err != nil {
		e.logger.Printf("engine: session %s: kill session: %v", id, err)
	}

	if deleteFiles {
		if s, ok := e.lookupSession(id); ok {
			if err := s.journal.Remove(); err != nil {
				e.logger.Printf("engine: session %s: remove directory: %v", id, err)
			}
		} else if err := os.RemoveAll(e.sessionDir(id)); err != nil {
			e.logger.Printf("engine: session %s: remove directory: %v", id, err)
		}
	}

	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	return nil
}

// AcquireWatcher creates (if absent) and ref-counts the shared transform
// watcher for id, per spec §4.6/§4.7 step 2.
func (e *Engine) AcquireWatcher(id streamitem.SessionID) error {
	s := e.getOrCreateSession(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		s.watcherRefs++
		return nil
	}
	watcher, err := e.cfg.WatcherFactory.Start(id, e.sessionDir(id), func() {
		time.AfterFunc(100*time.Millisecond, func() {
			e.processNextInput(context.Background(), id)
		})
	})
	if err != nil {
		return fmt.Errorf("engine: session %s: start transform watcher: %w", id, err)
	}
	s.watcher = watcher
	s.watcherRefs = 1
	return nil
}

// ReleaseWatcher decrements id's transform-watcher refcount, closing the
// watcher once it reaches zero.
func (e *Engine) ReleaseWatcher(id streamitem.SessionID) {
	s, ok := e.lookupSession(id)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.watcher == nil {
		s.mu.Unlock()
		return
	}
	s.watcherRefs--
	var toClose Watcher
	if s.watcherRefs <= 0 {
		toClose = s.watcher
		s.watcher = nil
		s.watcherRefs = 0
	}
	s.mu.Unlock()
	if toClose != nil {
		toClose.Close()
	}
}

// SubscribeStatus subscribes to status changes for id. Wraps statusbus so
// callers (the observer package) never import it directly, keeping the bus
// an engine-owned implementation detail, per the cyclic-reference redesign
// flag in spec.md §9.
func (e *Engine) SubscribeStatus(id streamitem.SessionID) (<-chan statusbus.StatusChange, statusbus.SubscriptionID) {
	return e.cfg.Bus.Subscribe(id)
}

// UnsubscribeStatus releases a subscription obtained from SubscribeStatus.
func (e *Engine) UnsubscribeStatus(subID statusbus.SubscriptionID) {
	e.cfg.Bus.Unsubscribe(subID)
}

// Journal returns the journal handle for id, creating its in-memory entry
// if necessary. Used by the observer package for history hydration.
func (e *Engine) Journal(id streamitem.SessionID) *journal.Journal {
	return e.getOrCreateSession(id).journal
}

// RuntimeStatus returns the engine's live view of id's status, defaulting
// to sleeping for sessions the engine hasn't touched yet.
func (e *Engine) RuntimeStatus(id streamitem.SessionID) streamitem.SessionStatus {
	s, ok := e.lookupSession(id)
	if !ok {
		return streamitem.StatusSleeping
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reconcile lists alive/orphaned multiplexer sessions and resumes delivery
// for alive sessions with unprocessed input (spec §4.5 reconcile).
func (e *Engine) Reconcile(ctx context.Context) error {
	live, err := e.cfg.Adapter.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile: list sessions: %w", err)
	}

	liveSet := make(map[string]bool, len(live))
	for _, name := range live {
		liveSet[name] = true
	}

	entries, err := os.ReadDir(e.cfg.SessionsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("engine: reconcile: list session dirs: %w", err)
	}

	dirSet := make(map[string]bool, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			dirSet[ent.Name()] = true
		}
	}

	livePIDs, err := e.cfg.ProcessTable.LivePIDs()
	if err != nil {
		e.logger.Printf("engine: reconcile: list host processes: %v", err)
		livePIDs = nil
	}

	for name := range liveSet {
		id, ok := tmuxadapter.SessionIDFromName(name)
		if !ok {
			continue
		}
		if !dirSet[id] {
			if err := e.cfg.Adapter.KillSession(ctx, name); err != nil {
				e.logger.Printf("engine: reconcile: kill orphaned session %s: %v", name, err)
			}
			continue
		}
		if livePIDs != nil && !e.paneProcessAlive(ctx, name, livePIDs) {
			e.logger.Printf("engine: reconcile: session %s: tmux reports it alive but its pane process is gone, killing", name)
			if err := e.cfg.Adapter.KillSession(ctx, name); err != nil {
				e.logger.Printf("engine: reconcile: kill stale session %s: %v", name, err)
			}
			continue
		}
		e.reconcileAlive(ctx, streamitem.SessionID(id))
	}
	return nil
}

// paneProcessAlive confirms name's pane process is actually present in
// livePIDs, catching the case where tmux's session bookkeeping lags a pane
// whose process already died (spec §4.8). A PanePID lookup failure is
// treated as "can't tell" rather than "dead", since it usually just means
// the session disappeared between list-sessions and here.
func (e *Engine) paneProcessAlive(ctx context.Context, name string, livePIDs map[int]bool) bool {
	pid, err := e.cfg.Adapter.PanePID(ctx, name)
	if err != nil {
		e.logger.Printf("engine: reconcile: session %s: pane pid lookup: %v", name, err)
		return true
	}
	return livePIDs[pid]
}

func (e *Engine) reconcileAlive(ctx context.Context, id streamitem.SessionID) {
	s := e.getOrCreateSession(id)

	writer, err := fifo.OpenWriter(ctx, s.journal.FIFOPath(), e.cfg.FIFOTimeout)
	if err != nil {
		e.logger.Printf("engine: reconcile: session %s: reopen FIFO: %v", id, err)
		return
	}
	s.mu.Lock()
	s.writer = writer
	s.status = streamitem.StatusIdle
	s.lastActivity = time.Now()
	s.mu.Unlock()
	e.persistStatus(s, streamitem.StatusIdle)
	e.cfg.Bus.Publish(id, streamitem.StatusIdle)

	meta, _ := s.journal.GetMetadata()
	if _, ok := nextUnprocessed(s.journal.ReadInputHistory(), meta); ok {
		go e.processNextInput(ctx, id)
	}
}

// Stop closes every FIFO writer (supervisors see EOF; multiplexer sessions
// themselves survive for reconnection) and kills every transform watcher.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.writer != nil {
			s.writer.Close()
			s.writer = nil
		}
		watcher := s.watcher
		s.watcher = nil
		s.watcherRefs = 0
		s.mu.Unlock()
		if watcher != nil {
			watcher.Close()
		}
	}
}
