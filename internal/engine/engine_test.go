// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/sessiond/internal/fifo"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

// mockAdapter fakes the Multiplexer adapter. CreateSession only records the
// session name; opening the FIFO's read end (what the real supervisor loop's
// assistant process does via "< input.fifo") is left to fakeLauncher.
type mockAdapter struct {
	mu       sync.Mutex
	sessions map[string]bool
	readers  map[string]func()
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{sessions: make(map[string]bool), readers: make(map[string]func())}
}

func (m *mockAdapter) SessionExists(ctx context.Context, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[name]
}

func (m *mockAdapter) CreateSession(ctx context.Context, name, workdir string, command []string) error {
	m.mu.Lock()
	m.sessions[name] = true
	m.mu.Unlock()
	return nil
}

func (m *mockAdapter) SendInterrupt(ctx context.Context, name string) error { return nil }
func (m *mockAdapter) SendText(ctx context.Context, name, text string) error { return nil }

func (m *mockAdapter) KillSession(ctx context.Context, name string) error {
	m.mu.Lock()
	delete(m.sessions, name)
	m.mu.Unlock()
	return nil
}

func (m *mockAdapter) CapturePane(ctx context.Context, name string) ([]byte, error) { return nil, nil }

func (m *mockAdapter) ListSessions(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for n := range m.sessions {
		names = append(names, n)
	}
	return names, nil
}

// PanePID returns this test process's own pid, which is always present in
// the real host process table, so reconcile-against-the-live-process-table
// logic treats mocked sessions as alive by default.
func (m *mockAdapter) PanePID(ctx context.Context, name string) (int, error) {
	return os.Getpid(), nil
}

// fakeLauncher creates the session's FIFO and immediately attaches a
// best-effort reader, standing in for the shell supervisor loop's
// "< input.fifo" open so OpenWriter in tests does not hang.
type fakeLauncher struct {
	adapter *mockAdapter
}

func (l *fakeLauncher) Launch(ctx context.Context, sessionID, sessionDir, model, projectDir string) error {
	name := "sessiond-" + sessionID
	if l.adapter.SessionExists(ctx, name) {
		return nil
	}
	if err := l.adapter.CreateSession(ctx, name, projectDir, nil); err != nil {
		return err
	}
	fifoPath := filepath.Join(sessionDir, "input.fifo")
	if err := fifo.Ensure(fifoPath); err != nil {
		return err
	}
	go func() {
		f, err := os.OpenFile(fifoPath, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			if _, err := f.Read(buf); err != nil {
				f.Close()
				return
			}
		}
	}()
	return nil
}

type fakeWatcher struct{ closed bool }

func (w *fakeWatcher) Close() { w.closed = true }

type fakeWatcherFactory struct {
	mu      sync.Mutex
	started int
}

func (f *fakeWatcherFactory) Start(id streamitem.SessionID, dir string, onTurnComplete func()) (Watcher, error) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return &fakeWatcher{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *mockAdapter) {
	t.Helper()
	root := t.TempDir()
	adapter := newMockAdapter()
	return New(Config{
		SessionsRoot: root,
		DefaultModel: "sonnet",
		FIFOTimeout:  2 * time.Second,
		Adapter:      adapter,
		Launcher:     &fakeLauncher{adapter: adapter},
		Bus:          statusbus.New(),
		WatcherFactory: &fakeWatcherFactory{},
	}), adapter
}

func TestEngine_CreateAndGetState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	meta, err := e.GetState("sess-1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "/work/proj", meta.ProjectPath)
	assert.Equal(t, "haiku", meta.Model)
	assert.Equal(t, string(streamitem.StatusIdle), meta.Status)
}

func TestEngine_SubmitQueuesWhileBusy(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	s := e.getOrCreateSession("sess-1")
	s.mu.Lock()
	s.status = streamitem.StatusBusy
	s.mu.Unlock()

	entry, err := e.Submit(ctx, "sess-1", "client-a", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", entry.Text)

	lines := e.Journal("sess-1").ReadOutputHistory()
	require.GreaterOrEqual(t, len(lines), 1)
}

func TestEngine_SubmitDeliversWhenIdle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	_, err := e.Submit(ctx, "sess-1", "client-a", "reply with PING")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		meta, err := e.GetState("sess-1")
		return err == nil && meta != nil && meta.LastProcessedInputID != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_ListActiveSessions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	assert.Contains(t, e.ListActiveSessions(), streamitem.SessionID("sess-1"))
}

func TestEngine_DestroyRemovesSessionAndFiles(t *testing.T) {
	e, adapter := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	require.NoError(t, e.AcquireWatcher("sess-1"))
	require.NoError(t, e.Destroy(ctx, "sess-1", true))

	assert.Empty(t, e.ListActiveSessions())
	assert.False(t, adapter.SessionExists(ctx, "sessiond-sess-1"))

	_, err := os.Stat(e.sessionDir("sess-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_AcquireReleaseWatcherRefcounts(t *testing.T) {
	e, _ := newTestEngine(t)
	factory := e.cfg.WatcherFactory.(*fakeWatcherFactory)

	require.NoError(t, e.AcquireWatcher("sess-1"))
	require.NoError(t, e.AcquireWatcher("sess-1"))
	assert.Equal(t, 1, factory.started)

	s := e.getOrCreateSession("sess-1")
	e.ReleaseWatcher("sess-1")
	s.mu.Lock()
	stillPresent := s.watcher != nil
	s.mu.Unlock()
	assert.True(t, stillPresent)

	e.ReleaseWatcher("sess-1")
	s.mu.Lock()
	gone := s.watcher == nil
	s.mu.Unlock()
	assert.True(t, gone)
}

func TestNextUnprocessed(t *testing.T) {
	entries := []streamitem.InputEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	next, ok := nextUnprocessed(entries, nil)
	require.True(t, ok)
	assert.Equal(t, "a", next.ID)

	next, ok = nextUnprocessed(entries, &journal.Metadata{LastProcessedInputID: "b"})
	require.True(t, ok)
	assert.Equal(t, "c", next.ID)

	_, ok = nextUnprocessed(entries, &journal.Metadata{LastProcessedInputID: "c"})
	assert.False(t, ok)

	_, ok = nextUnprocessed(nil, nil)
	assert.False(t, ok)
}

func TestEngine_InterruptFallbackReturnsToIdle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))

	s := e.getOrCreateSession("sess-1")
	s.mu.Lock()
	s.status = streamitem.StatusBusy
	s.mu.Unlock()

	require.NoError(t, e.Interrupt(ctx, "sess-1"))

	require.Eventually(t, func() bool {
		return e.RuntimeStatus("sess-1") == streamitem.StatusIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_StopClosesWritersAndWatchers(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Create(ctx, "sess-1", "/work/proj", "haiku"))
	require.NoError(t, e.AcquireWatcher("sess-1"))

	e.Stop()

	assert.Empty(t, e.ListActiveSessions())
}
