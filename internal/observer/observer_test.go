// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

type fakeEngine struct {
	mu          sync.Mutex
	j           *journal.Journal
	status      streamitem.SessionStatus
	statusCh    chan statusbus.StatusChange
	acquireErr  error
	acquired    int
	released    int
	awakeCalled int
	sessionDir  string
}

func newFakeEngine(j *journal.Journal, dir string) *fakeEngine {
	return &fakeEngine{j: j, status: streamitem.StatusIdle, statusCh: make(chan statusbus.StatusChange, 8), sessionDir: dir}
}

func (f *fakeEngine) Journal(streamitem.SessionID) *journal.Journal { return f.j }
func (f *fakeEngine) RuntimeStatus(streamitem.SessionID) streamitem.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}
func (f *fakeEngine) SubscribeStatus(streamitem.SessionID) (<-chan statusbus.StatusChange, statusbus.SubscriptionID) {
	return f.statusCh, 1
}
func (f *fakeEngine) UnsubscribeStatus(statusbus.SubscriptionID) {}
func (f *fakeEngine) AcquireWatcher(streamitem.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return f.acquireErr
}
func (f *fakeEngine) ReleaseWatcher(streamitem.SessionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}
func (f *fakeEngine) EnsureAwake(context.Context, streamitem.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awakeCalled++
	return nil
}
func (f *fakeEngine) SessionDir(streamitem.SessionID) string { return f.sessionDir }

type fakeHydrator struct {
	mu    sync.Mutex
	calls int
}

func (h *fakeHydrator) Hydrate(streamitem.SessionID, string, string, string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return true, nil
}

type recordingWriter struct {
	mu    sync.Mutex
	lines []interface{}
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, v)
	return nil
}

func (w *recordingWriter) snapshot() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]interface{}, len(w.lines))
	copy(out, w.lines)
	return out
}

func newTestJournal(t *testing.T) (*journal.Journal, string) {
	t.Helper()
	dir := t.TempDir()
	j := journal.New(dir)
	require.NoError(t, j.EnsureStorage())
	return j, dir
}

func TestStream_EmitsStatusThenHistoryThenLive(t *testing.T) {
	j, dir := newTestJournal(t)
	require.NoError(t, j.AppendStreamItem(streamitem.StreamItem{Kind: streamitem.KindAssistantMessage, ID: "a", Text: "hi"}))
	_, err := j.UpdateMetadata(func(m *journal.Metadata) { m.ProjectPath = "/work/proj" })
	require.NoError(t, err)

	eng := newFakeEngine(j, dir)
	hyd := &fakeHydrator{}
	obs := New(Config{Engine: eng, Hydrator: hyd})

	ctx, cancel := context.WithCancel(context.Background())
	w := &recordingWriter{}

	done := make(chan error, 1)
	go func() { done <- obs.Stream(ctx, "sess-1", w) }()

	require.Eventually(t, func() bool {
		return len(w.snapshot()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	lines := w.snapshot()
	status, ok := lines[0].(streamitem.AgentStatus)
	require.True(t, ok)
	assert.Equal(t, "agent_status", status.Type)
	assert.Equal(t, "idle", status.Status)

	history, ok := lines[1].(streamitem.HistorySnapshot)
	require.True(t, ok)
	assert.Equal(t, "history_snapshot", history.Type)
	require.Len(t, history.Items, 1)
	assert.Equal(t, "hi", history.Items[0].Text)

	require.NoError(t, j.AppendStreamItem(streamitem.StreamItem{Kind: streamitem.KindAssistantMessage, ID: "b", Text: "more"}))
	require.Eventually(t, func() bool {
		for _, l := range w.snapshot() {
			if frame, ok := l.(streamitem.StreamItemFrame); ok && frame.Item.ID == "b" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not return after cancel")
	}

	assert.Equal(t, 1, eng.acquired)
	assert.Equal(t, 1, eng.released)
	assert.Equal(t, 1, eng.awakeCalled)
	assert.GreaterOrEqual(t, hyd.calls, 1)
}

func TestStream_TranslatesStatusChangesToAgentStatus(t *testing.T) {
	j, dir := newTestJournal(t)
	eng := newFakeEngine(j, dir)
	obs := New(Config{Engine: eng, Hydrator: &fakeHydrator{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{}
	go obs.Stream(ctx, "sess-1", w)

	require.Eventually(t, func() bool { return len(w.snapshot()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	eng.statusCh <- statusbus.StatusChange{SessionID: "sess-1", Status: streamitem.StatusBusy}

	require.Eventually(t, func() bool {
		for _, l := range w.snapshot() {
			if s, ok := l.(streamitem.AgentStatus); ok && s.Status == "thinking" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStream_SkipsRawFramesOnLiveTail(t *testing.T) {
	j, dir := newTestJournal(t)
	eng := newFakeEngine(j, dir)
	obs := New(Config{Engine: eng, Hydrator: &fakeHydrator{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &recordingWriter{}
	go obs.Stream(ctx, "sess-1", w)

	require.Eventually(t, func() bool { return len(w.snapshot()) >= 2 }, 2*time.Second, 10*time.Millisecond)

	raw, _ := json.Marshal(map[string]interface{}{"type": "assistant", "message": map[string]interface{}{}})
	require.NoError(t, j.AppendOutput(raw))
	require.NoError(t, j.AppendStreamItem(streamitem.StreamItem{Kind: streamitem.KindAssistantMessage, ID: "z", Text: "after raw"}))

	require.Eventually(t, func() bool {
		for _, l := range w.snapshot() {
			if frame, ok := l.(streamitem.StreamItemFrame); ok && frame.Item.ID == "z" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, l := range w.snapshot() {
		_, isFrame := l.(streamitem.StreamItemFrame)
		_, isStatus := l.(streamitem.AgentStatus)
		_, isHistory := l.(streamitem.HistorySnapshot)
		assert.True(t, isFrame || isStatus || isHistory)
	}
}
