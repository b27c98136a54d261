// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/sessiond/internal/config"
	"github.com/wingedpig/sessiond/internal/engine"
	"github.com/wingedpig/sessiond/internal/fifo"
	"github.com/wingedpig/sessiond/internal/observer"
	"github.com/wingedpig/sessiond/internal/statusbus"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

type noopAdapter struct{}

func (noopAdapter) SessionExists(ctx context.Context, name string) bool { return false }
func (noopAdapter) CreateSession(ctx context.Context, name, workdir string, command []string) error {
	return nil
}
func (noopAdapter) SendInterrupt(ctx context.Context, name string) error  { return nil }
func (noopAdapter) SendText(ctx context.Context, name, text string) error { return nil }
func (noopAdapter) KillSession(ctx context.Context, name string) error    { return nil }
func (noopAdapter) CapturePane(ctx context.Context, name string) ([]byte, error) {
	return nil, nil
}
func (noopAdapter) ListSessions(ctx context.Context) ([]string, error)       { return nil, nil }
func (noopAdapter) PanePID(ctx context.Context, name string) (int, error) { return os.Getpid(), nil }

type noopLauncher struct{}

func (noopLauncher) Launch(ctx context.Context, sessionID, sessionDir, model, projectDir string) error {
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

type noopWatcher struct{}

func (noopWatcher) Close() {}

type noopWatcherFactory struct{}

func (noopWatcherFactory) Start(id streamitem.SessionID, dir string, onTurnComplete func()) (engine.Watcher, error) {
	return noopWatcher{}, nil
}

type noopHydrator struct{}

func (noopHydrator) Hydrate(id streamitem.SessionID, sessionDir, projectPath, remoteSessionID string) (bool, error) {
	return false, nil
}

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	eng := engine.New(engine.Config{
		SessionsRoot:   t.TempDir(),
		DefaultModel:   "sonnet",
		FIFOTimeout:    2 * time.Second,
		Adapter:        noopAdapter{},
		Launcher:       noopLauncher{},
		Bus:            statusbus.New(),
		WatcherFactory: noopWatcherFactory{},
	})
	obs := observer.New(observer.Config{Engine: eng, Hydrator: noopHydrator{}})
	return Dependencies{Engine: eng, Observer: obs}
}

func TestNewRouter_RoutesWired(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/agents", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouter_UnknownRouteIs404(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/not-a-route", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ShutdownBeforeListenIsNoop(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0}
	srv := NewServer(cfg, newTestDeps(t))
	require.NotNil(t, srv.Router())

	// Shutdown before ListenAndServe is ever called must be a safe no-op.
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestNewRouter_CreateAgent(t *testing.T) {
	r := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(`{"projectPath":"/work/proj"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}
