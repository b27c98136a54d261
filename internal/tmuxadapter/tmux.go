// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tmuxadapter implements the Multiplexer adapter of spec §4.2: a
// durable host for the supervisor loop that survives server restarts.
// Grounded on terminal.RealTmuxExecutor / terminal.TmuxExecutor in the
// teacher, narrowed to the operations a single long-lived supervisor
// window actually needs (no multi-window terminal UI surface).
package tmuxadapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	gops "github.com/mitchellh/go-ps"
)

// Adapter is the narrow Multiplexer contract the session engine depends on.
type Adapter interface {
	SessionExists(ctx context.Context, name string) bool
	CreateSession(ctx context.Context, name, workdir string, command []string) error
	SendInterrupt(ctx context.Context, name string) error
	SendText(ctx context.Context, name, text string) error
	KillSession(ctx context.Context, name string) error
	CapturePane(ctx context.Context, name string) ([]byte, error)
	ListSessions(ctx context.Context) ([]string, error)
	PanePID(ctx context.Context, name string) (int, error)
}

// Tmux is the real tmux-backed Adapter implementation.
type Tmux struct{}

// New returns a Tmux adapter.
func New() *Tmux { return &Tmux{} }

// SessionExists reports whether a tmux session with the given name is alive.
func (t *Tmux) SessionExists(ctx context.Context, name string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", name)
	return cmd.Run() == nil
}

// CreateSession starts a detached tmux session running command in workdir.
// The session becomes the durable host of the supervisor loop (spec §4.2):
// killing this process's own PID never affects it.
func (t *Tmux) CreateSession(ctx context.Context, name, workdir string, command []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	args = append(args, command...)

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = filterTMUXEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmuxadapter: new-session %s: %s: %w", name, stderr.String(), err)
	}
	return nil
}

// SendInterrupt sends Ctrl-C to the session's pane, used to abort an
// in-flight turn (spec §4.5 interrupt).
func (t *Tmux) SendInterrupt(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", name, "C-c")
	return cmd.Run()
}

// SendText pastes text into the session's pane via tmux's load-buffer /
// paste-buffer pair, which unlike send-keys -l survives arbitrary shell
// metacharacters unescaped.
func (t *Tmux) SendText(ctx context.Context, name, text string) error {
	loadCmd := exec.CommandContext(ctx, "tmux", "load-buffer", "-")
	loadCmd.Stdin = strings.NewReader(text)
	if err := loadCmd.Run(); err != nil {
		return fmt.Errorf("tmuxadapter: load-buffer: %w", err)
	}
	pasteCmd := exec.CommandContext(ctx, "tmux", "paste-buffer", "-d", "-t", name)
	if err := pasteCmd.Run(); err != nil {
		return fmt.Errorf("tmuxadapter: paste-buffer: %w", err)
	}
	return exec.CommandContext(ctx, "tmux", "send-keys", "-t", name, "Enter").Run()
}

// KillSession tears down the tmux session and, transitively, its
// supervisor loop and any live assistant subprocess under it.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", name)
	return cmd.Run()
}

// CapturePane returns the visible scrollback of the session's pane, used
// only for operator diagnostics (err.log is the primary failure surface).
func (t *Tmux) CapturePane(ctx context.Context, name string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", name, "-p", "-e", "-S", "-")
	return cmd.Output()
}

// ListSessions lists all live tmux sessions on the host.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	output, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}

	var sessions []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

// PanePID returns the OS process id of name's top-level pane process (the
// supervisor loop's own "sh", per spec §4.2), used by Engine.Reconcile to
// confirm that process is still actually present in the host's process
// table rather than trusting tmux's own bookkeeping alone.
func (t *Tmux) PanePID(ctx context.Context, name string) (int, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-panes", "-t", name, "-F", "#{pane_pid}")
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("tmuxadapter: list-panes %s: %w", name, err)
	}
	line := strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("tmuxadapter: parse pane pid %q: %w", line, err)
	}
	return pid, nil
}

// filterTMUXEnv strips TMUX= so a new detached session is never accidentally
// nested inside whatever tmux session this process happens to run under.
func filterTMUXEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			result = append(result, e)
		}
	}
	return result
}

const sessionNamePrefix = "sessiond-"

// SessionNameFor derives the tmux session name for a session id (spec §4.2:
// one tmux session per engine session, named deterministically so restarts
// can rediscover it).
func SessionNameFor(sessionID string) string {
	return sessionNamePrefix + sessionID
}

// SessionIDFromName recovers a session id from a tmux session name produced
// by SessionNameFor, used by Engine.Reconcile to tell this host's sessions
// apart from unrelated tmux sessions on the same machine.
func SessionIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, sessionNamePrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, sessionNamePrefix), true
}

// LivePIDs returns the set of process ids currently present in the host's
// process table. Engine.Reconcile (spec §4.8) cross-checks each live tmux
// session's pane pid (PanePID) against this set before trusting it as
// alive: tmux's own session bookkeeping can lag a pane whose process died
// without tmux noticing yet, and that's exactly the gap process-table
// inspection closes.
func LivePIDs() (map[int]bool, error) {
	procs, err := gops.Processes()
	if err != nil {
		return nil, fmt.Errorf("tmuxadapter: list processes: %w", err)
	}
	pids := make(map[int]bool, len(procs))
	for _, p := range procs {
		pids[p.Pid()] = true
	}
	return pids, nil
}
