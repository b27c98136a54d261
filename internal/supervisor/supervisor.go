// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package supervisor renders and launches the per-session shell loop that
// owns the assistant subprocess's lifecycle (spec §4.3). The loop itself
// is a POSIX shell script asset, embedded the way the teacher embeds its
// static web assets (internal/api/router.go's embed.FS pattern); this
// package's Go code is limited to templating it per session and starting
// it inside a multiplexer session via internal/tmuxadapter.
package supervisor

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/wingedpig/sessiond/internal/tmuxadapter"
)

//go:embed loop.sh.tmpl
var assets embed.FS

const scriptTemplateName = "loop.sh.tmpl"

// Config parameterizes the rendered loop script.
type Config struct {
	// AssistantBin is the path or name of the assistant CLI binary.
	AssistantBin string
}

// Launcher renders the supervisor script once and starts it, inside a
// multiplexer session, for each session that needs a durable host.
type Launcher struct {
	adapter  tmuxadapter.Adapter
	cfg      Config
	scriptAt string // rendered script path, shared across sessions
}

// New renders the supervisor script to scriptDir/loop.sh and returns a
// Launcher bound to adapter. scriptDir must be writable and durable across
// restarts of this process (supervised sessions reference it by path).
func New(adapter tmuxadapter.Adapter, cfg Config, scriptDir string) (*Launcher, error) {
	tmplBytes, err := assets.ReadFile(scriptTemplateName)
	if err != nil {
		return nil, fmt.Errorf("supervisor: read script template: %w", err)
	}
	tmpl, err := template.New(scriptTemplateName).Parse(string(tmplBytes))
	if err != nil {
		return nil, fmt.Errorf("supervisor: parse script template: %w", err)
	}

	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create script dir: %w", err)
	}
	scriptPath := filepath.Join(scriptDir, "loop.sh")
	f, err := os.OpenFile(scriptPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return nil, fmt.Errorf("supervisor: create script file: %w", err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, cfg); err != nil {
		return nil, fmt.Errorf("supervisor: render script: %w", err)
	}

	return &Launcher{adapter: adapter, cfg: cfg, scriptAt: scriptPath}, nil
}

// Launch starts the supervisor loop for sessionID inside a deterministically
// named multiplexer session, unless one is already running.
func (l *Launcher) Launch(ctx context.Context, sessionID, sessionDir, model, projectDir string) error {
	name := tmuxadapter.SessionNameFor(sessionID)
	if l.adapter.SessionExists(ctx, name) {
		return nil
	}
	command := []string{"sh", l.scriptAt, sessionDir, model, projectDir}
	if err := l.adapter.CreateSession(ctx, name, projectDir, command); err != nil {
		return fmt.Errorf("supervisor: launch session %s: %w", sessionID, err)
	}
	return nil
}

// ScriptPath returns the path of the rendered supervisor script, mostly
// useful for tests and diagnostics.
func (l *Launcher) ScriptPath() string { return l.scriptAt }
