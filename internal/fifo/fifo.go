// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package fifo implements the server-side writer end of a session's named
// pipe (spec §4.4). Generalized from the teacher's use of os/exec pipes
// (claude.Session.ensureProcess's cmd.StdinPipe()) to a named pipe, since
// here the assistant subprocess runs inside a multiplexer session rather
// than as a direct child of this process.
package fifo

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultOpenTimeout is the bound on how long OpenWriter blocks waiting for
// the supervisor's reader to attach, per spec §4.4/§7 ("wake timeout").
const DefaultOpenTimeout = 10 * time.Second

const pollInterval = 25 * time.Millisecond

// Ensure creates the named pipe at path if it does not already exist.
func Ensure(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("fifo: stat %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("fifo: mkfifo %s: %w", path, err)
	}
	return nil
}

// Writer is the single writer-end handle for a session's FIFO.
type Writer struct {
	file *os.File
}

// OpenWriter opens path for writing, blocking until the supervisor's reader
// has attached or timeout elapses. A named pipe opened O_WRONLY|O_NONBLOCK
// returns ENXIO immediately when no reader is present, which lets this
// poll for a reader instead of blocking uninterruptibly in the open(2)
// call itself (the approach a bare os.OpenFile(path, os.O_WRONLY, 0) would
// take, with no way to honor ctx cancellation).
func OpenWriter(ctx context.Context, path string, timeout time.Duration) (*Writer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			// A reader is attached; restore blocking semantics so later
			// writes behave like a normal pipe (block on a full buffer
			// rather than returning EAGAIN).
			flags, ferr := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
			if ferr == nil {
				unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
			}
			return &Writer{file: os.NewFile(uintptr(fd), path)}, nil
		}
		if err != unix.ENXIO {
			return nil, fmt.Errorf("fifo: open %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fifo: timed out waiting for reader on %s: %w", path, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// Write writes a single already-newline-terminated NDJSON line. A non-nil
// error (typically EPIPE, the inner assistant process having exited)
// indicates the writer is no longer usable; callers reconnect via a fresh
// OpenWriter and retry exactly once, per spec §4.4.
func (w *Writer) Write(line []byte) error {
	_, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("fifo: write: %w", err)
	}
	return nil
}

// Close closes the writer end. The supervisor's reader observes EOF.
func (w *Writer) Close() error {
	return w.file.Close()
}
