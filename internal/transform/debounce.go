// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"sync"
	"time"
)

const defaultDebounceDuration = 50 * time.Millisecond

// debouncer coalesces bursts of fsnotify write events into a single
// re-scan, adapted from watcher.Debouncer in the teacher (itself used to
// coalesce binary-changed events before triggering a service restart).
// Single-key here since a Watcher only ever debounces its own out.jsonl.
type debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
}

func newDebouncer(d time.Duration) *debouncer {
	if d <= 0 {
		d = defaultDebounceDuration
	}
	return &debouncer{duration: d}
}

// trigger (re)schedules fn to run after the debounce duration, resetting
// any pending timer.
func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// stop cancels any pending trigger.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
