// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
)

// Restarter rebuilds the engine half of the process in place. Satisfied by
// *app.App, injected here to avoid internal/gateway importing internal/app
// (which already imports internal/gateway to build its Server).
type Restarter interface {
	Restart(ctx context.Context) error
}

// ControlHandler exposes process-lifecycle test endpoints (spec.md §6).
type ControlHandler struct {
	restarter Restarter
}

// NewControlHandler builds a ControlHandler over r.
func NewControlHandler(r Restarter) *ControlHandler {
	return &ControlHandler{restarter: r}
}

// RestartEngine handles POST /api/test/restart-engine: stop and rebuild the
// engine, reconciling it against whatever sessions are still alive.
func (h *ControlHandler) RestartEngine(w http.ResponseWriter, r *http.Request) {
	if err := h.restarter.Restart(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
