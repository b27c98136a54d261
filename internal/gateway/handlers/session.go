// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wingedpig/sessiond/internal/engine"
	"github.com/wingedpig/sessiond/internal/journal"
	"github.com/wingedpig/sessiond/internal/observer"
	"github.com/wingedpig/sessiond/internal/streamitem"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionHandler exposes the control HTTP surface and the per-session
// WebSocket stream of spec.md §6, grounded on
// internal/api/handlers/claude.go's ClaudeHandler.
type SessionHandler struct {
	engine *engine.Engine
	obs    *observer.Observer
}

// NewSessionHandler builds a SessionHandler over eng/obs.
func NewSessionHandler(eng *engine.Engine, obs *observer.Observer) *SessionHandler {
	return &SessionHandler{engine: eng, obs: obs}
}

// sessionSummary is the control-surface view of a session.
type sessionSummary struct {
	SessionID       string    `json:"sessionId"`
	ProjectPath     string    `json:"projectPath"`
	Model           string    `json:"model"`
	Status          string    `json:"status"`
	LastSeen        time.Time `json:"lastSeen"`
	RemoteSessionID string    `json:"claudeSessionId,omitempty"`
	HasUnread       bool      `json:"hasUnread"`
}

// ListAgents handles GET /api/agents.
func (h *SessionHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.ListActiveSessions()
	summaries := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		meta, err := h.engine.GetState(id)
		if err != nil {
			continue
		}
		summaries = append(summaries, summaryFromMetadata(meta))
	}
	WriteJSON(w, http.StatusOK, summaries)
}

type createAgentRequest struct {
	ProjectPath     string `json:"projectPath"`
	ResumeSessionID string `json:"resumeSessionId"`
	Model           string `json:"model"`
}

// CreateAgent handles POST /api/agents.
func (h *SessionHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ProjectPath == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "projectPath is required")
		return
	}

	id := streamitem.SessionID(uuid.NewString())
	if err := h.engine.Create(r.Context(), id, req.ProjectPath, req.Model); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	if req.ResumeSessionID != "" {
		if _, err := h.engine.Journal(id).UpdateMetadata(func(m *journal.Metadata) {
			m.RemoteSessionID = req.ResumeSessionID
		}); err != nil {
			WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
			return
		}
	}

	meta, err := h.engine.GetState(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, summaryFromMetadata(meta))
}

// InterruptAgent handles DELETE /api/agents/<id>.
func (h *SessionHandler) InterruptAgent(w http.ResponseWriter, r *http.Request) {
	id := streamitem.SessionID(mux.Vars(r)["id"])
	if err := h.engine.Interrupt(r.Context(), id); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DestroySession handles POST /api/test/destroy-session/<id>.
func (h *SessionHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	id := streamitem.SessionID(mux.Vars(r)["id"])
	if err := h.engine.Destroy(r.Context(), id, true); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChatStream handles the per-session WebSocket transport named in spec.md
// §6 (message-framed, newline-terminated JSON frames), grounded on
// internal/api/handlers/claude.go's serveSession.
func (h *SessionHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	id := streamitem.SessionID(mux.Vars(r)["id"])

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	wsWriter := wsWriterFunc(func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	})

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	streamDone := make(chan error, 1)
	go func() { streamDone <- h.obs.Stream(r.Context(), id, wsWriter) }()

	type userInput struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	readCh := make(chan userInput, 10)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msgBytes, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg userInput
			if json.Unmarshal(msgBytes, &msg) == nil && msg.Type == "user_input" {
				readCh <- msg
			}
		}
	}()

	for {
		select {
		case msg := <-readCh:
			if _, err := h.engine.Submit(r.Context(), id, "ws", msg.Text); err != nil {
				wsWriter(map[string]string{"type": "error", "message": err.Error()})
			}
		case <-readDone:
			return
		case <-streamDone:
			return
		}
	}
}

type wsWriterFunc func(v interface{}) error

func (f wsWriterFunc) WriteJSON(v interface{}) error { return f(v) }

func summaryFromMetadata(meta *journal.Metadata) sessionSummary {
	return sessionSummary{
		SessionID:       meta.SessionID,
		ProjectPath:     meta.ProjectPath,
		Model:           meta.Model,
		Status:          meta.Status,
		LastSeen:        meta.LastSeen,
		RemoteSessionID: meta.RemoteSessionID,
		HasUnread:       meta.HasUnread(),
	}
}
