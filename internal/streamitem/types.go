// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package streamitem defines the normalized UI event schema exchanged
// between the session engine, the transform watcher, and observers, plus
// the raw NDJSON shapes emitted by the assistant subprocess and by the
// server itself.
package streamitem

import (
	"encoding/json"
	"time"
)

// SessionID identifies a session. Opaque from the caller's point of view.
type SessionID string

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusSleeping SessionStatus = "sleeping"
	StatusIdle     SessionStatus = "idle"
	StatusBusy     SessionStatus = "busy"
	StatusError    SessionStatus = "error"
)

// InputKind distinguishes the origin of an input journal entry.
type InputKind string

const (
	InputKindUser    InputKind = "user"
	InputKindSystem  InputKind = "system"
	InputKindCommand InputKind = "command"
)

// InputEntry is a single line of the per-session in.jsonl journal.
type InputEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	Kind      InputKind `json:"type"`
	Text      string    `json:"text"`
}

// Kind discriminates StreamItem variants.
type Kind string

const (
	KindUserMessage      Kind = "user_message"
	KindAssistantMessage Kind = "assistant_message"
	KindTextDelta        Kind = "text_delta"
	KindThought          Kind = "thought"
	KindToolCall         Kind = "tool_call"
	KindNotification     Kind = "notification"
	KindSystem           Kind = "system"
	KindError            Kind = "error"
)

const ToolCallStatusRunning = "running"
const ToolCallStatusCompleted = "completed"
const ToolCallStatusFailed = "failed"

const ThoughtStatusLoading = "loading"
const ThoughtStatusReady = "ready"

// StreamItem is the tagged union of normalized UI events. It is a single
// struct with a Kind discriminator rather than a Go sum type, mirroring how
// the teacher represents its own tagged unions (claude.StreamEvent,
// claude.ContentBlock): one struct, omitempty fields, a string tag.
type StreamItem struct {
	Timestamp time.Time              `json:"timestamp"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Kind      Kind                   `json:"kind"`
	ID        string                 `json:"id"`
	Text      string                 `json:"text,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Subject   string                 `json:"subject,omitempty"`
	Result    string                 `json:"result,omitempty"`
	DiffHTML  string                 `json:"diff_html,omitempty"`
}

// StreamItemFrame is the envelope written to out.jsonl for a normalized
// frame: {"type":"stream_item","item":{...}}.
type StreamItemFrame struct {
	Item StreamItem `json:"item"`
	Type string     `json:"type"`
}

// NewStreamItemFrame wraps an item in its out.jsonl envelope.
func NewStreamItemFrame(item StreamItem) StreamItemFrame {
	return StreamItemFrame{Type: "stream_item", Item: item}
}

// MarshalLine serializes the frame as a single NDJSON line (newline-terminated).
func (f StreamItemFrame) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RawEnvelope is the minimal shape used to sniff whether a line already is a
// normalized frame ({"type":"stream_item",...}) before attempting to parse
// it as a raw assistant frame.
type RawEnvelope struct {
	Type string `json:"type"`
}

// ContentBlock mirrors the subset of Claude's content block shape this
// system cares about, grounded on claude.ContentBlock in the teacher.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   interface{}     `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// AssistantMessage is the message field of an "assistant" raw frame.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`
}

// AssistantFrame is a raw NDJSON line as emitted by the assistant
// subprocess, grounded on claude.StreamEvent in the teacher. Only the
// fields this spec names (§3) are modeled; everything else is ignored.
type AssistantFrame struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   interface{}     `json:"content,omitempty"`
	Delta     *Delta          `json:"delta,omitempty"`
	UUID      string          `json:"uuid,omitempty"`
}

// Delta is the inner payload of a content_block_delta raw frame.
type Delta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StdinUserFrame is the NDJSON line written to the assistant's stdin (via
// the FIFO) to deliver a user turn, per spec §4.5 step 4.
type StdinUserFrame struct {
	Type           string         `json:"type"`
	Message        StdinMessage   `json:"message"`
	SessionID      string         `json:"session_id"`
	ParentToolUse  *string        `json:"parent_tool_use_id"`
}

// StdinMessage is the inner message of a StdinUserFrame.
type StdinMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewStdinUserFrame builds the stdin frame for delivering text to the
// assistant, using "default" when no remote session id has been captured
// yet (per spec §4.5 step 4).
func NewStdinUserFrame(text, remoteSessionID string) StdinUserFrame {
	sid := remoteSessionID
	if sid == "" {
		sid = "default"
	}
	return StdinUserFrame{
		Type:          "user",
		SessionID:     sid,
		Message:       StdinMessage{Role: "user", Content: text},
		ParentToolUse: nil,
	}
}

// Marshal serializes the stdin frame as a newline-terminated NDJSON line.
func (f StdinUserFrame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Control frames, delivered only over the live observer stream, never
// written to out.jsonl (spec §3).

// HistorySnapshot lists the normalized items hydrated so far.
type HistorySnapshot struct {
	Type  string       `json:"type"`
	Items []StreamItem `json:"items"`
}

// AgentStatus reports the coarse-grained status shown to a client.
type AgentStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"` // idle|thinking|error
}

// ChatTitleUpdate is sent when a background naming task completes.
type ChatTitleUpdate struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// UnreadCleared marks that the observer is the first viewer since a result.
type UnreadCleared struct {
	Type string `json:"type"`
}

// ContextCleared is an advisory marker.
type ContextCleared struct {
	Type string `json:"type"`
}

// PlanModeEntered is an advisory marker.
type PlanModeEntered struct {
	Type string `json:"type"`
}

// AgentStatusForRuntime maps an engine runtime status to the client-facing
// agent_status vocabulary (busy -> thinking, error -> error, and every
// other status, sleeping included, -> idle; per spec §4.7 step 4).
func AgentStatusForRuntime(status SessionStatus) string {
	switch status {
	case StatusBusy:
		return "thinking"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}
