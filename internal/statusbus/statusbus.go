// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package statusbus breaks the cyclic observer/engine reference the source
// system has for status callbacks (spec §9 REDESIGN FLAGS). It is grounded
// on events.EventBus in the teacher, scoped down from that interface's
// general wildcard pub/sub to exactly what the spec needs: per-session
// status_change notifications. The engine owns the bus; observers hold
// only a subscription token they release on cancel.
package statusbus

import (
	"sync"

	"github.com/wingedpig/sessiond/internal/streamitem"
)

// StatusChange is the payload delivered to subscribers.
type StatusChange struct {
	SessionID streamitem.SessionID
	Status    streamitem.SessionStatus
}

// SubscriptionID identifies a live subscription so it can be released.
type SubscriptionID uint64

// Bus is a per-session status-change pub/sub, narrower than the teacher's
// general-purpose EventBus (no event-type wildcard routing, no history).
type Bus struct {
	mu        sync.Mutex
	nextID    SubscriptionID
	subs      map[SubscriptionID]subscription
	bySession map[streamitem.SessionID]map[SubscriptionID]struct{}
}

type subscription struct {
	sessionID streamitem.SessionID
	ch        chan StatusChange
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subs:      make(map[SubscriptionID]subscription),
		bySession: make(map[streamitem.SessionID]map[SubscriptionID]struct{}),
	}
}

// Subscribe registers interest in status changes for sessionID, returning a
// buffered channel of updates and a token to release it with Unsubscribe.
// The channel is buffered (capacity 8) so a slow observer never blocks the
// engine's status-transition path; overflow drops the oldest unread update
// since only the latest status matters to a client.
func (b *Bus) Subscribe(sessionID streamitem.SessionID) (<-chan StatusChange, SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan StatusChange, 8)
	b.subs[id] = subscription{sessionID: sessionID, ch: ch}

	if b.bySession[sessionID] == nil {
		b.bySession[sessionID] = make(map[SubscriptionID]struct{})
	}
	b.bySession[sessionID][id] = struct{}{}

	return ch, id
}

// Unsubscribe releases a subscription token. Safe to call more than once.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	if ids := b.bySession[sub.sessionID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(b.bySession, sub.sessionID)
		}
	}
	close(sub.ch)
}

// Publish fans a status change out to every live subscriber of sessionID.
// Non-blocking: a full subscriber channel drops the oldest queued update
// to make room, since only the most recent status is meaningful.
func (b *Bus) Publish(sessionID streamitem.SessionID, status streamitem.SessionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	change := StatusChange{SessionID: sessionID, Status: status}
	for id := range b.bySession[sessionID] {
		sub := b.subs[id]
		select {
		case sub.ch <- change:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- change:
			default:
			}
		}
	}
}

// Close releases every live subscription, closing their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.bySession = make(map[streamitem.SessionID]map[SubscriptionID]struct{})
}
