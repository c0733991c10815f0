// broadcaster.go
//
// Real-time collaborative mind-map sync service.
// Copyright (c) 2026 the mindmesh authors
//
// This file is part of mindmesh.
// mindmesh is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// mindmesh is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with mindmesh.
// If not, see <https://www.gnu.org/licenses/>.

// Package presence tracks the local user's liveness, cursor, viewport and
// selection, broadcasts them over the realtime channel at bounded rates, and
// merges peer broadcasts into an ephemeral roster. The roster is the UI's
// source of truth; the durable presence table is an advisory mirror only.
package presence

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/realtime"
	"github.com/oklog/ulid/v2"
)

// Settings tunes broadcast cadence.
type Settings struct {
	// Heartbeat refreshes last-activity even with no user action, so idle
	// users are not prematurely considered gone.
	Heartbeat time.Duration
	// CursorInterval caps outbound cursor broadcasts (~60/sec).
	CursorInterval time.Duration
	// PresenceInterval caps outbound presence-field updates (~1/sec).
	PresenceInterval time.Duration
}

// DefaultSettings returns the production cadence.
func DefaultSettings() *Settings {
	return &Settings{
		Heartbeat:        30 * time.Second,
		CursorInterval:   16 * time.Millisecond,
		PresenceInterval: time.Second,
	}
}

// Identity is the local participant.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Cursor is a peer's pointer position.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is a peer's visible region.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// PeerState is one roster entry: the latest ephemeral state of one peer.
// Each inbound broadcast fully replaces the relevant fields.
type PeerState struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Color       string    `json:"color"`
	Status      string    `json:"status"`
	SessionID   string    `json:"session_id"`
	Cursor      *Cursor   `json:"cursor,omitempty"`
	Viewport    *Viewport `json:"viewport,omitempty"`
	Selection   []string  `json:"selection,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

// cursorFrame is the cursor_move payload.
type cursorFrame struct {
	UserID    string    `json:"user_id"`
	Cursor    Cursor    `json:"cursor"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	Selection []string  `json:"selection,omitempty"`
}

// Mirror is the best-effort durable reflection of channel presence. Failures
// are logged and swallowed; they never affect the roster.
type Mirror interface {
	UpsertPresence(ctx context.Context, row models.UserPresence) error
	RemovePresence(ctx context.Context, userID, mapID string) error
}

// Broadcaster owns one user's presence on one map.
type Broadcaster struct {
	identity Identity
	channel  func(mapID, clientID string) realtime.Channel
	mirror   Mirror
	settings *Settings

	mu        sync.Mutex
	mapID     string
	sessionID string
	color     string
	status    string
	cursor    *Cursor
	viewport  *Viewport
	selection []string
	roster    map[string]PeerState
	ch        realtime.Channel
	cancel    context.CancelFunc

	cursorThrottle   *throttle
	presenceThrottle *throttle
}

// NewBroadcaster builds a broadcaster. channelFn opens a channel on the
// realtime hub (or a remote bridge); mirror may be nil.
func NewBroadcaster(identity Identity, channelFn func(mapID, clientID string) realtime.Channel, mirror Mirror, settings *Settings) *Broadcaster {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Broadcaster{
		identity: identity,
		channel:  channelFn,
		mirror:   mirror,
		settings: settings,
		status:   "active",
		roster:   make(map[string]PeerState),
	}
}

// Connect opens the map channel, tracks local presence, and starts the
// heartbeat. Calling Connect while connected reconnects to the new map.
func (b *Broadcaster) Connect(ctx context.Context, mapID string) error {
	b.Disconnect()

	b.mu.Lock()
	b.mapID = mapID
	b.sessionID = ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String()
	b.color = ColorFor(b.identity.UserID)
	b.cursorThrottle = newThrottle(b.settings.CursorInterval)
	b.presenceThrottle = newThrottle(b.settings.PresenceInterval)
	b.ch = b.channel(mapID, b.sessionID)
	ch := b.ch
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	// seed the roster from the registry before the event stream starts
	for userID, fields := range ch.Presences() {
		b.mergePresence(userID, fields)
	}

	if err := ch.Track(b.presenceFields()); err != nil {
		return err
	}
	b.mirrorUpsert(runCtx)

	go b.readLoop(ch)
	go b.heartbeatLoop(runCtx)
	return nil
}

// Disconnect unsubscribes, clears the heartbeat and all roster state.
// Idempotent when not connected.
func (b *Broadcaster) Disconnect() {
	b.mu.Lock()
	ch := b.ch
	cancel := b.cancel
	mapID := b.mapID
	cursorThrottle := b.cursorThrottle
	presenceThrottle := b.presenceThrottle
	b.ch = nil
	b.cancel = nil
	b.mapID = ""
	b.sessionID = ""
	b.cursor = nil
	b.viewport = nil
	b.selection = nil
	b.roster = make(map[string]PeerState)
	b.mu.Unlock()

	if cursorThrottle != nil {
		cursorThrottle.Stop()
	}
	if presenceThrottle != nil {
		presenceThrottle.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if ch != nil {
		_ = ch.Untrack()
		_ = ch.Close()
	}
	if mapID != "" && b.mirror != nil {
		ctx, cancelMirror := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelMirror()
		if err := b.mirror.RemovePresence(ctx, b.identity.UserID, mapID); err != nil {
			log.Printf("presence mirror remove failed: %v", err)
		}
	}
}

// SetCursor records the local cursor and broadcasts it, throttled with a
// guaranteed trailing send.
func (b *Broadcaster) SetCursor(x, y float64) {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return
	}
	b.cursor = &Cursor{X: x, Y: y}
	throttle := b.cursorThrottle
	b.mu.Unlock()

	throttle.Do(b.broadcastCursor)
}

// SetViewport records the local viewport, broadcast on the cursor cadence.
func (b *Broadcaster) SetViewport(v Viewport) {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return
	}
	b.viewport = &v
	throttle := b.cursorThrottle
	b.mu.Unlock()

	throttle.Do(b.broadcastCursor)
}

// SetSelection records the locally selected node ids, broadcast on the
// cursor cadence.
func (b *Broadcaster) SetSelection(nodeIDs []string) {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return
	}
	b.selection = append([]string(nil), nodeIDs...)
	throttle := b.cursorThrottle
	b.mu.Unlock()

	throttle.Do(b.broadcastCursor)
}

// SetStatus updates the local status (active/idle/away) on the slower
// presence cadence.
func (b *Broadcaster) SetStatus(status string) {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return
	}
	b.status = status
	throttle := b.presenceThrottle
	b.mu.Unlock()

	throttle.Do(b.trackPresence)
}

// Roster returns the current peers, excluding the local user.
func (b *Broadcaster) Roster() []PeerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PeerState, 0, len(b.roster))
	for _, p := range b.roster {
		out = append(out, p)
	}
	return out
}

// Color returns the local user's assigned color.
func (b *Broadcaster) Color() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.color
}

// SessionID returns the current session id, empty when disconnected.
func (b *Broadcaster) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

func (b *Broadcaster) broadcastCursor() {
	b.mu.Lock()
	ch := b.ch
	if ch == nil || b.cursor == nil {
		b.mu.Unlock()
		return
	}
	frame := cursorFrame{
		UserID:    b.identity.UserID,
		Cursor:    *b.cursor,
		Viewport:  b.viewport,
		Selection: b.selection,
	}
	b.mu.Unlock()
	if err := ch.Broadcast(realtime.EventCursorMove, frame); err != nil {
		log.Printf("cursor broadcast failed: %v", err)
	}
}

func (b *Broadcaster) trackPresence() {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.Track(b.presenceFields()); err != nil {
		log.Printf("presence track failed: %v", err)
	}
}

func (b *Broadcaster) presenceFields() realtime.PresenceFields {
	b.mu.Lock()
	defer b.mu.Unlock()
	return realtime.PresenceFields{
		UserID:      b.identity.UserID,
		DisplayName: b.identity.DisplayName,
		AvatarURL:   b.identity.AvatarURL,
		Color:       b.color,
		Status:      b.status,
		SessionID:   b.sessionID,
		LastActive:  time.Now().UnixMilli(),
	}
}

func (b *Broadcaster) readLoop(ch realtime.Channel) {
	for ev := range ch.Events() {
		switch ev.Type {
		case realtime.EventPeerJoin:
			var fields realtime.PresenceFields
			if err := json.Unmarshal(ev.Payload, &fields); err != nil {
				continue
			}
			b.mergePresence(fields.UserID, fields)
		case realtime.EventPeerLeave:
			var fields realtime.PresenceFields
			if err := json.Unmarshal(ev.Payload, &fields); err != nil {
				continue
			}
			b.mu.Lock()
			delete(b.roster, fields.UserID)
			b.mu.Unlock()
		case realtime.EventCursorMove:
			var frame cursorFrame
			if err := json.Unmarshal(ev.Payload, &frame); err != nil {
				continue
			}
			b.mu.Lock()
			peer := b.roster[frame.UserID]
			peer.UserID = frame.UserID
			if peer.Color == "" {
				peer.Color = ColorFor(frame.UserID)
			}
			cursor := frame.Cursor
			peer.Cursor = &cursor
			peer.Viewport = frame.Viewport
			peer.Selection = frame.Selection
			peer.LastSeen = time.Now()
			b.roster[frame.UserID] = peer
			b.mu.Unlock()
		}
	}
}

// mergePresence full-replaces a peer's presence fields, keeping cursor
// state from prior cursor frames.
func (b *Broadcaster) mergePresence(userID string, fields realtime.PresenceFields) {
	if userID == "" || userID == b.identity.UserID {
		return
	}
	b.mu.Lock()
	peer := b.roster[userID]
	peer.UserID = userID
	peer.DisplayName = fields.DisplayName
	peer.AvatarURL = fields.AvatarURL
	peer.Color = fields.Color
	if peer.Color == "" {
		peer.Color = ColorFor(userID)
	}
	peer.Status = fields.Status
	peer.SessionID = fields.SessionID
	peer.LastSeen = time.Now()
	b.roster[userID] = peer
	b.mu.Unlock()
}

func (b *Broadcaster) heartbeatLoop(ctx context.Context) {
	// jitter the first tick so a fleet of clients does not beat in phase
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(rand.Int63n(int64(b.settings.Heartbeat / 4)))):
	}
	ticker := time.NewTicker(b.settings.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.trackPresence()
			b.mirrorUpsert(ctx)
		}
	}
}

// mirrorUpsert reflects current presence into the durable table. Advisory
// only: errors are logged, never propagated.
func (b *Broadcaster) mirrorUpsert(ctx context.Context) {
	if b.mirror == nil {
		return
	}
	b.mu.Lock()
	row := models.UserPresence{
		UserID:       b.identity.UserID,
		MapID:        b.mapID,
		Status:       b.status,
		Color:        b.color,
		SessionID:    b.sessionID,
		DisplayName:  b.identity.DisplayName,
		LastActivity: time.Now(),
	}
	if b.cursor != nil {
		x, y := b.cursor.X, b.cursor.Y
		row.CursorX, row.CursorY = &x, &y
	}
	b.mu.Unlock()
	if row.MapID == "" {
		return
	}
	if err := b.mirror.UpsertPresence(ctx, row); err != nil {
		log.Printf("presence mirror upsert failed: %v", err)
	}
}
