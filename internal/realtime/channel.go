// Package realtime is the map-scoped publish/subscribe primitive the
// collaboration layer rides on: an in-process hub fanning broadcast events
// and presence registrations out to subscribers, and a websocket front end
// bridging remote clients onto the same hub.
package realtime

import (
	"encoding/json"
)

// Broadcast event classes exchanged on a map channel.
const (
	EventPeerJoin   = "peer_join"
	EventPeerLeave  = "peer_leave"
	EventCursorMove = "cursor_move"
	EventCollabSync = "collaborator_sync"
	EventRowChange  = "row_change"
)

// Event is one broadcast frame. Consumers treat each event as a full
// replace of the sender's ephemeral fields, never a delta: no ordering is
// guaranteed across network hops.
type Event struct {
	Type     string          `json:"event"`
	SenderID string          `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}

// PresenceFields is the ephemeral state a participant tracks on the
// channel's presence registry.
type PresenceFields struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Color       string `json:"color"`
	Status      string `json:"status"`
	SessionID   string `json:"session_id"`
	LastActive  int64  `json:"last_active"`
}

// Channel is one subscription to a map's realtime traffic.
type Channel interface {
	// Events returns the inbound event stream. The channel closes it on
	// Close.
	Events() <-chan Event
	// Broadcast publishes an event to every other subscriber of the map.
	Broadcast(event string, payload any) error
	// Track registers or refreshes the caller on the presence registry and
	// notifies peers.
	Track(fields PresenceFields) error
	// Untrack removes the caller from the presence registry.
	Untrack() error
	// Presences returns the current registry, keyed by user id.
	Presences() map[string]PresenceFields
	// Close unsubscribes. Safe to call more than once.
	Close() error
}
