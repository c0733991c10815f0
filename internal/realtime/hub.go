package realtime

import (
	"encoding/json"
	"errors"
	"sync"
)

// subscriberBufferSize bounds each subscriber's event queue. A subscriber
// that falls this far behind starts losing oldest-first; cursor traffic is
// ephemeral so dropping beats blocking the hub.
const subscriberBufferSize = 256

var errClosed = errors.New("channel closed")

// Hub routes broadcast and presence traffic between subscribers of the same
// map. It is the in-process implementation of the channel primitive; the
// websocket server bridges remote peers onto it.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	subs      map[*hubChannel]bool
	presences map[string]PresenceFields
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Subscribe opens a channel on the map-scoped room.
func (h *Hub) Subscribe(mapID, clientID string) Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[mapID]
	if !ok {
		r = &room{
			subs:      make(map[*hubChannel]bool),
			presences: make(map[string]PresenceFields),
		}
		h.rooms[mapID] = r
	}
	ch := &hubChannel{
		hub:      h,
		mapID:    mapID,
		clientID: clientID,
		events:   make(chan Event, subscriberBufferSize),
	}
	r.subs[ch] = true
	return ch
}

// RoomSize reports the current subscriber count for a map.
func (h *Hub) RoomSize(mapID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[mapID]; ok {
		return len(r.subs)
	}
	return 0
}

// Publish broadcasts an event to every subscriber of a map, used by server
// components (collaborator sync, row-change notifications) that are not
// themselves subscribed.
func (h *Hub) Publish(mapID, event, senderID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fanOut(mapID, nil, Event{Type: event, SenderID: senderID, Payload: raw})
	return nil
}

// fanOut delivers to every subscriber except skip. Caller holds the lock.
// A full subscriber queue sheds its oldest event.
func (h *Hub) fanOut(mapID string, skip *hubChannel, ev Event) {
	r, ok := h.rooms[mapID]
	if !ok {
		return
	}
	for sub := range r.subs {
		if sub == skip {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			select {
			case <-sub.events:
			default:
			}
			select {
			case sub.events <- ev:
			default:
			}
		}
	}
}

type hubChannel struct {
	hub      *Hub
	mapID    string
	clientID string
	events   chan Event

	mu      sync.Mutex
	tracked string // user id currently on the presence registry
	closed  bool
}

func (c *hubChannel) Events() <-chan Event {
	return c.events
}

func (c *hubChannel) Broadcast(event string, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.fanOut(c.mapID, c, Event{Type: event, SenderID: c.clientID, Payload: raw})
	return nil
}

func (c *hubChannel) Track(fields PresenceFields) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.tracked = fields.UserID
	c.mu.Unlock()

	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if r, ok := c.hub.rooms[c.mapID]; ok {
		r.presences[fields.UserID] = fields
	}
	c.hub.fanOut(c.mapID, c, Event{Type: EventPeerJoin, SenderID: c.clientID, Payload: raw})
	return nil
}

func (c *hubChannel) Untrack() error {
	c.mu.Lock()
	userID := c.tracked
	c.tracked = ""
	c.mu.Unlock()
	if userID == "" {
		return nil
	}

	raw, _ := json.Marshal(PresenceFields{UserID: userID})
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if r, ok := c.hub.rooms[c.mapID]; ok {
		delete(r.presences, userID)
	}
	c.hub.fanOut(c.mapID, c, Event{Type: EventPeerLeave, SenderID: c.clientID, Payload: raw})
	return nil
}

func (c *hubChannel) Presences() map[string]PresenceFields {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	out := make(map[string]PresenceFields)
	if r, ok := c.hub.rooms[c.mapID]; ok {
		for k, v := range r.presences {
			out[k] = v
		}
	}
	return out
}

func (c *hubChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	userID := c.tracked
	c.tracked = ""
	c.mu.Unlock()

	c.hub.mu.Lock()
	r, ok := c.hub.rooms[c.mapID]
	if ok {
		delete(r.subs, c)
		if userID != "" {
			delete(r.presences, userID)
			raw, _ := json.Marshal(PresenceFields{UserID: userID})
			c.hub.fanOut(c.mapID, c, Event{Type: EventPeerLeave, SenderID: c.clientID, Payload: raw})
		}
		if len(r.subs) == 0 {
			delete(c.hub.rooms, c.mapID)
		}
	}
	c.hub.mu.Unlock()

	close(c.events)
	return nil
}
