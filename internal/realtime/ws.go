// ws.go
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

package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSSettings tunes the websocket bridge.
type WSSettings struct {
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	HandshakeTimeout time.Duration
}

// DefaultWSSettings returns the production settings.
func DefaultWSSettings() *WSSettings {
	return &WSSettings{
		WriteTimeout:     5 * time.Second,
		PongTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		MaxMessageSize:   64 * 1024,
		HandshakeTimeout: 2 * time.Second,
	}
}

// wsFrame is the wire shape both directions: client frames carry event +
// payload; the bridge adds sender_id on the way out.
type wsFrame struct {
	Type    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Track   *PresenceFields `json:"track,omitempty"`
}

// WSServer bridges websocket clients onto the hub: one read pump decoding
// frames into hub broadcasts, one write pump serializing hub events back
// out, per connection.
type WSServer struct {
	hub      *Hub
	settings *WSSettings
	upgrader websocket.Upgrader

	// OnTrack and OnLeave, when set, mirror presence transitions into
	// durable storage. Both are best-effort and must not block.
	OnTrack func(mapID string, fields PresenceFields)
	OnLeave func(mapID, userID string)
}

// NewWSServer builds the bridge over hub.
func NewWSServer(hub *Hub, settings *WSSettings) *WSServer {
	if settings == nil {
		settings = DefaultWSSettings()
	}
	return &WSServer{
		hub:      hub,
		settings: settings,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			// auth happened on the join endpoint; the realtime listener
			// trusts the realtime_room name handed back from it
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades GET /realtime/{room} connections. The room name is the
// realtime_room returned by the join endpoint (map-scoped).
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mapID := r.URL.Query().Get("room")
	if mapID == "" {
		http.Error(w, "missing room", http.StatusBadRequest)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime upgrade failed: %v", err)
		return
	}

	clientID := uuid.NewString()
	channel := s.hub.Subscribe(mapID, clientID)
	ctx, cancel := context.WithCancel(r.Context())

	go s.writePump(ctx, cancel, ws, channel)
	s.readPump(cancel, ws, channel, mapID)

	cancel()
	channel.Close()
	ws.Close()
}

func (s *WSServer) readPump(cancel context.CancelFunc, ws *websocket.Conn, channel Channel, mapID string) {
	defer cancel()
	var trackedUser string
	defer func() {
		if trackedUser != "" && s.OnLeave != nil {
			s.OnLeave(mapID, trackedUser)
		}
	}()
	ws.SetReadLimit(s.settings.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(s.settings.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.settings.PongTimeout))
	})
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime read: %v", err)
			}
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		switch {
		case frame.Track != nil:
			trackedUser = frame.Track.UserID
			_ = channel.Track(*frame.Track)
			if s.OnTrack != nil {
				s.OnTrack(mapID, *frame.Track)
			}
		case frame.Type == "untrack":
			_ = channel.Untrack()
			if trackedUser != "" && s.OnLeave != nil {
				s.OnLeave(mapID, trackedUser)
				trackedUser = ""
			}
		case frame.Type != "":
			_ = channel.Broadcast(frame.Type, frame.Payload)
		}
	}
}

func (s *WSServer) writePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, channel Channel) {
	defer cancel()
	ping := time.NewTicker(s.settings.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-channel.Events():
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListenAndServe runs the realtime listener until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/realtime", s)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
