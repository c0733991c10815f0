package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/realtime"
)

type mirrorRecorder struct {
	mu       sync.Mutex
	upserts  []models.UserPresence
	removals []string
}

func (m *mirrorRecorder) UpsertPresence(_ context.Context, row models.UserPresence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, row)
	return nil
}

func (m *mirrorRecorder) RemovePresence(_ context.Context, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removals = append(m.removals, userID)
	return nil
}

func (m *mirrorRecorder) removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removals...)
}

func testSettings() *Settings {
	return &Settings{
		Heartbeat:        time.Hour,
		CursorInterval:   time.Millisecond,
		PresenceInterval: time.Millisecond,
	}
}

func newTestBroadcaster(hub *realtime.Hub, userID, name string, mirror Mirror) *Broadcaster {
	return NewBroadcaster(
		Identity{UserID: userID, DisplayName: name},
		func(mapID, clientID string) realtime.Channel { return hub.Subscribe(mapID, clientID) },
		mirror,
		testSettings(),
	)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func peerByID(b *Broadcaster, userID string) (PeerState, bool) {
	for _, p := range b.Roster() {
		if p.UserID == userID {
			return p, true
		}
	}
	return PeerState{}, false
}

func TestColorForDeterministic(t *testing.T) {
	c1 := ColorFor("user-1")
	c2 := ColorFor("user-1")
	if c1 != c2 {
		t.Fatalf("color not stable: %s vs %s", c1, c2)
	}
	found := false
	for _, p := range palette {
		if p == c1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("color %s not in palette", c1)
	}
}

func TestConnectSeedsRosterFromRegistry(t *testing.T) {
	hub := realtime.NewHub()
	b1 := newTestBroadcaster(hub, "user-1", "Ada", nil)
	b2 := newTestBroadcaster(hub, "user-2", "Grace", nil)
	defer b1.Disconnect()
	defer b2.Disconnect()

	if err := b1.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	if err := b2.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}

	// the late joiner sees the earlier peer from the presence registry
	peer, ok := peerByID(b2, "user-1")
	if !ok {
		t.Fatal("user-1 missing from seeded roster")
	}
	if peer.DisplayName != "Ada" {
		t.Fatalf("display name = %q", peer.DisplayName)
	}
	if peer.Color != ColorFor("user-1") {
		t.Fatalf("color = %q", peer.Color)
	}

	// the earlier peer learns about the joiner via the event stream
	eventually(t, func() bool {
		_, ok := peerByID(b1, "user-2")
		return ok
	}, "user-2 never appeared in user-1's roster")
}

func TestRosterExcludesSelf(t *testing.T) {
	hub := realtime.NewHub()
	b := newTestBroadcaster(hub, "user-1", "Ada", nil)
	defer b.Disconnect()

	if err := b.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	if got := len(b.Roster()); got != 0 {
		t.Fatalf("roster should not contain the local user, got %d entries", got)
	}
	if b.SessionID() == "" {
		t.Fatal("expected a session id while connected")
	}
	if b.Color() != ColorFor("user-1") {
		t.Fatalf("color = %q", b.Color())
	}
}

func TestCursorMoveReachesPeers(t *testing.T) {
	hub := realtime.NewHub()
	b1 := newTestBroadcaster(hub, "user-1", "Ada", nil)
	b2 := newTestBroadcaster(hub, "user-2", "Grace", nil)
	defer b1.Disconnect()
	defer b2.Disconnect()

	if err := b1.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	if err := b2.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}

	b2.SetCursor(120, 340)
	b2.SetSelection([]string{"node-a"})

	eventually(t, func() bool {
		peer, ok := peerByID(b1, "user-2")
		return ok && peer.Cursor != nil && peer.Cursor.X == 120 && peer.Cursor.Y == 340
	}, "cursor frame never reached the peer roster")

	eventually(t, func() bool {
		peer, _ := peerByID(b1, "user-2")
		return len(peer.Selection) == 1 && peer.Selection[0] == "node-a"
	}, "selection never reached the peer roster")
}

func TestDisconnectRemovesPeerAndMirrors(t *testing.T) {
	hub := realtime.NewHub()
	mirror := &mirrorRecorder{}
	b1 := newTestBroadcaster(hub, "user-1", "Ada", nil)
	b2 := newTestBroadcaster(hub, "user-2", "Grace", mirror)
	defer b1.Disconnect()

	if err := b1.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	if err := b2.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		_, ok := peerByID(b1, "user-2")
		return ok
	}, "peer never joined")

	b2.Disconnect()

	eventually(t, func() bool {
		_, ok := peerByID(b1, "user-2")
		return !ok
	}, "peer still in roster after disconnect")
	if b2.SessionID() != "" {
		t.Fatal("session id should be cleared on disconnect")
	}
	if got := mirror.removed(); len(got) != 1 || got[0] != "user-2" {
		t.Fatalf("mirror removals = %v", got)
	}

	// second disconnect is a no-op, not a panic
	b2.Disconnect()
	if got := mirror.removed(); len(got) != 1 {
		t.Fatalf("idempotent disconnect mirrored again: %v", got)
	}
}

func TestStatusChangePropagates(t *testing.T) {
	hub := realtime.NewHub()
	b1 := newTestBroadcaster(hub, "user-1", "Ada", nil)
	b2 := newTestBroadcaster(hub, "user-2", "Grace", nil)
	defer b1.Disconnect()
	defer b2.Disconnect()

	if err := b1.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}
	if err := b2.Connect(context.Background(), "map-1"); err != nil {
		t.Fatal(err)
	}

	b2.SetStatus("idle")

	eventually(t, func() bool {
		peer, ok := peerByID(b1, "user-2")
		return ok && peer.Status == "idle"
	}, "status update never reached the peer roster")
}
