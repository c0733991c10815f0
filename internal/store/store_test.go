package store

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/mindmesh/mindmesh/internal/models"
)

func node(id string, x, y float64) models.Node {
	return models.Node{ID: id, MapID: "m1", PositionX: x, PositionY: y}
}

func edge(id, source, target string) models.Edge {
	return models.Edge{ID: id, MapID: "m1", Source: source, Target: target}
}

func collapsed(id string, x, y float64) models.Node {
	n := node(id, x, y)
	SetMeta(&n, NodeMeta{IsCollapsed: true})
	return n
}

func visibleIDs(s *Store) map[string]bool {
	out := make(map[string]bool)
	for _, n := range s.VisibleNodes() {
		out[n.ID] = true
	}
	return out
}

func TestUpdateBumpsRevision(t *testing.T) {
	s := New()
	if s.Revision() != 0 {
		t.Fatalf("fresh store revision = %d, want 0", s.Revision())
	}
	s.SetNodes([]models.Node{node("a", 0, 0)})
	if s.Revision() != 1 {
		t.Fatalf("revision after one update = %d, want 1", s.Revision())
	}

	// a group move is one transition, not one per member
	s.Update(func(snap Snapshot) Snapshot {
		for i := range snap.Nodes {
			snap.Nodes[i].PositionX += 10
		}
		return snap
	})
	assert.Equal(t, s.Revision(), uint64(2))
}

func TestHasEdgeBetweenEitherDirection(t *testing.T) {
	s := New()
	s.SetNodes([]models.Node{node("a", 0, 0), node("b", 0, 0)})
	s.SetEdges([]models.Edge{edge("e1", "a", "b")})

	if !s.HasEdgeBetween("a", "b") {
		t.Error("expected edge a->b to be found")
	}
	if !s.HasEdgeBetween("b", "a") {
		t.Error("expected reverse lookup b->a to be found")
	}
	if s.HasEdgeBetween("a", "c") {
		t.Error("unexpected edge a->c")
	}
}

func TestVisibleNodesHidesDescendants(t *testing.T) {
	// root -> branch(collapsed) -> child -> grandchild, plus sibling
	s := New()
	s.SetNodes([]models.Node{
		node("root", 0, 0),
		collapsed("branch", 100, 0),
		node("child", 200, 0),
		node("grandchild", 300, 0),
		node("sibling", 0, 100),
	})
	s.SetEdges([]models.Edge{
		edge("e1", "root", "branch"),
		edge("e2", "branch", "child"),
		edge("e3", "child", "grandchild"),
		edge("e4", "root", "sibling"),
	})

	vis := visibleIDs(s)
	for _, want := range []string{"root", "branch", "sibling"} {
		if !vis[want] {
			t.Errorf("expected %s visible", want)
		}
	}
	for _, hidden := range []string{"child", "grandchild"} {
		if vis[hidden] {
			t.Errorf("expected %s hidden", hidden)
		}
	}
}

func TestVisibleEdgesKeepsStubIntoCollapsedNode(t *testing.T) {
	s := New()
	s.SetNodes([]models.Node{
		node("root", 0, 0),
		collapsed("branch", 100, 0),
		node("child", 200, 0),
	})
	s.SetEdges([]models.Edge{
		edge("e1", "root", "branch"),
		edge("e2", "branch", "child"),
	})

	edges := s.VisibleEdges()
	ids := make(map[string]bool)
	for _, e := range edges {
		ids[e.ID] = true
	}
	if !ids["e1"] {
		t.Error("stub edge into collapsed branch should stay visible")
	}
	if ids["e2"] {
		t.Error("edge below the collapse boundary should be hidden")
	}
}

func TestVisibilityTerminatesOnCycle(t *testing.T) {
	s := New()
	s.SetNodes([]models.Node{
		collapsed("a", 0, 0),
		node("b", 0, 0),
		node("c", 0, 0),
	})
	s.SetEdges([]models.Edge{
		edge("e1", "a", "b"),
		edge("e2", "b", "c"),
		edge("e3", "c", "a"), // cycle back to the collapsed node
	})

	vis := visibleIDs(s)
	if !vis["a"] {
		t.Error("the collapsed node itself stays visible")
	}
	if vis["b"] || vis["c"] {
		t.Error("descendants in the cycle should be hidden")
	}
}

func TestGroupHiddenWhenAllChildrenHidden(t *testing.T) {
	group := node("g", 0, 0)
	SetMeta(&group, NodeMeta{IsGroup: true, GroupChildren: []string{"x", "y"}})

	s := New()
	s.SetNodes([]models.Node{
		collapsed("p", 0, 0),
		node("x", 10, 10),
		node("y", 20, 20),
		group,
	})
	s.SetEdges([]models.Edge{
		edge("e1", "p", "x"),
		edge("e2", "p", "y"),
	})

	vis := visibleIDs(s)
	if vis["g"] {
		t.Error("group with every child hidden should be hidden too")
	}
}

func TestGroupBounds(t *testing.T) {
	w, h := 100.0, 60.0
	a := node("a", 10, 20)
	a.Width, a.Height = &w, &h
	b := node("b", 200, 100) // default 160x40 footprint

	group := node("g", 0, 0)
	SetMeta(&group, NodeMeta{IsGroup: true, GroupChildren: []string{"a", "b", "missing"}})

	s := New()
	s.SetNodes([]models.Node{a, b, group})

	rect, ok := s.GroupBounds("g")
	if !ok {
		t.Fatal("expected bounds for group with resolvable members")
	}
	assert.Equal(t, rect, Rect{X: 10, Y: 20, W: 350, H: 120})

	if _, ok := s.GroupBounds("a"); ok {
		t.Error("non-group node must not report bounds")
	}
}

func TestCommentSummaries(t *testing.T) {
	nid := "a"
	s := New()
	s.SetComments([]models.Comment{
		{ID: "c1", MapID: "m1", NodeID: &nid, Resolved: false},
		{ID: "c2", MapID: "m1", NodeID: &nid, Resolved: true},
		{ID: "c3", MapID: "m1"}, // map-level
	})

	sums := s.CommentSummaries()
	assert.Equal(t, sums["a"], CommentSummary{Count: 2, Unresolved: 1})
	assert.Equal(t, sums[""], CommentSummary{Count: 1, Unresolved: 1})
}

func TestHistoryUndoRedo(t *testing.T) {
	h := NewHistory()
	s1 := Snapshot{Nodes: []models.Node{node("a", 0, 0)}}
	s2 := Snapshot{Nodes: []models.Node{node("a", 5, 5)}}
	s3 := Snapshot{Nodes: []models.Node{node("a", 9, 9)}}

	h.Push("load", s1)
	h.Push("move", s2)
	h.Push("move", s3)

	entry, ok := h.Undo()
	if !ok {
		t.Fatal("undo should succeed with prior entries")
	}
	assert.Equal(t, entry.Snapshot.Nodes[0].PositionX, 5.0)

	entry, ok = h.Undo()
	if !ok {
		t.Fatal("second undo should succeed")
	}
	assert.Equal(t, entry.Snapshot.Nodes[0].PositionX, 0.0)

	if _, ok := h.Undo(); ok {
		t.Error("undo past the load anchor should fail")
	}

	entry, ok = h.Redo()
	if !ok {
		t.Fatal("redo should succeed after undo")
	}
	assert.Equal(t, entry.Snapshot.Nodes[0].PositionX, 5.0)
}

func TestHistoryPushTruncatesRedo(t *testing.T) {
	h := NewHistory()
	h.Push("load", Snapshot{})
	h.Push("a", Snapshot{Nodes: []models.Node{node("a", 1, 1)}})
	h.Push("b", Snapshot{Nodes: []models.Node{node("a", 2, 2)}})

	h.Undo()
	h.Push("c", Snapshot{Nodes: []models.Node{node("a", 3, 3)}})

	if _, ok := h.Redo(); ok {
		t.Error("redo stack should be empty after a fresh push")
	}
}

func TestHistoryDepthCap(t *testing.T) {
	h := NewHistory()
	for i := 0; i < historyDepth+20; i++ {
		h.Push("step", Snapshot{})
	}
	undo, _ := h.Depth()
	if undo > historyDepth {
		t.Errorf("undo depth = %d, want at most %d", undo, historyDepth)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	n := node("a", 0, 0)
	SetMeta(&n, NodeMeta{IsGroup: true, GroupChildren: []string{"x"}, PathType: "smoothstep"})
	m := MetaOf(&n)
	assert.Equal(t, m.IsGroup, true)
	assert.Equal(t, m.GroupChildren, []string{"x"})
	assert.Equal(t, m.PathType, "smoothstep")

	// malformed bags decode to the zero value
	bad := node("b", 0, 0)
	bad.Metadata = models.JSON{}
	assert.Equal(t, MetaOf(&bad), NodeMeta{})
}
