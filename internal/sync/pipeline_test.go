package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/store"
)

// fakeRepo is an in-memory Repository with switchable failures.
type fakeRepo struct {
	mu        sync.Mutex
	nodes     map[string]models.Node
	edges     map[string]models.Edge
	saveCalls map[string]int
	failSave  bool
	failAll   bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nodes:     make(map[string]models.Node),
		edges:     make(map[string]models.Edge),
		saveCalls: make(map[string]int),
	}
}

func (r *fakeRepo) CreateNode(_ context.Context, node models.Node) (models.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return models.Node{}, errors.New("create rejected")
	}
	node.CreatedAt = time.Now()
	node.UpdatedAt = node.CreatedAt
	r.nodes[node.ID] = node
	return node, nil
}

func (r *fakeRepo) SaveNode(_ context.Context, node models.Node) (models.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll || r.failSave {
		return models.Node{}, errors.New("save rejected")
	}
	node.UpdatedAt = time.Now()
	r.nodes[node.ID] = node
	r.saveCalls[node.ID]++
	return node, nil
}

func (r *fakeRepo) DeleteNodes(_ context.Context, _ string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("delete rejected")
	}
	for _, id := range ids {
		delete(r.nodes, id)
	}
	return nil
}

func (r *fakeRepo) CreateEdge(_ context.Context, edge models.Edge) (models.Edge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return models.Edge{}, errors.New("create rejected")
	}
	edge.CreatedAt = time.Now()
	r.edges[edge.ID] = edge
	return edge, nil
}

func (r *fakeRepo) SaveEdge(_ context.Context, edge models.Edge) (models.Edge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll || r.failSave {
		return models.Edge{}, errors.New("save rejected")
	}
	r.edges[edge.ID] = edge
	return edge, nil
}

func (r *fakeRepo) DeleteEdges(_ context.Context, _ string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("delete rejected")
	}
	for _, id := range ids {
		delete(r.edges, id)
	}
	return nil
}

func (r *fakeRepo) savedNode(id string) (models.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

func (r *fakeRepo) nodeSaveCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveCalls[id]
}

func newTestPipeline(repo Repository) *Pipeline {
	settings := DefaultPipelineSettings()
	settings.DebounceWindow = 20 * time.Millisecond
	return NewPipeline("m1", store.New(), repo, settings)
}

func TestAddChildNodeOffsetAndEdge(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	root, _, err := p.AddNode(ctx, AddNodeInput{Content: "root"})
	if err != nil {
		t.Fatalf("add root: %v", err)
	}

	child, edge, err := p.AddNode(ctx, AddNodeInput{ParentID: &root.ID, Content: "child"})
	if err != nil {
		t.Fatalf("add child: %v", err)
	}
	if child.PositionX != root.PositionX+200 || child.PositionY != root.PositionY+100 {
		t.Errorf("child at (%v,%v), want parent offset (+200,+100)", child.PositionX, child.PositionY)
	}
	if edge == nil {
		t.Fatal("child add must create exactly one parent edge")
	}
	if edge.Source != root.ID || edge.Target != child.ID {
		t.Errorf("edge %s->%s, want %s->%s", edge.Source, edge.Target, root.ID, child.ID)
	}
	if len(p.Store().Edges()) != 1 {
		t.Errorf("store has %d edges, want 1", len(p.Store().Edges()))
	}
	if _, ok := repo.savedNode(child.ID); !ok {
		t.Error("child must be durable before it appears locally")
	}
}

func TestAddNodeExplicitPositionWins(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()

	root, _, _ := p.AddNode(context.Background(), AddNodeInput{Content: "root"})
	x, y := 42.0, 17.0
	child, _, err := p.AddNode(context.Background(), AddNodeInput{ParentID: &root.ID, X: &x, Y: &y})
	if err != nil {
		t.Fatal(err)
	}
	if child.PositionX != 42 || child.PositionY != 17 {
		t.Errorf("explicit position ignored, got (%v,%v)", child.PositionX, child.PositionY)
	}
}

func TestAddNodeFailureLeavesStoreUntouched(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()

	repo.failAll = true
	_, _, err := p.AddNode(context.Background(), AddNodeInput{Content: "x"})
	if err == nil {
		t.Fatal("expected error from rejected create")
	}
	if len(p.Store().Nodes()) != 0 {
		t.Error("rejected add must not appear locally")
	}
}

func TestAddEdgeRejectsDuplicateEitherDirection(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	a, _, _ := p.AddNode(ctx, AddNodeInput{Content: "a"})
	b, _, _ := p.AddNode(ctx, AddNodeInput{Content: "b"})

	if _, err := p.AddEdge(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if _, err := p.AddEdge(ctx, b.ID, a.ID); !errors.Is(err, ErrDuplicateEdge) {
		t.Errorf("reverse connect error = %v, want ErrDuplicateEdge", err)
	}
	if len(repo.edges) != 1 {
		t.Errorf("repo has %d edges, want 1 (duplicate rejected pre-write)", len(repo.edges))
	}
}

func TestContentEditIsOptimisticAndDebounced(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()

	n, _, _ := p.AddNode(context.Background(), AddNodeInput{Content: "v0"})
	for _, v := range []string{"v1", "v2", "v3"} {
		if err := p.UpdateNodeContent(n.ID, v); err != nil {
			t.Fatal(err)
		}
	}

	// visible immediately, before any save fired
	got, _ := p.Store().Node(n.ID)
	if got.Content != "v3" {
		t.Errorf("local content %q, want immediate v3", got.Content)
	}

	time.Sleep(60 * time.Millisecond)
	if c := repo.nodeSaveCount(n.ID); c != 1 {
		t.Errorf("burst of edits produced %d saves, want 1", c)
	}
	saved, _ := repo.savedNode(n.ID)
	if saved.Content != "v3" {
		t.Errorf("durable content %q, want fire-time state v3", saved.Content)
	}
}

func TestFailedDebouncedSaveKeepsLocalEdit(t *testing.T) {
	repo := newFakeRepo()
	var mu sync.Mutex
	var failures int
	settings := DefaultPipelineSettings()
	settings.DebounceWindow = 15 * time.Millisecond
	settings.OnSaveError = func(SaveKey, error) {
		mu.Lock()
		failures++
		mu.Unlock()
	}
	p := NewPipeline("m1", store.New(), repo, settings)
	defer p.Close()

	n, _, _ := p.AddNode(context.Background(), AddNodeInput{Content: "v0"})
	repo.failSave = true
	p.UpdateNodeContent(n.ID, "v1")
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	f := failures
	mu.Unlock()
	if f != 1 {
		t.Errorf("got %d failure reports, want 1", f)
	}
	got, _ := p.Store().Node(n.ID)
	if got.Content != "v1" {
		t.Error("local edit must survive a failed save")
	}
}

func TestGroupMovePropagatesDeltaInOneTransition(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	x1, y1 := 0.0, 0.0
	x2, y2 := 100.0, 50.0
	a, _, _ := p.AddNode(ctx, AddNodeInput{Content: "a", X: &x1, Y: &y1})
	b, _, _ := p.AddNode(ctx, AddNodeInput{Content: "b", X: &x2, Y: &y2})
	group, err := p.CreateGroup(ctx, []string{a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}

	before := p.Store().Revision()
	if err := p.MoveNode(group.ID, group.PositionX+30, group.PositionY-10); err != nil {
		t.Fatal(err)
	}
	if got := p.Store().Revision(); got != before+1 {
		t.Errorf("group move took %d transitions, want 1", got-before)
	}

	movedA, _ := p.Store().Node(a.ID)
	movedB, _ := p.Store().Node(b.ID)
	if movedA.PositionX != 30 || movedA.PositionY != -10 {
		t.Errorf("member a at (%v,%v), want delta applied (30,-10)", movedA.PositionX, movedA.PositionY)
	}
	if movedB.PositionX != 130 || movedB.PositionY != 40 {
		t.Errorf("member b at (%v,%v), want (130,40)", movedB.PositionX, movedB.PositionY)
	}

	// every member persists under its own key
	time.Sleep(60 * time.Millisecond)
	for _, id := range []string{group.ID, a.ID, b.ID} {
		if repo.nodeSaveCount(id) == 0 {
			t.Errorf("node %s never persisted after group move", id)
		}
	}
}

func TestDeleteNodesCascadesEdgesLocally(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	a, _, _ := p.AddNode(ctx, AddNodeInput{Content: "a"})
	b, _, _ := p.AddNode(ctx, AddNodeInput{Content: "b"})
	c, _, _ := p.AddNode(ctx, AddNodeInput{Content: "c"})
	p.AddEdge(ctx, a.ID, b.ID)
	p.AddEdge(ctx, b.ID, c.ID)

	if err := p.DeleteNodes(ctx, []string{b.ID}); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Store().Node(b.ID); ok {
		t.Error("deleted node still present")
	}
	if len(p.Store().Edges()) != 0 {
		t.Errorf("%d edges left locally, want 0 (both touched b)", len(p.Store().Edges()))
	}
	if len(repo.edges) != 0 {
		t.Errorf("%d edge rows left durable, want 0", len(repo.edges))
	}
}

func TestToggleCollapseRollsBackOnFailure(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	n, _, _ := p.AddNode(ctx, AddNodeInput{Content: "a"})
	repo.failSave = true
	if err := p.ToggleCollapse(ctx, n.ID); err == nil {
		t.Fatal("expected toggle to fail with save rejected")
	}
	got, _ := p.Store().Node(n.ID)
	if store.MetaOf(&got).IsCollapsed {
		t.Error("collapse flag must roll back after failed persist")
	}

	repo.failSave = false
	if err := p.ToggleCollapse(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = p.Store().Node(n.ID)
	if !store.MetaOf(&got).IsCollapsed {
		t.Error("collapse flag should stick after successful persist")
	}
}

func TestUndoRedoRestoresSnapshots(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()
	ctx := context.Background()

	p.Load(nil, nil, nil)
	n, _, _ := p.AddNode(ctx, AddNodeInput{Content: "a"})
	p.UpdateNodeContent(n.ID, "edited")

	if !p.Undo() {
		t.Fatal("undo should succeed")
	}
	got, _ := p.Store().Node(n.ID)
	if got.Content != "a" {
		t.Errorf("after undo content %q, want %q", got.Content, "a")
	}

	if !p.Redo() {
		t.Fatal("redo should succeed")
	}
	got, _ = p.Store().Node(n.ID)
	if got.Content != "edited" {
		t.Errorf("after redo content %q, want %q", got.Content, "edited")
	}
}

func TestLastWriteWinsOnSameField(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)
	defer p.Close()

	n, _, _ := p.AddNode(context.Background(), AddNodeInput{Content: "base"})

	// two editors race on the same node; the later full-row write wins
	p.UpdateNodeContent(n.ID, "editor-1")
	p.UpdateNodeContent(n.ID, "editor-2")
	p.Flush()

	saved, _ := repo.savedNode(n.ID)
	if saved.Content != "editor-2" {
		t.Errorf("durable content %q, want last writer editor-2", saved.Content)
	}
}

func TestFlushPersistsPendingEditsOnClose(t *testing.T) {
	repo := newFakeRepo()
	p := newTestPipeline(repo)

	n, _, _ := p.AddNode(context.Background(), AddNodeInput{Content: "v0"})
	p.UpdateNodeContent(n.ID, "final")
	p.Close()

	saved, _ := repo.savedNode(n.ID)
	if saved.Content != "final" {
		t.Errorf("pending edit lost on close: durable %q", saved.Content)
	}
}
