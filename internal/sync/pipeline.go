// pipeline.go
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

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/store"
)

// PipelineSettings tunes the mutation pipeline.
type PipelineSettings struct {
	// DebounceWindow is the quiet period before an edited entity persists.
	DebounceWindow time.Duration
	// ChildOffsetX/Y place a new child relative to its parent when the
	// caller gives no explicit position.
	ChildOffsetX float64
	ChildOffsetY float64
	// OnSaveError receives debounced-save failures. The local edit is kept.
	OnSaveError ErrorFunc
}

// DefaultPipelineSettings returns the production settings.
func DefaultPipelineSettings() *PipelineSettings {
	return &PipelineSettings{
		DebounceWindow: StoreSaveDebounce,
		ChildOffsetX:   200,
		ChildOffsetY:   100,
	}
}

// Pipeline applies structural mutations to the entity store and keeps them
// durable. Content and position edits apply optimistically and persist
// through the debounce scheduler; adds and deletes confirm against the
// repository before touching local state, because their ids and cascades
// are only authoritative once the server accepted them.
type Pipeline struct {
	mapID    string
	store    *store.Store
	repo     Repository
	sched    *Scheduler
	history  *store.History
	settings *PipelineSettings
}

// NewPipeline wires a pipeline for one map.
func NewPipeline(mapID string, st *store.Store, repo Repository, settings *PipelineSettings) *Pipeline {
	if settings == nil {
		settings = DefaultPipelineSettings()
	}
	p := &Pipeline{
		mapID:    mapID,
		store:    st,
		repo:     repo,
		history:  store.NewHistory(),
		settings: settings,
	}
	p.sched = NewScheduler(settings.DebounceWindow, p.saveEntity, settings.OnSaveError)
	return p
}

// Store exposes the entity store for read access.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// History exposes the undo/redo stack.
func (p *Pipeline) History() *store.History {
	return p.history
}

// Scheduler exposes the persistence scheduler (loading flags, last-saved).
func (p *Pipeline) Scheduler() *Scheduler {
	return p.sched
}

// Load seeds the store with server state and anchors the history.
func (p *Pipeline) Load(nodes []models.Node, edges []models.Edge, comments []models.Comment) {
	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		s.Nodes = nodes
		s.Edges = edges
		return s
	})
	p.store.SetComments(comments)
	p.history.Push("load", snap)
}

// AddNodeInput describes a node-add request. When ParentID is set and no
// explicit position is given, the child lands offset right and below its
// parent, and exactly one edge parent->child is created with it.
type AddNodeInput struct {
	ParentID *string
	Content  string
	NodeType string
	X, Y     *float64
}

// AddNode creates a node (and its parent edge, if any) durably, then applies
// both to the store in one transition.
func (p *Pipeline) AddNode(ctx context.Context, in AddNodeInput) (models.Node, *models.Edge, error) {
	nodeType := in.NodeType
	if nodeType == "" {
		nodeType = "default"
	}
	node := models.Node{
		ID:       uuid.NewString(),
		MapID:    p.mapID,
		ParentID: in.ParentID,
		Content:  in.Content,
		NodeType: nodeType,
	}

	if in.X != nil && in.Y != nil {
		node.PositionX, node.PositionY = *in.X, *in.Y
	} else if in.ParentID != nil {
		parent, ok := p.store.Node(*in.ParentID)
		if !ok {
			return models.Node{}, nil, fmt.Errorf("add node: parent %s: %w", *in.ParentID, ErrNodeNotFound)
		}
		node.PositionX = parent.PositionX + p.settings.ChildOffsetX
		node.PositionY = parent.PositionY + p.settings.ChildOffsetY
	}

	var edge *models.Edge
	if in.ParentID != nil {
		if p.store.HasEdgeBetween(*in.ParentID, node.ID) {
			return models.Node{}, nil, ErrDuplicateEdge
		}
		edge = &models.Edge{
			ID:     uuid.NewString(),
			MapID:  p.mapID,
			Source: *in.ParentID,
			Target: node.ID,
		}
	}

	created, err := p.repo.CreateNode(ctx, node)
	if err != nil {
		return models.Node{}, nil, fmt.Errorf("add node: %w", err)
	}
	if edge != nil {
		createdEdge, err := p.repo.CreateEdge(ctx, *edge)
		if err != nil {
			return models.Node{}, nil, fmt.Errorf("add node edge: %w", err)
		}
		edge = &createdEdge
	}

	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		s.Nodes = append(s.Nodes, created)
		if edge != nil {
			s.Edges = append(s.Edges, *edge)
		}
		return s
	})
	p.history.Push("add_node", snap)
	return created, edge, nil
}

// UpdateNodeContent applies a content edit optimistically and schedules its
// debounced save. A later save failure does not revert the text.
func (p *Pipeline) UpdateNodeContent(id, content string) error {
	if _, ok := p.store.Node(id); !ok {
		return ErrNodeNotFound
	}
	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		for i := range s.Nodes {
			if s.Nodes[i].ID == id {
				s.Nodes[i].Content = content
				break
			}
		}
		return s
	})
	p.history.Push("update_node", snap)
	p.sched.Schedule(SaveKey{Kind: KindNode, ID: id})
	return nil
}

// MoveNode applies a position change optimistically. When the target is a
// group node, the delta versus its last known position propagates to every
// id in groupChildren within the same state transition; each child then
// persists under its own debounce key.
func (p *Pipeline) MoveNode(id string, x, y float64) error {
	node, ok := p.store.Node(id)
	if !ok {
		return ErrNodeNotFound
	}
	dx := x - node.PositionX
	dy := y - node.PositionY

	// derive members at move time, never from a cached list
	var members []string
	if meta := store.MetaOf(&node); meta.IsGroup {
		members = meta.GroupChildren
	}
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}

	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		for i := range s.Nodes {
			switch {
			case s.Nodes[i].ID == id:
				s.Nodes[i].PositionX = x
				s.Nodes[i].PositionY = y
			case memberSet[s.Nodes[i].ID]:
				s.Nodes[i].PositionX += dx
				s.Nodes[i].PositionY += dy
			}
		}
		return s
	})
	p.history.Push("move_node", snap)

	p.sched.Schedule(SaveKey{Kind: KindNode, ID: id})
	for _, m := range members {
		p.sched.Schedule(SaveKey{Kind: KindNode, ID: m})
	}
	return nil
}

// ResizeNode applies a size change optimistically with a debounced save.
func (p *Pipeline) ResizeNode(id string, width, height float64) error {
	if _, ok := p.store.Node(id); !ok {
		return ErrNodeNotFound
	}
	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		for i := range s.Nodes {
			if s.Nodes[i].ID == id {
				w, h := width, height
				s.Nodes[i].Width = &w
				s.Nodes[i].Height = &h
				break
			}
		}
		return s
	})
	p.history.Push("resize_node", snap)
	p.sched.Schedule(SaveKey{Kind: KindNode, ID: id})
	return nil
}

// AddEdge connects two existing nodes. A duplicate in either direction is
// rejected before any durable write.
func (p *Pipeline) AddEdge(ctx context.Context, source, target string) (models.Edge, error) {
	if _, ok := p.store.Node(source); !ok {
		return models.Edge{}, fmt.Errorf("add edge: source %s: %w", source, ErrNodeNotFound)
	}
	if _, ok := p.store.Node(target); !ok {
		return models.Edge{}, fmt.Errorf("add edge: target %s: %w", target, ErrNodeNotFound)
	}
	if p.store.HasEdgeBetween(source, target) {
		return models.Edge{}, ErrDuplicateEdge
	}

	edge := models.Edge{
		ID:     uuid.NewString(),
		MapID:  p.mapID,
		Source: source,
		Target: target,
	}
	created, err := p.repo.CreateEdge(ctx, edge)
	if err != nil {
		return models.Edge{}, fmt.Errorf("add edge: %w", err)
	}

	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		s.Edges = append(s.Edges, created)
		return s
	})
	p.history.Push("add_edge", snap)
	return created, nil
}

// DeleteNodes removes the nodes and every edge touching them. Node deletion
// confirms durably first; local state then drops nodes and dependent edges
// in one transition; the dependent edge rows delete durably last. If that
// final step fails the nodes stay deleted and the error surfaces — the
// orphaned edge rows are a known inconsistency the server-side repository
// avoids by deleting both inside one transaction.
func (p *Pipeline) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := p.store.Node(id); !ok {
			return fmt.Errorf("delete nodes: %s: %w", id, ErrNodeNotFound)
		}
		idSet[id] = true
	}

	var edgeIDs []string
	for _, e := range p.store.Edges() {
		if idSet[e.Source] || idSet[e.Target] {
			edgeIDs = append(edgeIDs, e.ID)
		}
	}

	if err := p.repo.DeleteNodes(ctx, p.mapID, ids); err != nil {
		return fmt.Errorf("delete nodes: %w", err)
	}

	edgeIDSet := make(map[string]bool, len(edgeIDs))
	for _, id := range edgeIDs {
		edgeIDSet[id] = true
	}
	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		nodes := s.Nodes[:0]
		for _, n := range s.Nodes {
			if !idSet[n.ID] {
				nodes = append(nodes, n)
			}
		}
		s.Nodes = nodes
		edges := s.Edges[:0]
		for _, e := range s.Edges {
			if !edgeIDSet[e.ID] {
				edges = append(edges, e)
			}
		}
		s.Edges = edges
		return s
	})
	p.history.Push("delete_nodes", snap)

	if len(edgeIDs) > 0 {
		if err := p.repo.DeleteEdges(ctx, p.mapID, edgeIDs); err != nil {
			return fmt.Errorf("delete dependent edges: %w", err)
		}
	}
	return nil
}

// DeleteEdges removes edges, confirming durably before applying locally.
func (p *Pipeline) DeleteEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := p.store.Edge(id); !ok {
			return fmt.Errorf("delete edges: %s: %w", id, ErrEdgeNotFound)
		}
		idSet[id] = true
	}

	if err := p.repo.DeleteEdges(ctx, p.mapID, ids); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}

	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		edges := s.Edges[:0]
		for _, e := range s.Edges {
			if !idSet[e.ID] {
				edges = append(edges, e)
			}
		}
		s.Edges = edges
		return s
	})
	p.history.Push("delete_edges", snap)
	return nil
}

// CreateGroup creates a group node bounding the given members. The group row
// confirms durably first; the store then gains the group and rewrites each
// member's groupId in one transition, with member saves scheduled
// individually.
func (p *Pipeline) CreateGroup(ctx context.Context, memberIDs []string) (models.Node, error) {
	if len(memberIDs) == 0 {
		return models.Node{}, fmt.Errorf("create group: no members")
	}
	for _, id := range memberIDs {
		if _, ok := p.store.Node(id); !ok {
			return models.Node{}, fmt.Errorf("create group: %s: %w", id, ErrNodeNotFound)
		}
	}

	group := models.Node{
		ID:       uuid.NewString(),
		MapID:    p.mapID,
		NodeType: "group",
	}
	store.SetMeta(&group, store.NodeMeta{
		IsGroup:       true,
		GroupChildren: append([]string(nil), memberIDs...),
	})

	// position the group at the top-left of its members
	first := true
	for _, id := range memberIDs {
		n, _ := p.store.Node(id)
		if first || n.PositionX < group.PositionX {
			group.PositionX = n.PositionX
		}
		if first || n.PositionY < group.PositionY {
			group.PositionY = n.PositionY
		}
		first = false
	}

	created, err := p.repo.CreateNode(ctx, group)
	if err != nil {
		return models.Node{}, fmt.Errorf("create group: %w", err)
	}

	memberSet := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		memberSet[id] = true
	}
	snap := p.store.Update(func(s store.Snapshot) store.Snapshot {
		for i := range s.Nodes {
			if memberSet[s.Nodes[i].ID] {
				meta := store.MetaOf(&s.Nodes[i])
				meta.GroupID = created.ID
				store.SetMeta(&s.Nodes[i], meta)
			}
		}
		s.Nodes = append(s.Nodes, created)
		return s
	})
	p.history.Push("create_group", snap)

	for _, id := range memberIDs {
		p.sched.Schedule(SaveKey{Kind: KindNode, ID: id})
	}
	return created, nil
}

// ToggleCollapse flips a node's collapse flag optimistically and persists it
// immediately; a persistence failure rolls the flag back to its prior value.
func (p *Pipeline) ToggleCollapse(ctx context.Context, id string) error {
	node, ok := p.store.Node(id)
	if !ok {
		return ErrNodeNotFound
	}
	prior := store.MetaOf(&node).IsCollapsed

	flip := func(value bool) {
		p.store.Update(func(s store.Snapshot) store.Snapshot {
			for i := range s.Nodes {
				if s.Nodes[i].ID == id {
					meta := store.MetaOf(&s.Nodes[i])
					meta.IsCollapsed = value
					store.SetMeta(&s.Nodes[i], meta)
					break
				}
			}
			return s
		})
	}

	flip(!prior)
	current, _ := p.store.Node(id)
	if _, err := p.repo.SaveNode(ctx, current); err != nil {
		flip(prior)
		return fmt.Errorf("toggle collapse: %w", err)
	}
	p.history.Push("toggle_collapse", p.store.Snapshot())
	return nil
}

// Undo restores the previous history snapshot without re-persisting it.
func (p *Pipeline) Undo() bool {
	entry, ok := p.history.Undo()
	if !ok {
		return false
	}
	p.store.Update(func(store.Snapshot) store.Snapshot {
		return entry.Snapshot.Clone()
	})
	return true
}

// Redo replays the most recently undone snapshot.
func (p *Pipeline) Redo() bool {
	entry, ok := p.history.Redo()
	if !ok {
		return false
	}
	p.store.Update(func(store.Snapshot) store.Snapshot {
		return entry.Snapshot.Clone()
	})
	return true
}

// Flush forces every pending debounced save to run now.
func (p *Pipeline) Flush() {
	p.sched.Flush()
}

// Close flushes pending saves and stops the scheduler.
func (p *Pipeline) Close() {
	p.sched.Flush()
	p.sched.Stop()
}

// saveEntity is the scheduler's SaveFunc: it reads the entity's current
// state at fire time, writes it durably, and merges the server-confirmed
// row's derived fields back into the store. An entity deleted while its
// save was pending is skipped.
func (p *Pipeline) saveEntity(ctx context.Context, key SaveKey) error {
	switch key.Kind {
	case KindNode:
		node, ok := p.store.Node(key.ID)
		if !ok {
			return nil
		}
		saved, err := p.repo.SaveNode(ctx, node)
		if err != nil {
			return err
		}
		p.store.Update(func(s store.Snapshot) store.Snapshot {
			for i := range s.Nodes {
				if s.Nodes[i].ID == key.ID {
					s.Nodes[i].CreatedAt = saved.CreatedAt
					s.Nodes[i].UpdatedAt = saved.UpdatedAt
					s.Nodes[i].AIData = saved.AIData
					break
				}
			}
			return s
		})
		return nil
	case KindEdge:
		edge, ok := p.store.Edge(key.ID)
		if !ok {
			return nil
		}
		saved, err := p.repo.SaveEdge(ctx, edge)
		if err != nil {
			return err
		}
		p.store.Update(func(s store.Snapshot) store.Snapshot {
			for i := range s.Edges {
				if s.Edges[i].ID == key.ID {
					s.Edges[i].CreatedAt = saved.CreatedAt
					s.Edges[i].UpdatedAt = saved.UpdatedAt
					break
				}
			}
			return s
		})
		return nil
	}
	return fmt.Errorf("unknown entity kind %q", key.Kind)
}
