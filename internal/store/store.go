// store.go
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

// Package store holds the in-memory authoritative client-side state of one
// collaborative mind map: nodes, edges and comments, plus the derived views
// (visibility under collapse, group bounds, comment summaries) the UI reads.
//
// Every mutation goes through a single state-replace under one lock, so a
// reader always observes a complete snapshot, never a half-applied one.
package store

import (
	"sync"

	"github.com/mindmesh/mindmesh/internal/models"
)

// Snapshot is one complete, consistent view of the document graph.
type Snapshot struct {
	Nodes []models.Node
	Edges []models.Edge
}

// Clone deep-copies the slices so a retained snapshot (undo history) is not
// aliased by later mutations.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Nodes: append([]models.Node(nil), s.Nodes...),
		Edges: append([]models.Edge(nil), s.Edges...),
	}
}

// Store owns the in-memory entity collections for the active map.
type Store struct {
	mu       sync.RWMutex
	revision uint64
	nodes    []models.Node
	edges    []models.Edge
	comments []models.Comment

	nodeIdx map[string]int
	edgeIdx map[string]int
}

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.reindex()
	return s
}

// Revision is a monotonic counter bumped once per state-replace. Two fields
// updated in the same Update call share a revision, which is how the
// group-move atomicity tests observe "one state transition".
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Update applies fn to the current snapshot and installs its result as the
// new state in one atomic transition.
func (s *Store) Update(fn func(Snapshot) Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(Snapshot{Nodes: s.nodes, Edges: s.edges}.Clone())
	s.nodes = next.Nodes
	s.edges = next.Edges
	s.reindex()
	s.revision++
	return next
}

// SetNodes fully replaces the node collection.
func (s *Store) SetNodes(nodes []models.Node) {
	s.Update(func(snap Snapshot) Snapshot {
		snap.Nodes = append([]models.Node(nil), nodes...)
		return snap
	})
}

// SetEdges fully replaces the edge collection.
func (s *Store) SetEdges(edges []models.Edge) {
	s.Update(func(snap Snapshot) Snapshot {
		snap.Edges = append([]models.Edge(nil), edges...)
		return snap
	})
}

// SetComments fully replaces the comment collection.
func (s *Store) SetComments(comments []models.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append([]models.Comment(nil), comments...)
	s.revision++
}

// Snapshot returns a copy of the current nodes and edges.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Nodes: s.nodes, Edges: s.edges}.Clone()
}

// Node returns the node with the given id.
func (s *Store) Node(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.nodeIdx[id]
	if !ok {
		return models.Node{}, false
	}
	return s.nodes[i], true
}

// Edge returns the edge with the given id.
func (s *Store) Edge(id string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.edgeIdx[id]
	if !ok {
		return models.Edge{}, false
	}
	return s.edges[i], true
}

// Nodes returns a copy of the node collection.
func (s *Store) Nodes() []models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Node(nil), s.nodes...)
}

// Edges returns a copy of the edge collection.
func (s *Store) Edges() []models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Edge(nil), s.edges...)
}

// Comments returns a copy of the comment collection.
func (s *Store) Comments() []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Comment(nil), s.comments...)
}

// HasEdgeBetween reports whether an edge already connects a and b in either
// direction. Connect actions check this before any durable write.
func (s *Store) HasEdgeBetween(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.edges {
		e := &s.edges[i]
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			return true
		}
	}
	return false
}

// CommentSummary is the per-node rollup the node badges render.
type CommentSummary struct {
	Count      int
	Unresolved int
}

// CommentSummaries returns the rollup keyed by node id. Map-level comments
// (no node id) are keyed under the empty string.
func (s *Store) CommentSummaries() map[string]CommentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]CommentSummary)
	for i := range s.comments {
		c := &s.comments[i]
		key := ""
		if c.NodeID != nil {
			key = *c.NodeID
		}
		sum := out[key]
		sum.Count++
		if !c.Resolved {
			sum.Unresolved++
		}
		out[key] = sum
	}
	return out
}

// Rect is an axis-aligned bounding rectangle.
type Rect struct {
	X, Y, W, H float64
}

// GroupBounds computes the bounding rectangle of a group's member nodes.
// Missing members are skipped; a group with no resolvable members reports ok
// = false.
func (s *Store) GroupBounds(groupID string) (Rect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.nodeIdx[groupID]
	if !ok {
		return Rect{}, false
	}
	meta := MetaOf(&s.nodes[i])
	if !meta.IsGroup {
		return Rect{}, false
	}

	first := true
	var minX, minY, maxX, maxY float64
	for _, childID := range meta.GroupChildren {
		j, ok := s.nodeIdx[childID]
		if !ok {
			continue
		}
		n := &s.nodes[j]
		w, h := 160.0, 40.0
		if n.Width != nil {
			w = *n.Width
		}
		if n.Height != nil {
			h = *n.Height
		}
		if first {
			minX, minY = n.PositionX, n.PositionY
			maxX, maxY = n.PositionX+w, n.PositionY+h
			first = false
			continue
		}
		if n.PositionX < minX {
			minX = n.PositionX
		}
		if n.PositionY < minY {
			minY = n.PositionY
		}
		if n.PositionX+w > maxX {
			maxX = n.PositionX + w
		}
		if n.PositionY+h > maxY {
			maxY = n.PositionY + h
		}
	}
	if first {
		return Rect{}, false
	}
	return Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// reindex rebuilds the id lookup tables. Caller holds the write lock.
func (s *Store) reindex() {
	s.nodeIdx = make(map[string]int, len(s.nodes))
	for i := range s.nodes {
		s.nodeIdx[s.nodes[i].ID] = i
	}
	s.edgeIdx = make(map[string]int, len(s.edges))
	for i := range s.edges {
		s.edgeIdx[s.edges[i].ID] = i
	}
}
