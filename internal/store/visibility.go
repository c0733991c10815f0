package store

import (
	"github.com/mindmesh/mindmesh/internal/models"
)

// VisibleNodes returns the nodes the renderer should draw: every strict
// descendant (via the edge graph) of a collapsed node is hidden, and a
// group node is additionally hidden when all of its listed children are
// hidden. The traversal carries a visited set so cycles terminate.
func (s *Store) VisibleNodes() []models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hidden := s.hiddenSet()
	out := make([]models.Node, 0, len(s.nodes))
	for i := range s.nodes {
		if !hidden[s.nodes[i].ID] {
			out = append(out, s.nodes[i])
		}
	}
	return out
}

// VisibleEdges keeps an edge when both endpoints are visible, or when the
// source is visible and the target is itself a collapsed node, so the stub
// connection into a collapsed branch stays on screen.
func (s *Store) VisibleEdges() []models.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hidden := s.hiddenSet()
	out := make([]models.Edge, 0, len(s.edges))
	for i := range s.edges {
		e := &s.edges[i]
		srcVisible := !hidden[e.Source]
		dstVisible := !hidden[e.Target]
		if srcVisible && dstVisible {
			out = append(out, *e)
			continue
		}
		if srcVisible && s.isCollapsed(e.Target) {
			out = append(out, *e)
		}
	}
	return out
}

// hiddenSet computes the ids excluded from the visible views. Caller holds
// at least the read lock.
func (s *Store) hiddenSet() map[string]bool {
	// source -> targets adjacency of the edge graph
	children := make(map[string][]string, len(s.nodes))
	for i := range s.edges {
		e := &s.edges[i]
		children[e.Source] = append(children[e.Source], e.Target)
	}

	hidden := make(map[string]bool)
	for i := range s.nodes {
		n := &s.nodes[i]
		if !MetaOf(n).IsCollapsed {
			continue
		}
		// hide strict descendants only, never the collapsed node itself
		visited := map[string]bool{n.ID: true}
		stack := append([]string(nil), children[n.ID]...)
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[id] {
				continue
			}
			visited[id] = true
			hidden[id] = true
			stack = append(stack, children[id]...)
		}
	}

	// a group whose children are all hidden disappears with them
	for i := range s.nodes {
		n := &s.nodes[i]
		meta := MetaOf(n)
		if !meta.IsGroup || len(meta.GroupChildren) == 0 || hidden[n.ID] {
			continue
		}
		all := true
		for _, childID := range meta.GroupChildren {
			if !hidden[childID] {
				all = false
				break
			}
		}
		if all {
			hidden[n.ID] = true
		}
	}

	return hidden
}

// isCollapsed reports the collapse flag of a node id. Caller holds at least
// the read lock.
func (s *Store) isCollapsed(id string) bool {
	i, ok := s.nodeIdx[id]
	if !ok {
		return false
	}
	return MetaOf(&s.nodes[i]).IsCollapsed
}
