// Package sync is the collaboration engine between the in-memory store and
// durable storage: a per-entity debounced persistence scheduler and the
// optimistic mutation pipeline every structural edit flows through.
package sync

import (
	"context"
	"errors"

	"github.com/mindmesh/mindmesh/internal/models"
)

// Repository is the durable-storage surface the sync core persists through.
// The server implements it over GORM (services.GormRepository); tests drive
// the core against in-memory fakes.
type Repository interface {
	CreateNode(ctx context.Context, node models.Node) (models.Node, error)
	SaveNode(ctx context.Context, node models.Node) (models.Node, error)
	DeleteNodes(ctx context.Context, mapID string, ids []string) error

	CreateEdge(ctx context.Context, edge models.Edge) (models.Edge, error)
	SaveEdge(ctx context.Context, edge models.Edge) (models.Edge, error)
	DeleteEdges(ctx context.Context, mapID string, ids []string) error
}

var (
	// ErrDuplicateEdge rejects a connect between two nodes that already
	// share an edge in either direction, before any durable write.
	ErrDuplicateEdge = errors.New("edge already exists between nodes")

	// ErrNodeNotFound rejects an operation naming an unknown node id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound rejects an operation naming an unknown edge id.
	ErrEdgeNotFound = errors.New("edge not found")
)
