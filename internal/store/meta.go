package store

import (
	"encoding/json"

	"github.com/mindmesh/mindmesh/internal/models"
	"gorm.io/datatypes"
)

// NodeMeta is the typed view of a node's metadata bag. Unknown keys in the
// stored JSON are preserved only on the server row; the client-side bag is
// rewritten whole on change, matching full-replace semantics elsewhere.
type NodeMeta struct {
	IsGroup       bool     `json:"isGroup,omitempty"`
	GroupChildren []string `json:"groupChildren,omitempty"`
	IsCollapsed   bool     `json:"isCollapsed,omitempty"`
	GroupID       string   `json:"groupId,omitempty"`
	PathType      string   `json:"pathType,omitempty"`
}

// MetaOf decodes a node's metadata bag. A missing or malformed bag decodes
// to the zero value.
func MetaOf(n *models.Node) NodeMeta {
	var m NodeMeta
	if len(n.Metadata.JSON) == 0 {
		return m
	}
	_ = json.Unmarshal(n.Metadata.JSON, &m)
	return m
}

// SetMeta encodes m into the node's metadata bag.
func SetMeta(n *models.Node, m NodeMeta) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	n.Metadata = models.JSON{JSON: datatypes.JSON(raw)}
}
