package models

import (
	"time"
)

// MindMap represents one collaborative mind-map document, the unit of
// sharing and presence scoping.
type MindMap struct {
	ID          string `gorm:"primaryKey;type:char(36)"`
	Title       string `gorm:"size:255;not null"`
	Description string `gorm:"size:1024"`
	OwnerID     string `gorm:"type:char(36);not null;index"`
	IsPublic    bool   `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Nodes       []Node `gorm:"foreignKey:MapID"`
	Edges       []Edge `gorm:"foreignKey:MapID"`
}

// Node is a vertex of a mind map. PositionX/PositionY and Width/Height are
// the layout-sensitive fields renderers depend on; Metadata carries the
// type-specific bag (isGroup, groupChildren, isCollapsed, groupId, ...).
type Node struct {
	ID        string  `gorm:"primaryKey;type:char(36)"`
	MapID     string  `gorm:"type:char(36);not null;index:idx_node_map"`
	ParentID  *string `gorm:"type:char(36)"`
	Content   string  `gorm:"type:text"`
	PositionX float64 `gorm:"not null;default:0"`
	PositionY float64 `gorm:"not null;default:0"`
	Width     *float64
	Height    *float64
	NodeType  string `gorm:"size:32;not null;default:'default'"`
	Metadata  JSON   `gorm:"type:json"`
	AIData    JSON   `gorm:"type:json;column:ai_data"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Edge is a directed connection between two node ids of the same map.
type Edge struct {
	ID        string  `gorm:"primaryKey;type:char(36)"`
	MapID     string  `gorm:"type:char(36);not null;index:idx_edge_map"`
	Source    string  `gorm:"type:char(36);not null;index"`
	Target    string  `gorm:"type:char(36);not null;index"`
	Label     *string `gorm:"size:255"`
	Style     JSON    `gorm:"type:json"`
	Metadata  JSON    `gorm:"type:json"`
	Animated  bool    `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile is the durable identity row. Anonymous (guest) participants
// get a row too, flagged IsAnonymous, so access grants and comments always
// reference a real profile.
type UserProfile struct {
	ID          string `gorm:"primaryKey;type:char(36)"`
	DisplayName string `gorm:"size:50;not null"`
	Email       *string
	AvatarURL   *string
	IsAnonymous bool   `gorm:"default:false"`
	Plan        string `gorm:"size:16;not null;default:'free'"`
	Fingerprint *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides the table name for MindMap
func (MindMap) TableName() string {
	return "mind_maps"
}

// TableName overrides the table name for Node
func (Node) TableName() string {
	return "nodes"
}

// TableName overrides the table name for Edge
func (Edge) TableName() string {
	return "edges"
}

// TableName overrides the table name for UserProfile
func (UserProfile) TableName() string {
	return "user_profiles"
}
