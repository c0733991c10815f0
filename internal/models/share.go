package models

import (
	"time"
)

// ShareToken is a map-scoped join capability: a human-typeable room code
// with a permission bundle and a user-count cap. CurrentUsers must never
// exceed MaxUsers; the join transaction enforces this under row locking.
type ShareToken struct {
	ID           string `gorm:"primaryKey;type:char(36)"`
	MapID        string `gorm:"type:char(36);not null;index"`
	Token        string `gorm:"uniqueIndex:idx_share_token;size:16;not null"`
	TokenType    string `gorm:"size:32;not null;default:'room_code'"`
	Role         string `gorm:"size:32;not null;default:'viewer'"`
	CanEdit      bool   `gorm:"default:false"`
	CanComment   bool   `gorm:"default:false"`
	CanView      bool   `gorm:"default:true"`
	MaxUsers     int    `gorm:"not null;default:50"`
	CurrentUsers int    `gorm:"not null;default:0"`
	ExpiresAt    *time.Time
	IsActive     bool   `gorm:"default:true"`
	CreatedBy    string `gorm:"type:char(36);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MapCollaborator is the access-grant row created or refreshed by a join.
// One row per (map, user); rejoining updates it rather than duplicating it.
type MapCollaborator struct {
	ID         string `gorm:"primaryKey;type:char(36)"`
	MapID      string `gorm:"type:char(36);not null;index:idx_map_collab,unique"`
	UserID     string `gorm:"type:char(36);not null;index:idx_map_collab,unique"`
	TokenID    string `gorm:"type:char(36);not null"`
	Role       string `gorm:"size:32;not null"`
	CanEdit    bool   `gorm:"default:false"`
	CanComment bool   `gorm:"default:false"`
	CanView    bool   `gorm:"default:true"`
	JoinedAt   time.Time
	LastSeenAt time.Time
}

// ShareAccess is one audit row per successful join. Best-effort: a failed
// insert never fails the join itself. IDs are ULIDs so rows sort by time.
type ShareAccess struct {
	ID          string `gorm:"primaryKey;size:26"`
	TokenID     string `gorm:"type:char(36);not null;index"`
	MapID       string `gorm:"type:char(36);not null;index"`
	UserID      string `gorm:"type:char(36);not null"`
	DisplayName string `gorm:"size:50"`
	IsAnonymous bool   `gorm:"default:false"`
	AccessedAt  time.Time
}

// TableName overrides the table name for ShareToken
func (ShareToken) TableName() string {
	return "share_tokens"
}

// TableName overrides the table name for MapCollaborator
func (MapCollaborator) TableName() string {
	return "map_collaborators"
}

// TableName overrides the table name for ShareAccess
func (ShareAccess) TableName() string {
	return "share_accesses"
}
