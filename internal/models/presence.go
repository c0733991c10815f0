package models

import (
	"time"
)

// UserPresence mirrors ephemeral channel presence into a durable row,
// upserted on (user, map). Advisory only: the realtime roster is the
// source of truth and this table is never consulted for access control.
type UserPresence struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	UserID       string `gorm:"type:char(36);not null;index:idx_presence,unique"`
	MapID        string `gorm:"type:char(36);not null;index:idx_presence,unique"`
	Status       string `gorm:"size:16;not null;default:'active'"`
	Color        string `gorm:"size:16"`
	SessionID    string `gorm:"size:26"`
	DisplayName  string `gorm:"size:50"`
	CursorX      *float64
	CursorY      *float64
	Viewport     JSON      `gorm:"type:json"`
	Interaction  JSON      `gorm:"type:json"`
	LastActivity time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName overrides the table name for UserPresence
func (UserPresence) TableName() string {
	return "user_presence"
}
