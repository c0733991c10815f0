package models

import (
	"time"
)

// Comment is attached either to a node (NodeID set) or to the map itself.
// Replies reference their parent comment; the parent must belong to the
// same map.
type Comment struct {
	ID          string  `gorm:"primaryKey;type:char(36)"`
	MapID       string  `gorm:"type:char(36);not null;index:idx_comment_map"`
	NodeID      *string `gorm:"type:char(36);index"`
	AuthorID    string  `gorm:"type:char(36);not null"`
	Content     string  `gorm:"type:text;not null"`
	ParentID    *string `gorm:"type:char(36);index"`
	Resolved    bool    `gorm:"default:false"`
	ResolvedBy  *string `gorm:"type:char(36)"`
	ResolvedAt  *time.Time
	Edited      bool `gorm:"default:false"`
	EditedAt    *time.Time
	Metadata    JSON `gorm:"type:json"`
	Attachments JSON `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Reactions   []CommentReaction `gorm:"foreignKey:CommentID"`
}

// CommentReaction is one user's emoji reaction on a comment. A user can
// react at most once per emoji per comment.
type CommentReaction struct {
	ID        string `gorm:"primaryKey;type:char(36)"`
	CommentID string `gorm:"type:char(36);not null;index:idx_reaction,unique"`
	Emoji     string `gorm:"size:16;not null;index:idx_reaction,unique"`
	UserID    string `gorm:"type:char(36);not null;index:idx_reaction,unique"`
	CreatedAt time.Time
}

// TableName overrides the table name for Comment
func (Comment) TableName() string {
	return "map_comments"
}

// TableName overrides the table name for CommentReaction
func (CommentReaction) TableName() string {
	return "comment_reactions"
}
