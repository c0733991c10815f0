// map_service.go
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

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mindmesh/mindmesh/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository is the durable side of the sync core, implementing
// sync.Repository over the relational store.
type GormRepository struct {
	DB *gorm.DB
}

// CreateNode inserts a node and returns the stored row.
func (r *GormRepository) CreateNode(ctx context.Context, node models.Node) (models.Node, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := r.DB.WithContext(ctx).Create(&node).Error; err != nil {
		return models.Node{}, err
	}
	return node, nil
}

// SaveNode upserts a node's full row and returns the server-confirmed copy,
// whose timestamps win over the client's.
func (r *GormRepository) SaveNode(ctx context.Context, node models.Node) (models.Node, error) {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&node).Error
	if err != nil {
		return models.Node{}, err
	}
	var saved models.Node
	if err := r.DB.WithContext(ctx).Where("id = ?", node.ID).First(&saved).Error; err != nil {
		return models.Node{}, err
	}
	return saved, nil
}

// DeleteNodes removes nodes and every edge touching them in one
// transaction, closing the orphaned-edge window the two-step client path
// documents.
func (r *GormRepository) DeleteNodes(ctx context.Context, mapID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("map_id = ? AND (source IN ? OR target IN ?)", mapID, ids, ids).
			Delete(&models.Edge{}).Error; err != nil {
			return err
		}
		return tx.Where("map_id = ? AND id IN ?", mapID, ids).Delete(&models.Node{}).Error
	})
}

// CreateEdge inserts an edge after verifying both endpoints exist in the
// same map and no edge already connects them in either direction.
func (r *GormRepository) CreateEdge(ctx context.Context, edge models.Edge) (models.Edge, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var endpoints int64
		if err := tx.Model(&models.Node{}).
			Where("map_id = ? AND id IN ?", edge.MapID, []string{edge.Source, edge.Target}).
			Count(&endpoints).Error; err != nil {
			return err
		}
		if endpoints != 2 {
			return fmt.Errorf("edge endpoints must exist in map %s", edge.MapID)
		}
		var dupes int64
		if err := tx.Model(&models.Edge{}).
			Where("map_id = ? AND ((source = ? AND target = ?) OR (source = ? AND target = ?))",
				edge.MapID, edge.Source, edge.Target, edge.Target, edge.Source).
			Count(&dupes).Error; err != nil {
			return err
		}
		if dupes > 0 {
			return fmt.Errorf("duplicate edge between %s and %s", edge.Source, edge.Target)
		}
		return tx.Create(&edge).Error
	})
	if err != nil {
		return models.Edge{}, err
	}
	return edge, nil
}

// SaveEdge upserts an edge's full row and returns the stored copy.
func (r *GormRepository) SaveEdge(ctx context.Context, edge models.Edge) (models.Edge, error) {
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&edge).Error
	if err != nil {
		return models.Edge{}, err
	}
	var saved models.Edge
	if err := r.DB.WithContext(ctx).Where("id = ?", edge.ID).First(&saved).Error; err != nil {
		return models.Edge{}, err
	}
	return saved, nil
}

// DeleteEdges removes edges by id.
func (r *GormRepository) DeleteEdges(ctx context.Context, mapID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Where("map_id = ? AND id IN ?", mapID, ids).Delete(&models.Edge{}).Error
}

// UpsertPresence mirrors channel presence into the advisory table, keyed on
// (user, map).
func (r *GormRepository) UpsertPresence(ctx context.Context, row models.UserPresence) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "map_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "color", "session_id", "display_name",
			"cursor_x", "cursor_y", "viewport", "interaction", "last_activity",
		}),
	}).Create(&row).Error
}

// RemovePresence drops the mirrored row on explicit leave. Best-effort; a
// stale row is superseded by the next heartbeat of the same session.
func (r *GormRepository) RemovePresence(ctx context.Context, userID, mapID string) error {
	return r.DB.WithContext(ctx).
		Where("user_id = ? AND map_id = ?", userID, mapID).
		Delete(&models.UserPresence{}).Error
}

// MapGraph is the full document payload a joining client loads.
type MapGraph struct {
	Map      models.MindMap   `json:"map"`
	Nodes    []models.Node    `json:"nodes"`
	Edges    []models.Edge    `json:"edges"`
	Comments []models.Comment `json:"comments"`
}

// GetMapGraph loads a map with its nodes, edges and comments.
func GetMapGraph(db *gorm.DB, mapID string) (*MapGraph, error) {
	var mindMap models.MindMap
	if err := db.Where("id = ?", mapID).First(&mindMap).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("not found")
		}
		return nil, err
	}
	graph := &MapGraph{Map: mindMap}
	if err := db.Where("map_id = ?", mapID).Order("created_at").Find(&graph.Nodes).Error; err != nil {
		return nil, err
	}
	if err := db.Where("map_id = ?", mapID).Order("created_at").Find(&graph.Edges).Error; err != nil {
		return nil, err
	}
	if err := db.Preload("Reactions").Where("map_id = ?", mapID).Order("created_at").Find(&graph.Comments).Error; err != nil {
		return nil, err
	}
	return graph, nil
}

// CreateMap inserts a new map owned by the caller.
func CreateMap(db *gorm.DB, ownerID, title, description string) (*models.MindMap, error) {
	m := models.MindMap{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
	}
	if err := db.Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CommentInput describes a comment creation.
type CommentInput struct {
	MapID    string
	NodeID   *string
	AuthorID string
	Content  string
	ParentID *string
}

// CreateComment inserts a comment or threaded reply. A reply's parent must
// belong to the same map.
func CreateComment(db *gorm.DB, in CommentInput) (*models.Comment, error) {
	if in.ParentID != nil {
		var parent models.Comment
		if err := db.Where("id = ?", *in.ParentID).First(&parent).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, fmt.Errorf("parent comment not found")
			}
			return nil, err
		}
		if parent.MapID != in.MapID {
			return nil, fmt.Errorf("parent comment belongs to a different map")
		}
	}
	comment := models.Comment{
		ID:       uuid.NewString(),
		MapID:    in.MapID,
		NodeID:   in.NodeID,
		AuthorID: in.AuthorID,
		Content:  in.Content,
		ParentID: in.ParentID,
	}
	if err := db.Create(&comment).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateComment edits a comment's content, stamping the edited audit pair.
func UpdateComment(db *gorm.DB, commentID, authorID, content string) (*models.Comment, error) {
	var comment models.Comment
	if err := db.Where("id = ?", commentID).First(&comment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("not found")
		}
		return nil, err
	}
	if comment.AuthorID != authorID {
		return nil, fmt.Errorf("forbidden")
	}
	now := time.Now()
	if err := db.Model(&comment).Updates(map[string]interface{}{
		"content":   content,
		"edited":    true,
		"edited_at": now,
	}).Error; err != nil {
		return nil, err
	}
	comment.Content = content
	comment.Edited = true
	comment.EditedAt = &now
	return &comment, nil
}

// ResolveComment flips resolution state with its who/when audit pair.
func ResolveComment(db *gorm.DB, commentID, resolverID string, resolved bool) error {
	updates := map[string]interface{}{"resolved": resolved}
	if resolved {
		updates["resolved_by"] = resolverID
		updates["resolved_at"] = time.Now()
	} else {
		updates["resolved_by"] = nil
		updates["resolved_at"] = nil
	}
	res := db.Model(&models.Comment{}).Where("id = ?", commentID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("not found")
	}
	return nil
}

// DeleteComment removes a comment and its direct replies and reactions.
func DeleteComment(db *gorm.DB, commentID, authorID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var comment models.Comment
		if err := tx.Where("id = ?", commentID).First(&comment).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("not found")
			}
			return err
		}
		if comment.AuthorID != authorID {
			return fmt.Errorf("forbidden")
		}
		if err := tx.Where("comment_id = ?", commentID).Delete(&models.CommentReaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("parent_id = ?", commentID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&comment).Error
	})
}

// ToggleReaction adds the user's emoji reaction, or removes it when it
// already exists.
func ToggleReaction(db *gorm.DB, commentID, userID, emoji string) (added bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing models.CommentReaction
		findErr := tx.Where("comment_id = ? AND user_id = ? AND emoji = ?", commentID, userID, emoji).
			First(&existing).Error
		switch findErr {
		case nil:
			added = false
			return tx.Delete(&existing).Error
		case gorm.ErrRecordNotFound:
			added = true
			return tx.Create(&models.CommentReaction{
				ID:        uuid.NewString(),
				CommentID: commentID,
				UserID:    userID,
				Emoji:     emoji,
			}).Error
		default:
			return findErr
		}
	})
	return added, err
}
