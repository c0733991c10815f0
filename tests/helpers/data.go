// data.go
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

package helpers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/services"
	"gorm.io/gorm"
)

// CreateTestProfile creates a user profile row
func CreateTestProfile(t *testing.T, db *gorm.DB, displayName, plan string) models.UserProfile {
	t.Helper()
	profile := models.UserProfile{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Plan:        plan,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("Failed to create profile: %v", err)
	}
	return profile
}

// CreateTestMap creates a mind map owned by the given profile
func CreateTestMap(t *testing.T, db *gorm.DB, ownerID, title string) models.MindMap {
	t.Helper()
	m, err := services.CreateMap(db, ownerID, title, "")
	if err != nil {
		t.Fatalf("Failed to create map: %v", err)
	}
	return *m
}

// CreateTestRoomCode mints an editor room code for a map
func CreateTestRoomCode(t *testing.T, db *gorm.DB, ownerID, mapID string, maxUsers int) *services.RoomCodeResult {
	t.Helper()
	result, err := services.CreateRoomCode(db, services.RoomCodeInput{
		MapID:      mapID,
		Role:       "editor",
		CanEdit:    true,
		CanComment: true,
		CanView:    true,
		MaxUsers:   maxUsers,
		CreatedBy:  ownerID,
	})
	if err != nil {
		t.Fatalf("Failed to create room code: %v", err)
	}
	return result
}

// SeedTestGraph creates a small star-shaped node/edge graph on a map and
// returns the node ids, hub first
func SeedTestGraph(t *testing.T, db *gorm.DB, mapID string, nodeCount int) []string {
	t.Helper()
	ids := make([]string, 0, nodeCount)
	for i := 0; i < nodeCount; i++ {
		node := models.Node{
			ID:        uuid.NewString(),
			MapID:     mapID,
			Content:   "node",
			PositionX: float64(i * 200),
		}
		if err := db.Create(&node).Error; err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}
		ids = append(ids, node.ID)
	}
	for i := 1; i < len(ids); i++ {
		edge := models.Edge{
			ID:     uuid.NewString(),
			MapID:  mapID,
			Source: ids[0],
			Target: ids[i],
		}
		if err := db.Create(&edge).Error; err != nil {
			t.Fatalf("Failed to create edge: %v", err)
		}
	}
	return ids
}
