// share_service.go
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
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/types"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/hints"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// planCollaboratorLimit caps how many distinct collaborators a map owner's
// plan allows across one map, independent of per-token max_users.
var planCollaboratorLimit = map[string]int{
	"free": 5,
	"pro":  50,
	"team": 100,
}

// Permissions is the effective permission bundle resolved by a join.
type Permissions struct {
	Role       string `json:"role"`
	CanEdit    bool   `json:"can_edit"`
	CanComment bool   `json:"can_comment"`
	CanView    bool   `json:"can_view"`
}

// JoinResult is the payload of a successful join.
type JoinResult struct {
	MapID             string      `json:"map_id"`
	MapTitle          string      `json:"map_title"`
	MapDescription    string      `json:"map_description"`
	Permissions       Permissions `json:"permissions"`
	TokenID           string      `json:"token_id"`
	CollaboratorCount int         `json:"collaborator_count"`
	CollaboratorLimit int         `json:"collaborator_limit"`
}

// RoomCodeInput describes a room-code creation request.
type RoomCodeInput struct {
	MapID          string
	Role           string
	CanEdit        bool
	CanComment     bool
	CanView        bool
	MaxUsers       int
	ExpiresInHours int
	CreatedBy      string
}

// RoomCodeResult is the payload of a room-code creation.
type RoomCodeResult struct {
	Token        string      `json:"token"`
	TokenID      string      `json:"token_id"`
	Permissions  Permissions `json:"permissions"`
	MaxUsers     int         `json:"max_users"`
	CurrentUsers int         `json:"current_users"`
	ExpiresAt    *time.Time  `json:"expires_at"`
	MapTitle     string      `json:"map_title"`
}

// lockForUpdate applies a row lock, plus an index hint when given, on
// engines that support them. sqlite runs the plain query; its single-writer
// transaction serializes joins anyway.
func lockForUpdate(tx *gorm.DB, index string) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	if index != "" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"}, hints.UseIndex(index))
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// GenerateUniqueRoomCode mints an XXX-XXX room code not already in use.
func GenerateUniqueRoomCode(db *gorm.DB) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := randomRoomCode()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.ShareToken{}).Where("token = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique room code")
}

func randomRoomCode() (string, error) {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		if i == 3 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// CreateRoomCode creates a share token for a map the caller owns.
func CreateRoomCode(db *gorm.DB, in RoomCodeInput) (*RoomCodeResult, error) {
	var mindMap models.MindMap
	if err := db.Where("id = ?", in.MapID).First(&mindMap).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("not found")
		}
		return nil, err
	}
	if mindMap.OwnerID != in.CreatedBy {
		return nil, fmt.Errorf("forbidden")
	}

	code, err := GenerateUniqueRoomCode(db)
	if err != nil {
		return nil, err
	}

	maxUsers := in.MaxUsers
	if maxUsers == 0 {
		maxUsers = 50
	}
	token := models.ShareToken{
		ID:         uuid.NewString(),
		MapID:      in.MapID,
		Token:      code,
		TokenType:  "room_code",
		Role:       in.Role,
		CanEdit:    in.CanEdit,
		CanComment: in.CanComment,
		CanView:    in.CanView,
		MaxUsers:   maxUsers,
		IsActive:   true,
		CreatedBy:  in.CreatedBy,
	}
	if in.ExpiresInHours > 0 {
		expires := time.Now().Add(time.Duration(in.ExpiresInHours) * time.Hour)
		token.ExpiresAt = &expires
	}
	if err := db.Create(&token).Error; err != nil {
		return nil, err
	}

	return &RoomCodeResult{
		Token:   token.Token,
		TokenID: token.ID,
		Permissions: Permissions{
			Role:       token.Role,
			CanEdit:    token.CanEdit,
			CanComment: token.CanComment,
			CanView:    token.CanView,
		},
		MaxUsers:     token.MaxUsers,
		CurrentUsers: token.CurrentUsers,
		ExpiresAt:    token.ExpiresAt,
		MapTitle:     mindMap.Title,
	}, nil
}

// JoinRoom validates a room code and admits the user, all inside one
// transaction with the token row locked: existence/active check, expiry,
// capacity, plan limit, access-grant upsert and counter increment either
// all happen or none do. Concurrent joiners serialize on the row lock, so
// current_users can never oversell max_users.
func JoinRoom(db *gorm.DB, code, userID string) (*JoinResult, *types.JoinError) {
	var result JoinResult
	code = NormalizeRoomCode(code)

	txErr := db.Transaction(func(tx *gorm.DB) error {
		var token models.ShareToken
		err := lockForUpdate(tx, "idx_share_token").Where("token = ?", code).First(&token).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return types.NewJoinError(types.JoinErrInvalidCode, "Room code not found")
			}
			return err
		}
		if !token.IsActive {
			return types.NewJoinError(types.JoinErrInvalidCode, "Room code is no longer active")
		}
		if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
			return types.NewJoinError(types.JoinErrExpired, "Room code has expired")
		}

		var mindMap models.MindMap
		if err := tx.Where("id = ?", token.MapID).First(&mindMap).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return types.NewJoinError(types.JoinErrMapNotFound, "Map no longer exists")
			}
			return err
		}

		var user models.UserProfile
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return types.NewJoinError(types.JoinErrInvalidUser, "Unknown user")
			}
			return err
		}

		now := time.Now()

		// a returning collaborator reuses their grant without consuming
		// another seat
		var existing models.MapCollaborator
		err = tx.Where("map_id = ? AND user_id = ?", token.MapID, userID).First(&existing).Error
		switch {
		case err == nil:
			existing.TokenID = token.ID
			existing.Role = token.Role
			existing.CanEdit = token.CanEdit
			existing.CanComment = token.CanComment
			existing.CanView = token.CanView
			existing.LastSeenAt = now
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
		case err == gorm.ErrRecordNotFound:
			if token.CurrentUsers >= token.MaxUsers {
				return &types.JoinError{
					Code:         types.JoinErrRoomFull,
					Message:      "Room is at capacity",
					CurrentCount: token.CurrentUsers,
					Limit:        token.MaxUsers,
				}
			}

			var owner models.UserProfile
			if err := tx.Where("id = ?", mindMap.OwnerID).First(&owner).Error; err != nil && err != gorm.ErrRecordNotFound {
				return err
			}
			planLimit, ok := planCollaboratorLimit[owner.Plan]
			if !ok {
				planLimit = planCollaboratorLimit["free"]
			}
			var collaborators int64
			if err := tx.Model(&models.MapCollaborator{}).Where("map_id = ?", token.MapID).Count(&collaborators).Error; err != nil {
				return err
			}
			if int(collaborators) >= planLimit {
				return &types.JoinError{
					Code:         types.JoinErrLimitReached,
					Message:      "Collaborator limit for this plan reached",
					CurrentCount: int(collaborators),
					Limit:        planLimit,
				}
			}

			grant := models.MapCollaborator{
				ID:         uuid.NewString(),
				MapID:      token.MapID,
				UserID:     userID,
				TokenID:    token.ID,
				Role:       token.Role,
				CanEdit:    token.CanEdit,
				CanComment: token.CanComment,
				CanView:    token.CanView,
				JoinedAt:   now,
				LastSeenAt: now,
			}
			if err := tx.Create(&grant).Error; err != nil {
				return err
			}

			res := tx.Model(&models.ShareToken{}).
				Where("id = ? AND current_users = ?", token.ID, token.CurrentUsers).
				Update("current_users", token.CurrentUsers+1)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// the row lock should prevent this; treat as a conflict
				return types.NewJoinError(types.JoinErrInternal, "Concurrent join conflict")
			}
			token.CurrentUsers++
		default:
			return err
		}

		var collaboratorCount int64
		if err := tx.Model(&models.MapCollaborator{}).Where("map_id = ?", token.MapID).Count(&collaboratorCount).Error; err != nil {
			return err
		}

		result = JoinResult{
			MapID:          mindMap.ID,
			MapTitle:       mindMap.Title,
			MapDescription: mindMap.Description,
			Permissions: Permissions{
				Role:       token.Role,
				CanEdit:    token.CanEdit,
				CanComment: token.CanComment,
				CanView:    token.CanView,
			},
			TokenID:           token.ID,
			CollaboratorCount: int(collaboratorCount),
			CollaboratorLimit: token.MaxUsers,
		}
		return nil
	})

	if txErr != nil {
		if joinErr, ok := txErr.(*types.JoinError); ok {
			return nil, joinErr
		}
		log.Printf("join room failed: %v", txErr)
		return nil, types.NewJoinError(types.JoinErrInternal, "Internal error")
	}
	return &result, nil
}

// LogShareAccess appends an audit row for a successful join. Best-effort:
// callers log the returned error and move on, the join already succeeded.
func LogShareAccess(db *gorm.DB, tokenID, mapID, userID, displayName string, isAnonymous bool) error {
	access := models.ShareAccess{
		ID:          ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		TokenID:     tokenID,
		MapID:       mapID,
		UserID:      userID,
		DisplayName: displayName,
		IsAnonymous: isAnonymous,
		AccessedAt:  time.Now(),
	}
	return db.Create(&access).Error
}

// RevokeToken deactivates a token. Terminal: subsequent joins fail with
// invalid_code regardless of remaining capacity.
func RevokeToken(db *gorm.DB, tokenID, requesterID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var token models.ShareToken
		if err := lockForUpdate(tx, "").Where("id = ?", tokenID).First(&token).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("not found")
			}
			return err
		}
		if token.CreatedBy != requesterID {
			return fmt.Errorf("forbidden")
		}
		return tx.Model(&token).Update("is_active", false).Error
	})
}

// RefreshToken rotates the token string in place, resets the usage counter
// and recomputes expiry. The entity survives; only its code changes.
func RefreshToken(db *gorm.DB, tokenID, requesterID string, expiresInHours int) (*models.ShareToken, error) {
	var refreshed models.ShareToken
	err := db.Transaction(func(tx *gorm.DB) error {
		var token models.ShareToken
		if err := lockForUpdate(tx, "").Where("id = ?", tokenID).First(&token).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("not found")
			}
			return err
		}
		if token.CreatedBy != requesterID {
			return fmt.Errorf("forbidden")
		}
		if !token.IsActive {
			return fmt.Errorf("not found")
		}

		code, err := GenerateUniqueRoomCode(tx)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"token":         code,
			"current_users": 0,
		}
		if expiresInHours > 0 {
			updates["expires_at"] = time.Now().Add(time.Duration(expiresInHours) * time.Hour)
		}
		if err := tx.Model(&token).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tokenID).First(&refreshed).Error
	})
	if err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// RoomInfo is the read-only pre-join peek at a room.
type RoomInfo struct {
	MapTitle          string      `json:"map_title"`
	MapDescription    string      `json:"map_description"`
	Permissions       Permissions `json:"permissions"`
	CollaboratorCount int         `json:"collaborator_count"`
	CollaboratorLimit int         `json:"collaborator_limit"`
	ExpiresAt         *time.Time  `json:"expires_at"`
}

// GetRoomInfo validates a code without consuming a seat.
func GetRoomInfo(db *gorm.DB, code string) (*RoomInfo, *types.JoinError) {
	code = NormalizeRoomCode(code)
	var token models.ShareToken
	if err := db.Where("token = ?", code).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewJoinError(types.JoinErrInvalidCode, "Room code not found")
		}
		log.Printf("room info failed: %v", err)
		return nil, types.NewJoinError(types.JoinErrInternal, "Internal error")
	}
	if !token.IsActive {
		return nil, types.NewJoinError(types.JoinErrInvalidCode, "Room code is no longer active")
	}
	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		return nil, types.NewJoinError(types.JoinErrExpired, "Room code has expired")
	}
	var mindMap models.MindMap
	if err := db.Where("id = ?", token.MapID).First(&mindMap).Error; err != nil {
		return nil, types.NewJoinError(types.JoinErrMapNotFound, "Map no longer exists")
	}
	var collaborators int64
	if err := db.Model(&models.MapCollaborator{}).Where("map_id = ?", token.MapID).Count(&collaborators).Error; err != nil {
		log.Printf("room info count failed: %v", err)
	}
	return &RoomInfo{
		MapTitle:       mindMap.Title,
		MapDescription: mindMap.Description,
		Permissions: Permissions{
			Role:       token.Role,
			CanEdit:    token.CanEdit,
			CanComment: token.CanComment,
			CanView:    token.CanView,
		},
		CollaboratorCount: int(collaborators),
		CollaboratorLimit: token.MaxUsers,
		ExpiresAt:         token.ExpiresAt,
	}, nil
}

// CreateAnonymousUserProfile mints a guest profile row so grants, comments
// and presence always reference a durable identity.
func CreateAnonymousUserProfile(db *gorm.DB, displayName, fingerprint string) (*models.UserProfile, error) {
	if displayName == "" {
		displayName = "Guest"
	}
	profile := models.UserProfile{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		IsAnonymous: true,
		Plan:        "free",
	}
	if fingerprint != "" {
		profile.Fingerprint = &fingerprint
	}
	if err := db.Create(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// NormalizeRoomCode upcases a code and restores the XXX-XXX hyphen if the
// caller typed it without one.
func NormalizeRoomCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) == 6 && !strings.Contains(code, "-") {
		code = code[:3] + "-" + code[3:]
	}
	return code
}
