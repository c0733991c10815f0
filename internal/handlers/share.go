// share.go
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

package handlers

import (
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mindmesh/mindmesh/internal/config"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/realtime"
	"github.com/mindmesh/mindmesh/internal/services"
	"github.com/mindmesh/mindmesh/internal/types"
	"github.com/mindmesh/mindmesh/internal/utils"
	"gorm.io/gorm"
)

// roomCodePattern accepts XXX-XXX codes, case-insensitively and with the
// hyphen optional. Normalization happens in the service.
var roomCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{3}-?[A-Za-z0-9]{3}$`)

// ShareHandler handles room-code and sharing routes
type ShareHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	Hub *realtime.Hub
}

type joinRoomRequest struct {
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`
	Fingerprint string `json:"fingerprint"`
}

// Numeric fields tolerate JSON strings; form clients serialize them that way.
type createRoomCodeRequest struct {
	MapID          string           `json:"map_id"`
	Role           string           `json:"role"`
	CanEdit        bool             `json:"can_edit"`
	CanComment     bool             `json:"can_comment"`
	CanView        bool             `json:"can_view"`
	MaxUsers       types.FlexUint64 `json:"max_users"`
	ExpiresInHours types.FlexUint64 `json:"expires_in_hours"`
}

// JoinRoom handles POST /api/share/join-room
// @Summary Join a shared map by room code
// @Description Validate a room code and admit the caller as a collaborator. Anonymous callers get a guest profile and token.
// @Tags Share
// @Accept json
// @Produce json
// @Param request body joinRoomRequest true "Join request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 402 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 410 {object} utils.ErrorResponseStruct
// @Router /share/join-room [post]
func (h *ShareHandler) JoinRoom(c *fiber.Ctx) error {
	var req joinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "share.join")
	}
	if !roomCodePattern.MatchString(strings.TrimSpace(req.Token)) {
		return utils.ErrorResponse(c, "Room code must match XXX-XXX", fiber.StatusBadRequest, "share.join")
	}

	userID, _ := c.Locals("user_id").(string)
	isGuest := userID == ""
	var guestToken string

	if isGuest {
		name := strings.TrimSpace(req.DisplayName)
		if name == "" || len(name) > 50 {
			return utils.ErrorResponse(c, "display_name must be 1-50 characters", fiber.StatusBadRequest, "share.join")
		}
		profile, err := services.CreateAnonymousUserProfile(h.DB, name, req.Fingerprint)
		if err != nil {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "share.join")
		}
		userID = profile.ID
	}

	result, jerr := services.JoinRoom(h.DB, req.Token, userID)
	if jerr != nil {
		return utils.JoinErrorResponse(c, jerr)
	}

	if isGuest {
		token, err := services.IssueGuestToken(h.Cfg, userID, req.DisplayName, result.MapID)
		if err != nil {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "share.join")
		}
		guestToken = token
	}

	displayName, _ := c.Locals("display_name").(string)
	if displayName == "" {
		displayName = strings.TrimSpace(req.DisplayName)
	}
	if displayName == "" {
		var profile models.UserProfile
		if err := h.DB.Select("display_name").Where("id = ?", userID).First(&profile).Error; err == nil {
			displayName = profile.DisplayName
		}
	}

	// Post-join side effects never fail the join.
	if err := services.LogShareAccess(h.DB, result.TokenID, result.MapID, userID, displayName, isGuest); err != nil {
		log.Printf("share access log failed: %v", err)
	}
	if h.Hub != nil {
		if err := h.Hub.Publish(result.MapID, realtime.EventCollabSync, userID, fiber.Map{
			"user_id":      userID,
			"display_name": displayName,
			"count":        result.CollaboratorCount,
		}); err != nil {
			log.Printf("collaborator sync publish failed: %v", err)
		}
	}

	// The realtime listener subscribes by the room name handed back here;
	// rooms are map-scoped so the name is the map id.
	body := fiber.Map{
		"ok":                 true,
		"map_id":             result.MapID,
		"map_title":          result.MapTitle,
		"map_description":    result.MapDescription,
		"permissions":        result.Permissions,
		"user_id":            userID,
		"is_anonymous":       isGuest,
		"user_display_name":  displayName,
		"share_token_id":     result.TokenID,
		"realtime_room":      result.MapID,
		"joined_at":          time.Now().UTC().Format(time.RFC3339),
		"collaborator_count": result.CollaboratorCount,
		"collaborator_limit": result.CollaboratorLimit,
	}
	if guestToken != "" {
		body["guest_token"] = guestToken
	}
	return utils.SuccessResponse(c, body, fiber.StatusOK)
}

// CreateRoomCode handles POST /api/share/create-room-code
// @Summary Create a room code for a map
// @Description Mint a shareable XXX-XXX room code with a permission bundle. Owner only.
// @Tags Share
// @Accept json
// @Produce json
// @Param request body createRoomCodeRequest true "Room code request"
// @Success 201 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /share/create-room-code [post]
func (h *ShareHandler) CreateRoomCode(c *fiber.Ctx) error {
	var req createRoomCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "share.create")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, "Authentication required", fiber.StatusForbidden, "share.create")
	}
	if req.MaxUsers > 100 {
		return utils.ErrorResponse(c, "max_users must be between 1 and 100", fiber.StatusBadRequest, "share.create")
	}
	if req.ExpiresInHours > 168 {
		return utils.ErrorResponse(c, "expires_in_hours must be between 1 and 168", fiber.StatusBadRequest, "share.create")
	}
	if req.Role == "" {
		req.Role = "viewer"
		req.CanView = true
	}

	result, err := services.CreateRoomCode(h.DB, services.RoomCodeInput{
		MapID:          req.MapID,
		Role:           req.Role,
		CanEdit:        req.CanEdit,
		CanComment:     req.CanComment,
		CanView:        req.CanView,
		MaxUsers:       int(req.MaxUsers),
		ExpiresInHours: int(req.ExpiresInHours),
		CreatedBy:      userID,
	})
	if err != nil {
		switch err.Error() {
		case "not found":
			return utils.NotFoundResponse(c, fmt.Sprintf("Map '%s' not found", req.MapID))
		case "forbidden":
			return utils.ErrorResponse(c, "Only the map owner can create room codes", fiber.StatusForbidden, "share.create")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "share.create")
	}

	shareLink := fmt.Sprintf("%s/join/%s", strings.TrimSuffix(h.Cfg.PublicURL, "/"), result.Token)
	return utils.SuccessResponse(c, fiber.Map{
		"ok":            true,
		"token":         result.Token,
		"token_id":      result.TokenID,
		"share_link":    shareLink,
		"qr_code_data":  shareLink + "?src=" + url.QueryEscape("qr"),
		"expires_at":    result.ExpiresAt,
		"permissions":   result.Permissions,
		"max_users":     result.MaxUsers,
		"current_users": result.CurrentUsers,
		"map_title":     result.MapTitle,
	}, fiber.StatusCreated)
}

// GetRoomInfo handles GET /api/share/room-info/:token
// @Summary Peek at a room before joining
// @Description Validate a room code and return map title and collaborator counts without consuming a seat.
// @Tags Share
// @Produce json
// @Param token path string true "Room code"
// @Success 200 {object} services.RoomInfo
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 410 {object} utils.ErrorResponseStruct
// @Router /share/room-info/{token} [get]
func (h *ShareHandler) GetRoomInfo(c *fiber.Ctx) error {
	code := c.Params("token")
	if !roomCodePattern.MatchString(code) {
		return utils.JoinErrorResponse(c, types.NewJoinError(types.JoinErrInvalidCode, "Room code must match XXX-XXX"))
	}
	info, jerr := services.GetRoomInfo(h.DB, code)
	if jerr != nil {
		return utils.JoinErrorResponse(c, jerr)
	}
	return utils.SuccessResponse(c, info, fiber.StatusOK)
}

// RevokeToken handles POST /api/share/revoke/:tokenId
// @Summary Revoke a room code
// @Description Deactivate a share token so the code stops admitting joiners. Owner only.
// @Tags Share
// @Produce json
// @Param tokenId path string true "Token ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /share/revoke/{tokenId} [post]
func (h *ShareHandler) RevokeToken(c *fiber.Ctx) error {
	userID, uerr := currentUserID(c)
	if uerr != nil {
		return utils.ErrorResponse(c, "Authentication required", fiber.StatusForbidden, "share.revoke")
	}
	err := services.RevokeToken(h.DB, c.Params("tokenId"), userID)
	if err != nil {
		switch err.Error() {
		case "not found":
			return utils.NotFoundResponse(c, "Share token not found")
		case "forbidden":
			return utils.ErrorResponse(c, "Only the map owner can revoke room codes", fiber.StatusForbidden, "share.revoke")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "share.revoke")
	}
	return utils.MutationSuccessResponse(c, 1)
}

// RefreshToken handles POST /api/share/refresh/:tokenId
// @Summary Rotate a room code
// @Description Replace the code on an existing token, resetting its seat counter and expiry. Owner only.
// @Tags Share
// @Accept json
// @Produce json
// @Param tokenId path string true "Token ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /share/refresh/{tokenId} [post]
func (h *ShareHandler) RefreshToken(c *fiber.Ctx) error {
	var req struct {
		ExpiresInHours int `json:"expires_in_hours"`
	}
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "share.refresh")
	}
	userID, uerr := currentUserID(c)
	if uerr != nil {
		return utils.ErrorResponse(c, "Authentication required", fiber.StatusForbidden, "share.refresh")
	}
	token, err := services.RefreshToken(h.DB, c.Params("tokenId"), userID, req.ExpiresInHours)
	if err != nil {
		switch err.Error() {
		case "not found":
			return utils.NotFoundResponse(c, "Share token not found")
		case "forbidden":
			return utils.ErrorResponse(c, "Only the map owner can refresh room codes", fiber.StatusForbidden, "share.refresh")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "share.refresh")
	}
	return utils.SuccessResponse(c, fiber.Map{
		"ok":         true,
		"token":      token.Token,
		"token_id":   token.ID,
		"expires_at": token.ExpiresAt,
	}, fiber.StatusOK)
}
