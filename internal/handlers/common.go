// common.go
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

	"github.com/gofiber/fiber/v2"
	"github.com/mindmesh/mindmesh/internal/utils"
)

// currentUserID extracts the caller's id from context (set by auth
// middleware, for both registered users and guests).
func currentUserID(c *fiber.Ctx) (string, error) {
	if id, ok := c.Locals("user_id").(string); ok && id != "" {
		return id, nil
	}

	// Registered sessions store the full authorizer user object
	user := c.Locals("user")
	if user == nil {
		return "", fmt.Errorf("user not found in context")
	}
	userMap, ok := user.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid user data format")
	}
	userID, ok := userMap["id"].(string)
	if !ok {
		return "", fmt.Errorf("user ID not found")
	}
	return userID, nil
}

// requireParticipant rejects guests whose token was minted for a different
// map. Registered users pass; their access is checked against grants.
func requireParticipant(c *fiber.Ctx, mapID string) error {
	if guestMap, ok := c.Locals("guest_map_id").(string); ok && guestMap != "" && guestMap != mapID {
		return utils.ErrorResponse(c, "Guest token is not valid for this map", fiber.StatusForbidden, "maps.scope")
	}
	return nil
}
