// maps.go
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
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mindmesh/mindmesh/internal/models"
	"github.com/mindmesh/mindmesh/internal/realtime"
	"github.com/mindmesh/mindmesh/internal/services"
	"github.com/mindmesh/mindmesh/internal/types"
	"github.com/mindmesh/mindmesh/internal/utils"
	"gorm.io/gorm"
)

// MapHandler handles map document routes
type MapHandler struct {
	DB  *gorm.DB
	Hub *realtime.Hub
}

// publishRowChange notifies subscribers that durable rows changed so they
// reconcile. Best-effort: a lost notification costs one refresh, never data.
func (h *MapHandler) publishRowChange(c *fiber.Ctx, mapID, table, action string, ids []string) {
	if h.Hub == nil {
		return
	}
	senderID, _ := c.Locals("user_id").(string)
	if err := h.Hub.Publish(mapID, realtime.EventRowChange, senderID, fiber.Map{
		"table":  table,
		"action": action,
		"ids":    ids,
	}); err != nil {
		log.Printf("row change publish failed: %v", err)
	}
}

// GetMapGraph handles GET /api/maps/:mapId/graph
// @Summary Load a full map document
// @Description Return the map with all its nodes, edges and comments, the payload a joining client hydrates from.
// @Tags Maps
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 200 {object} services.MapGraph
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/graph [get]
func (h *MapHandler) GetMapGraph(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	graph, err := services.GetMapGraph(h.DB, mapID)
	if err != nil {
		if err.Error() == "not found" {
			return utils.NotFoundResponse(c, fmt.Sprintf("Map '%s' not found", mapID))
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "getMapGraph")
	}
	return c.Status(fiber.StatusOK).JSON(graph)
}

// CreateMap handles POST /api/maps
// @Summary Create a map
// @Tags Maps
// @Accept json
// @Produce json
// @Success 201 {object} models.MindMap
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps [post]
func (h *MapHandler) CreateMap(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "maps.create")
	}
	if strings.TrimSpace(req.Title) == "" {
		return utils.ErrorResponse(c, "title is required", fiber.StatusBadRequest, "maps.create")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, "Authentication required", fiber.StatusForbidden, "maps.create")
	}
	m, err := services.CreateMap(h.DB, userID, req.Title, req.Description)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.create")
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// SaveNode handles PUT /api/maps/:mapId/nodes/:nodeId
// @Summary Upsert one node row
// @Description Full-row node save. Last write wins; the stored row is returned so the caller adopts server timestamps.
// @Tags Maps
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Param nodeId path string true "Node ID"
// @Success 200 {object} models.Node
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/nodes/{nodeId} [put]
func (h *MapHandler) SaveNode(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var node models.Node
	if err := c.BodyParser(&node); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "maps.saveNode")
	}
	node.ID = c.Params("nodeId")
	node.MapID = mapID

	repo := &services.GormRepository{DB: h.DB}
	saved, err := repo.SaveNode(c.Context(), node)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.saveNode")
	}
	h.publishRowChange(c, mapID, "nodes", "upsert", []string{saved.ID})
	return c.Status(fiber.StatusOK).JSON(saved)
}

// CreateNode handles POST /api/maps/:mapId/nodes
// @Summary Create a node
// @Tags Maps
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 201 {object} models.Node
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/nodes [post]
func (h *MapHandler) CreateNode(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var node models.Node
	if err := c.BodyParser(&node); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "maps.createNode")
	}
	node.MapID = mapID

	repo := &services.GormRepository{DB: h.DB}
	created, err := repo.CreateNode(c.Context(), node)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.createNode")
	}
	h.publishRowChange(c, mapID, "nodes", "insert", []string{created.ID})
	return c.Status(fiber.StatusCreated).JSON(created)
}

// DeleteNodes handles DELETE /api/maps/:mapId/nodes
// @Summary Delete nodes and their edges
// @Description Remove the named nodes and every edge touching them in one transaction.
// @Tags Maps
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/nodes [delete]
func (h *MapHandler) DeleteNodes(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	// ids accepts a single id or an array
	var req struct {
		IDs types.FlexList[string] `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return utils.ErrorResponse(c, "ids is required", fiber.StatusBadRequest, "maps.deleteNodes")
	}

	repo := &services.GormRepository{DB: h.DB}
	if err := repo.DeleteNodes(c.Context(), mapID, req.IDs.Slice()); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.deleteNodes")
	}
	h.publishRowChange(c, mapID, "nodes", "delete", req.IDs.Slice())
	return utils.MutationSuccessResponse(c, int64(len(req.IDs)))
}

// CreateEdge handles POST /api/maps/:mapId/edges
// @Summary Create an edge
// @Description Connect two nodes. Fails if either endpoint is missing or an edge already links them in either direction.
// @Tags Maps
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 201 {object} models.Edge
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 409 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/edges [post]
func (h *MapHandler) CreateEdge(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var edge models.Edge
	if err := c.BodyParser(&edge); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "maps.createEdge")
	}
	edge.MapID = mapID

	repo := &services.GormRepository{DB: h.DB}
	created, err := repo.CreateEdge(c.Context(), edge)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate edge") {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict, "maps.createEdge")
		}
		if strings.Contains(err.Error(), "endpoints") {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "maps.createEdge")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.createEdge")
	}
	h.publishRowChange(c, mapID, "edges", "insert", []string{created.ID})
	return c.Status(fiber.StatusCreated).JSON(created)
}

// DeleteEdges handles DELETE /api/maps/:mapId/edges
// @Summary Delete edges
// @Tags Maps
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/edges [delete]
func (h *MapHandler) DeleteEdges(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var req struct {
		IDs types.FlexList[string] `json:"ids"`
	}
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return utils.ErrorResponse(c, "ids is required", fiber.StatusBadRequest, "maps.deleteEdges")
	}

	repo := &services.GormRepository{DB: h.DB}
	if err := repo.DeleteEdges(c.Context(), mapID, req.IDs.Slice()); err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "maps.deleteEdges")
	}
	h.publishRowChange(c, mapID, "edges", "delete", req.IDs.Slice())
	return utils.MutationSuccessResponse(c, int64(len(req.IDs)))
}

// CreateComment handles POST /api/maps/:mapId/comments
// @Summary Create a comment or threaded reply
// @Tags Comments
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Success 201 {object} models.Comment
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/comments [post]
func (h *MapHandler) CreateComment(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var req struct {
		NodeID   *string `json:"node_id"`
		Content  string  `json:"content"`
		ParentID *string `json:"parent_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "comments.create")
	}
	if strings.TrimSpace(req.Content) == "" {
		return utils.ErrorResponse(c, "content is required", fiber.StatusBadRequest, "comments.create")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden, "comments.create")
	}

	comment, err := services.CreateComment(h.DB, services.CommentInput{
		MapID:    mapID,
		NodeID:   req.NodeID,
		AuthorID: userID,
		Content:  req.Content,
		ParentID: req.ParentID,
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return utils.NotFoundResponse(c, err.Error())
		}
		if strings.Contains(err.Error(), "different map") {
			return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest, "comments.create")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "comments.create")
	}
	h.publishRowChange(c, mapID, "map_comments", "insert", []string{comment.ID})
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// UpdateComment handles PUT /api/maps/:mapId/comments/:commentId
// @Summary Edit a comment
// @Tags Comments
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} models.Comment
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/comments/{commentId} [put]
func (h *MapHandler) UpdateComment(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return utils.ErrorResponse(c, "content is required", fiber.StatusBadRequest, "comments.update")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden, "comments.update")
	}

	comment, err := services.UpdateComment(h.DB, c.Params("commentId"), userID, req.Content)
	if err != nil {
		switch err.Error() {
		case "not found":
			return utils.NotFoundResponse(c, "Comment not found")
		case "forbidden":
			return utils.ErrorResponse(c, "Only the author can edit a comment", fiber.StatusForbidden, "comments.update")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "comments.update")
	}
	h.publishRowChange(c, mapID, "map_comments", "update", []string{comment.ID})
	return c.Status(fiber.StatusOK).JSON(comment)
}

// ResolveComment handles POST /api/maps/:mapId/comments/:commentId/resolve
// @Summary Resolve or reopen a comment
// @Tags Comments
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/comments/{commentId}/resolve [post]
func (h *MapHandler) ResolveComment(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var req struct {
		Resolved *bool `json:"resolved"`
	}
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, "Invalid request body", fiber.StatusBadRequest, "comments.resolve")
	}
	resolved := true
	if req.Resolved != nil {
		resolved = *req.Resolved
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden, "comments.resolve")
	}

	commentID := c.Params("commentId")
	if err := services.ResolveComment(h.DB, commentID, userID, resolved); err != nil {
		if err.Error() == "not found" {
			return utils.NotFoundResponse(c, "Comment not found")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "comments.resolve")
	}
	h.publishRowChange(c, mapID, "map_comments", "update", []string{commentID})
	return utils.MutationSuccessResponse(c, 1)
}

// DeleteComment handles DELETE /api/maps/:mapId/comments/:commentId
// @Summary Delete a comment with its replies and reactions
// @Tags Comments
// @Produce json
// @Param mapId path string true "Map ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/comments/{commentId} [delete]
func (h *MapHandler) DeleteComment(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden, "comments.delete")
	}

	commentID := c.Params("commentId")
	if err := services.DeleteComment(h.DB, commentID, userID); err != nil {
		switch err.Error() {
		case "not found":
			return utils.NotFoundResponse(c, "Comment not found")
		case "forbidden":
			return utils.ErrorResponse(c, "Only the author can delete a comment", fiber.StatusForbidden, "comments.delete")
		}
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "comments.delete")
	}
	h.publishRowChange(c, mapID, "map_comments", "delete", []string{commentID})
	return utils.MutationSuccessResponse(c, 1)
}

// ToggleReaction handles POST /api/maps/:mapId/comments/:commentId/reactions
// @Summary Toggle an emoji reaction
// @Description Add the caller's reaction, or remove it if the same emoji was already set.
// @Tags Comments
// @Accept json
// @Produce json
// @Param mapId path string true "Map ID"
// @Param commentId path string true "Comment ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} utils.ErrorResponseStruct
// @Router /maps/{mapId}/comments/{commentId}/reactions [post]
func (h *MapHandler) ToggleReaction(c *fiber.Ctx) error {
	mapID := c.Params("mapId")
	if err := requireParticipant(c, mapID); err != nil {
		return err
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.BodyParser(&req); err != nil || req.Emoji == "" {
		return utils.ErrorResponse(c, "emoji is required", fiber.StatusBadRequest, "comments.react")
	}
	userID, err := currentUserID(c)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusForbidden, "comments.react")
	}

	commentID := c.Params("commentId")
	added, err := services.ToggleReaction(h.DB, commentID, userID, req.Emoji)
	if err != nil {
		return utils.ErrorResponse(c, err.Error(), fiber.StatusInternalServerError, "comments.react")
	}
	h.publishRowChange(c, mapID, "comment_reactions", "toggle", []string{commentID})
	return utils.SuccessResponse(c, fiber.Map{"ok": true, "added": added}, fiber.StatusOK)
}
