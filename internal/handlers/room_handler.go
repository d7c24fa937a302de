package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/services/room"
)

// RoomHandler handles room requests
type RoomHandler struct {
	rooms *room.RoomService
	log   logrus.FieldLogger
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms *room.RoomService, log logrus.FieldLogger) *RoomHandler {
	return &RoomHandler{rooms: rooms, log: log}
}

// CreateRoomRequest represents the request body for a new room
type CreateRoomRequest struct {
	Name               string `json:"name" binding:"required"`
	Topic              string `json:"topic" binding:"required"`
	Description        string `json:"description" binding:"required"`
	MaxParticipants    int    `json:"max_participants"`
	RequiresMembership *bool  `json:"requires_membership"`
}

// UpdateRoomRequest carries the room fields to change
type UpdateRoomRequest struct {
	Name               *string `json:"name"`
	Topic              *string `json:"topic"`
	Description        *string `json:"description"`
	MaxParticipants    *int    `json:"max_participants"`
	RequiresMembership *bool   `json:"requires_membership"`
}

// ListRooms lists active rooms
func (h *RoomHandler) ListRooms(c *gin.Context) {
	page, limit := paging(c, 10)
	rooms, total, err := h.rooms.ListRooms(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"rooms":      rooms,
		"pagination": pagination(page, limit, total),
	})
}

// MyRooms lists the rooms created by the authenticated user
func (h *RoomHandler) MyRooms(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := paging(c, 10)
	rooms, total, err := h.rooms.CreatedRooms(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"rooms":      rooms,
		"pagination": pagination(page, limit, total),
	})
}

// CreateRoom creates a room owned by the authenticated user
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.rooms.CreateRoom(c.Request.Context(), room.CreateRoomInput{
		CreatorID:          userID,
		Name:               req.Name,
		Topic:              req.Topic,
		Description:        req.Description,
		MaxParticipants:    req.MaxParticipants,
		RequiresMembership: req.RequiresMembership,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "room": created})
}

// GetRoom returns a room with its current members
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	r, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "room": r})
}

// UpdateRoom edits a room owned by the authenticated user
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := h.rooms.UpdateRoom(c.Request.Context(), roomID, userID, room.UpdateRoomInput{
		Name:               req.Name,
		Topic:              req.Topic,
		Description:        req.Description,
		MaxParticipants:    req.MaxParticipants,
		RequiresMembership: req.RequiresMembership,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "room": updated})
}

// JoinRoom adds the authenticated user to a room
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	member, err := h.rooms.JoinRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "member": member})
}

// LeaveRoom removes the authenticated user from a room
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.rooms.LeaveRoom(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "left the room"})
}

// CloseRoom deactivates a room owned by the authenticated user
func (h *RoomHandler) CloseRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.rooms.CloseRoom(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "room closed"})
}
