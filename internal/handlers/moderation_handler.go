package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/moderation"
)

// ModerationHandler handles voting requests
type ModerationHandler struct {
	moderation *moderation.Service
	log        logrus.FieldLogger
}

// NewModerationHandler creates a new moderation handler
func NewModerationHandler(svc *moderation.Service, log logrus.FieldLogger) *ModerationHandler {
	return &ModerationHandler{moderation: svc, log: log}
}

// StartVotingRequest represents a request to open an expulsion voting
type StartVotingRequest struct {
	RoomID   uuid.UUID `json:"room_id" binding:"required"`
	TargetID uuid.UUID `json:"target_user_id" binding:"required"`
	Reason   string    `json:"reason" binding:"max=500"`
}

// CastVoteRequest represents a vote in favour of an expulsion
type CastVoteRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// StartVoting opens a voting against another member of the room
func (h *ModerationHandler) StartVoting(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req StartVotingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	voting, err := h.moderation.StartVoting(c.Request.Context(), moderation.StartVotingInput{
		RoomID:      req.RoomID,
		InitiatorID: userID,
		TargetID:    req.TargetID,
		Reason:      req.Reason,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "voting": voting})
}

// CastVote records the authenticated user's vote
func (h *ModerationHandler) CastVote(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	votingID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req CastVoteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, err := h.moderation.CastVote(c.Request.Context(), moderation.CastVoteInput{
		VotingID: votingID,
		VoterID:  userID,
		Reason:   req.Reason,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"vote":           res.Vote,
		"current_votes":  res.Tally,
		"required_votes": res.RequiredVotes,
		"resolved":       res.Resolved,
		"expulsion":      res.Expulsion,
	})
}

// ActiveVotings lists the open votings of a room
func (h *ModerationHandler) ActiveVotings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	votings, err := h.moderation.GetActiveVotings(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "votings": votings})
}

// RoomLogs lists the moderation history of a room
func (h *ModerationHandler) RoomLogs(c *gin.Context) {
	roomID, ok := pathID(c, "roomId")
	if !ok {
		return
	}

	page, limit := paging(c, 50)
	logs, err := h.moderation.RoomLogs(c.Request.Context(), roomID, limit, (page-1)*limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "logs": logs})
}

// UserExpulsions lists the rooms a user was expelled from
func (h *ModerationHandler) UserExpulsions(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	expulsions, err := h.moderation.UserExpulsions(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "expulsions": expulsions})
}

// Logs lists moderation log entries, optionally filtered by type (admin)
func (h *ModerationHandler) Logs(c *gin.Context) {
	page, limit := paging(c, 50)
	logs, total, err := h.moderation.Logs(c.Request.Context(), models.ModerationLogType(c.Query("type")), page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"logs":       logs,
		"pagination": pagination(page, limit, total),
	})
}
