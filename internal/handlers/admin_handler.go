package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/account"
)

// AdminHandler handles account administration
type AdminHandler struct {
	accounts *account.AccountService
	log      logrus.FieldLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(accounts *account.AccountService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{accounts: accounts, log: log}
}

// UpdateStatusRequest represents an account status change
type UpdateStatusRequest struct {
	Status models.UserStatus `json:"status" binding:"required,oneof=active suspended banned"`
	Reason string            `json:"reason" binding:"max=500"`
}

// UpdateUserStatus activates, suspends or bans a user
func (h *AdminHandler) UpdateUserStatus(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.accounts.SetStatus(c.Request.Context(), adminID, userID, req.Status, req.Reason)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "user": user})
}
