package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/services/account"
	"github.com/vidnet/backend/internal/services/mlm"
)

// MLMHandler serves network and earnings reports
type MLMHandler struct {
	mlm      *mlm.MLMService
	accounts *account.AccountService
	log      logrus.FieldLogger
}

// NewMLMHandler creates a new MLM handler
func NewMLMHandler(mlmService *mlm.MLMService, accounts *account.AccountService, log logrus.FieldLogger) *MLMHandler {
	return &MLMHandler{mlm: mlmService, accounts: accounts, log: log}
}

// GetNetwork returns the authenticated user's downline tree
func (h *MLMHandler) GetNetwork(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	network, err := h.mlm.Network(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "network": network})
}

// GetStats returns network size and earnings per level
func (h *MLMHandler) GetStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.mlm.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "stats": stats})
}

// GetCommissions lists the commissions the authenticated user received
func (h *MLMHandler) GetCommissions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := paging(c, 20)
	commissions, total, err := h.mlm.Commissions(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"commissions": commissions,
		"pagination":  pagination(page, limit, total),
	})
}

// GetLevel lists the members at one level of the downline
func (h *MLMHandler) GetLevel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
		return
	}

	page, limit := paging(c, 20)
	users, total, err := h.mlm.UsersAtLevel(c.Request.Context(), userID, level, page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"level":      level,
		"users":      users,
		"pagination": pagination(page, limit, total),
	})
}

// GetReferralLink returns the authenticated user's referral code and link
func (h *MLMHandler) GetReferralLink(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ref, err := h.accounts.ReferralLink(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"referral_code": ref.Code,
		"referral_link": ref.Link,
	})
}

// GetEarningsReport breaks down the authenticated user's paid commissions,
// optionally limited by start_date and end_date (YYYY-MM-DD or RFC 3339)
func (h *MLMHandler) GetEarningsReport(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	from, ok := dateQuery(c, "start_date", false)
	if !ok {
		return
	}
	to, ok := dateQuery(c, "end_date", true)
	if !ok {
		return
	}

	report, err := h.mlm.EarningsReport(c.Request.Context(), userID, from, to)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "report": report})
}

// dateQuery parses an optional date query parameter. A bare date used as an
// upper bound covers the whole day.
func dateQuery(c *gin.Context, name string, endOfDay bool) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}
