package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/payment"
)

// PaymentHandler handles payment-related requests
type PaymentHandler struct {
	paymentService *payment.PaymentService
	log            logrus.FieldLogger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *payment.PaymentService, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		log:            log,
	}
}

// ProcessPaymentRequest represents a membership payment submission
type ProcessPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        models.Currency `json:"currency" binding:"required"`
	TransactionHash string          `json:"transaction_hash" binding:"required"`
}

// ProcessPayment records a membership payment for the authenticated user
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.paymentService.ProcessPayment(c.Request.Context(), payment.ProcessPaymentInput{
		UserID:          userID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		TransactionHash: req.TransactionHash,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":                "success",
		"payment":               res.Payment,
		"membership_expiry":     res.MembershipExpiry,
		"commissions_generated": res.Distributed,
	})
}

// GetPayments lists the authenticated user's payments
func (h *PaymentHandler) GetPayments(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, limit := paging(c, 10)
	payments, total, err := h.paymentService.ListPayments(c.Request.Context(), userID, page, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"payments":   payments,
		"pagination": pagination(page, limit, total),
	})
}

// GetPayment returns one of the authenticated user's payments
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	p, err := h.paymentService.GetPayment(c.Request.Context(), userID, paymentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "payment": p})
}

// GetStats returns payment and membership statistics
func (h *PaymentHandler) GetStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.paymentService.PaymentStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "stats": stats})
}

// VerifyPayment completes a pending payment (admin)
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	paymentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.paymentService.VerifyPayment(c.Request.Context(), paymentID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                "success",
		"payment":               res.Payment,
		"membership_expiry":     res.MembershipExpiry,
		"commissions_generated": res.Distributed,
	})
}
