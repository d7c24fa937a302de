package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/commission"
	"gorm.io/gorm"
)

const (
	minTxHashLength = 10
	maxTxHashLength = 200
)

// PaymentService handles membership payments
type PaymentService struct {
	db      *gorm.DB
	engine  *commission.Engine
	cfg     config.MembershipConfig
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(db *gorm.DB, engine *commission.Engine, cfg config.MembershipConfig, log logrus.FieldLogger, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		db:      db,
		engine:  engine,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for membership expiry
func (s *PaymentService) SetClock(now func() time.Time) {
	s.now = now
}

// ProcessPaymentInput is a membership purchase request
type ProcessPaymentInput struct {
	UserID          uuid.UUID
	Amount          decimal.Decimal
	Currency        models.Currency
	TransactionHash string
}

// ProcessResult is the outcome of a completed or recorded payment
type ProcessResult struct {
	Payment          *models.Payment `json:"payment"`
	MembershipExpiry *time.Time      `json:"membership_expiry,omitempty"`
	Distributed      int             `json:"commissions_distributed"`
}

func (s *PaymentService) validate(in *ProcessPaymentInput) error {
	in.TransactionHash = strings.TrimSpace(in.TransactionHash)
	if !in.Currency.Valid() {
		return apperrors.Validation("currency must be one of USDT, USDC, BUSD")
	}
	if !in.Amount.Equal(s.cfg.PriceUSD) {
		return apperrors.Validation("payment amount must be $%s", s.cfg.PriceUSD.StringFixed(2))
	}
	if n := len(in.TransactionHash); n < minTxHashLength || n > maxTxHashLength {
		return apperrors.Validation("transaction hash must be between %d and %d characters", minTxHashLength, maxTxHashLength)
	}
	return nil
}

// ProcessPayment records a membership payment. The transaction hash may
// only be used once. When payments auto-complete, the membership is
// extended and commissions are distributed in the same transaction as the
// payment insert.
func (s *PaymentService) ProcessPayment(ctx context.Context, in ProcessPaymentInput) (*ProcessResult, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"user_id": in.UserID, "currency": in.Currency})

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Payment{}).Where("transaction_hash = ?", in.TransactionHash).Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("error checking transaction hash: %w", err)
	}
	if existing > 0 {
		log.Warn("Rejected replayed transaction hash")
		return nil, apperrors.ErrDuplicateTransaction
	}

	result := &ProcessResult{}
	var distribution *commission.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadPayer(tx, in.UserID)
		if err != nil {
			return err
		}

		payment := models.Payment{
			UserID:              user.ID,
			Amount:              in.Amount,
			Currency:            in.Currency,
			TransactionHash:     in.TransactionHash,
			Status:              models.PaymentStatusPending,
			MembershipExtension: s.cfg.DurationDays,
		}
		if err := tx.Create(&payment).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperrors.ErrDuplicateTransaction
			}
			return fmt.Errorf("error creating payment record: %w", err)
		}
		result.Payment = &payment

		if !s.cfg.AutoComplete {
			return nil
		}

		expiry, dist, err := s.complete(ctx, tx, &payment, user)
		if err != nil {
			return err
		}
		result.MembershipExpiry = expiry
		distribution = dist
		return nil
	})
	if err != nil {
		return nil, err
	}

	if distribution != nil {
		s.observe(result.Payment, distribution)
		result.Distributed = len(distribution.Commissions)
		result.Payment.Commissions = distribution.Commissions
	}
	log.WithFields(logrus.Fields{"payment_id": result.Payment.ID, "status": result.Payment.Status}).Info("Payment processed")
	return result, nil
}

// VerifyPayment completes a pending payment, extends the payer's membership
// and distributes commissions
func (s *PaymentService) VerifyPayment(ctx context.Context, paymentID uuid.UUID) (*ProcessResult, error) {
	result := &ProcessResult{}
	var distribution *commission.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("payment not found")
			}
			return fmt.Errorf("error loading payment: %w", err)
		}
		if payment.Status == models.PaymentStatusCompleted {
			return apperrors.ErrPaymentAlreadyCompleted
		}

		user, err := loadPayer(tx, payment.UserID)
		if err != nil {
			return err
		}

		expiry, dist, err := s.complete(ctx, tx, &payment, user)
		if err != nil {
			return err
		}
		result.Payment = &payment
		result.MembershipExpiry = expiry
		distribution = dist
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observe(result.Payment, distribution)
	result.Distributed = len(distribution.Commissions)
	result.Payment.Commissions = distribution.Commissions
	s.log.WithField("payment_id", paymentID).Info("Payment verified")
	return result, nil
}

// complete moves payment from pending to completed, extends the membership of
// user and distributes commissions, all inside tx
func (s *PaymentService) complete(ctx context.Context, tx *gorm.DB, payment *models.Payment, user *models.User) (*time.Time, *commission.Result, error) {
	now := s.now()

	res := tx.Model(&models.Payment{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, nil, fmt.Errorf("error completing payment: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, nil, apperrors.ErrPaymentAlreadyCompleted
	}
	payment.Status = models.PaymentStatusCompleted
	payment.CompletedAt = &now

	expiry := ExtendMembership(user.MembershipExpiry, now, payment.MembershipExtension)
	// account status belongs to admin actions; a payment only moves the expiry
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("membership_expiry", expiry).Error; err != nil {
		return nil, nil, fmt.Errorf("error extending membership: %w", err)
	}

	dist, err := s.engine.Distribute(ctx, tx, payment.ID, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return &expiry, dist, nil
}

func (s *PaymentService) observe(payment *models.Payment, dist *commission.Result) {
	s.metrics.PaymentCompleted(string(payment.Currency))
	s.engine.Observe(dist)
}

// ExtendMembership returns the expiry after adding days to a membership. An
// expired or missing membership is extended from now.
func ExtendMembership(current *time.Time, now time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

func loadPayer(tx *gorm.DB, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if user.Status == models.UserStatusBanned {
		return nil, apperrors.Conflict("account is banned")
	}
	return &user, nil
}

// GetPayment returns one of the user's own payments with its commissions
func (s *PaymentService) GetPayment(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Preload("Commissions", func(db *gorm.DB) *gorm.DB { return db.Order("level ASC") }).
		Preload("Commissions.ToUser").
		First(&payment, "id = ? AND user_id = ?", paymentID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment not found")
		}
		return nil, fmt.Errorf("error finding payment: %w", err)
	}
	return &payment, nil
}

// ListPayments returns one page of the user's payments, newest first
func (s *PaymentService) ListPayments(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := s.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting payments: %w", err)
	}

	var payments []models.Payment
	if err := query.
		Preload("Commissions", func(db *gorm.DB) *gorm.DB { return db.Order("level ASC") }).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payments).Error; err != nil {
		return nil, 0, fmt.Errorf("error finding payments: %w", err)
	}
	return payments, total, nil
}

// Stats summarises the payments of a user
type Stats struct {
	TotalPayments       int64           `json:"total_payments"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	MonthlyPayments     int64           `json:"monthly_payments"`
	CommissionsEarned   decimal.Decimal `json:"commissions_earned"`
	HasActiveMembership bool            `json:"has_active_membership"`
	DaysUntilExpiry     int             `json:"days_until_expiry"`
	LastPaymentDate     *time.Time      `json:"last_payment_date"`
	MembershipExpiry    *time.Time      `json:"membership_expiry"`
}

type sumRow struct {
	Total decimal.Decimal
}

// PaymentStats returns payment statistics for the user
func (s *PaymentService) PaymentStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	stats := &Stats{MembershipExpiry: user.MembershipExpiry}
	completed := func() *gorm.DB {
		return db.Model(&models.Payment{}).Where("user_id = ? AND status = ?", userID, models.PaymentStatusCompleted)
	}

	if err := completed().Count(&stats.TotalPayments).Error; err != nil {
		return nil, fmt.Errorf("error counting payments: %w", err)
	}

	var spent sumRow
	if err := completed().Select("COALESCE(SUM(amount), 0) AS total").Scan(&spent).Error; err != nil {
		return nil, fmt.Errorf("error summing payments: %w", err)
	}
	stats.TotalSpent = spent.Total

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := completed().Where("created_at >= ?", monthStart).Count(&stats.MonthlyPayments).Error; err != nil {
		return nil, fmt.Errorf("error counting monthly payments: %w", err)
	}

	var last models.Payment
	err := completed().Order("created_at DESC").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("error loading last payment: %w", err)
	}
	if last.ID != uuid.Nil {
		stats.LastPaymentDate = &last.CreatedAt
	}

	var earned sumRow
	if err := db.Model(&models.Commission{}).Where("to_user_id = ?", userID).Select("COALESCE(SUM(amount), 0) AS total").Scan(&earned).Error; err != nil {
		return nil, fmt.Errorf("error summing commissions: %w", err)
	}
	stats.CommissionsEarned = earned.Total

	if user.HasActiveMembership(now) {
		stats.HasActiveMembership = true
		stats.DaysUntilExpiry = int(math.Ceil(user.MembershipExpiry.Sub(now).Hours() / 24))
	}
	return stats, nil
}
