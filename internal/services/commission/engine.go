// Package commission pays the sponsor chain of a completed membership payment.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/network"
	"gorm.io/gorm"
)

// Engine distributes commissions up the sponsor chain
type Engine struct {
	db       *gorm.DB
	resolver *network.Resolver
	cfg      config.MLMConfig
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates a new commission engine
func NewEngine(db *gorm.DB, cfg config.MLMConfig, log logrus.FieldLogger, m *metrics.Metrics) *Engine {
	return &Engine{
		db:       db,
		resolver: network.NewResolver(db),
		cfg:      cfg,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for sponsor eligibility
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Result is the outcome of a distribution
type Result struct {
	Commissions []models.Commission
	// Replayed is set when the payment had already been distributed and
	// Commissions are the records written by that earlier run
	Replayed bool
}

// Total returns the sum of the commission amounts
func (r *Result) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Commissions {
		total = total.Add(c.Amount)
	}
	return total
}

// Distribute pays every eligible sponsor of payerID for paymentID inside tx.
// The payment is claimed through its distribution marker, so a second call
// for the same payment writes nothing and returns the commissions of the
// first. Callers that commit tx should pass the result to Observe.
func (e *Engine) Distribute(ctx context.Context, tx *gorm.DB, paymentID, payerID uuid.UUID) (*Result, error) {
	log := e.log.WithFields(logrus.Fields{"payment_id": paymentID, "user_id": payerID})

	var payment models.Payment
	if err := tx.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("payment %s not found", paymentID)
		}
		return nil, fmt.Errorf("error loading payment: %w", err)
	}
	if payment.UserID != payerID {
		return nil, apperrors.Validation("payment %s does not belong to user %s", paymentID, payerID)
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, apperrors.ErrPaymentNotCompleted
	}

	now := e.now()
	claim := tx.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND commissions_distributed_at IS NULL", paymentID).
		Update("commissions_distributed_at", now)
	if claim.Error != nil {
		return nil, fmt.Errorf("error claiming payment for distribution: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		log.Info("Commissions already distributed, returning existing records")
		commissions, err := e.existing(ctx, tx, paymentID)
		if err != nil {
			return nil, err
		}
		return &Result{Commissions: commissions, Replayed: true}, nil
	}

	commissions := make([]models.Commission, 0, e.cfg.MaxLevels)
	for link, err := range e.resolver.WithTx(tx).UpwardChain(ctx, payerID, e.cfg.MaxLevels) {
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindInvariant {
				log.WithError(err).Error("Sponsor chain is corrupt")
			}
			return nil, err
		}

		sponsor := link.Sponsor
		if !sponsor.HasActiveMembership(now) {
			log.WithFields(logrus.Fields{"level": link.Level, "sponsor_id": sponsor.ID}).
				Debug("Skipping sponsor without active membership")
			continue
		}

		amount := e.cfg.AmountForLevel(link.Level)
		c := models.Commission{
			FromUserID: payerID,
			ToUserID:   sponsor.ID,
			PaymentID:  paymentID,
			Level:      link.Level,
			Amount:     amount,
			Status:     models.CommissionStatusPaid,
		}
		if err := tx.WithContext(ctx).Create(&c).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return nil, apperrors.Conflict("commission for payment %s level %d already exists", paymentID, link.Level)
			}
			return nil, fmt.Errorf("error creating level %d commission: %w", link.Level, err)
		}

		if err := tx.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", sponsor.ID).
			UpdateColumn("total_earnings", gorm.Expr("total_earnings + ?", amount)).Error; err != nil {
			return nil, fmt.Errorf("error crediting sponsor earnings: %w", err)
		}

		commissions = append(commissions, c)
	}

	log.WithField("count", len(commissions)).Info("Commissions distributed")
	return &Result{Commissions: commissions}, nil
}

// DistributeNow runs Distribute in its own transaction
func (e *Engine) DistributeNow(ctx context.Context, paymentID, payerID uuid.UUID) (*Result, error) {
	var result *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = e.Distribute(ctx, tx, paymentID, payerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Observe(result)
	return result, nil
}

// Observe records the commissions of a committed distribution in the metrics
func (e *Engine) Observe(result *Result) {
	if result == nil || result.Replayed {
		return
	}
	for _, c := range result.Commissions {
		e.metrics.CommissionPaid(c.Level, c.Amount)
	}
}

func (e *Engine) existing(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) ([]models.Commission, error) {
	var commissions []models.Commission
	if err := tx.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("level ASC").
		Find(&commissions).Error; err != nil {
		return nil, fmt.Errorf("error loading commissions: %w", err)
	}
	return commissions, nil
}
