// Package mlm reports on a member's downline and the commissions it earned them.
package mlm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/network"
	"gorm.io/gorm"
)

// MLMService serves network and earnings reports
type MLMService struct {
	db       *gorm.DB
	resolver *network.Resolver
	cfg      config.MLMConfig
	now      func() time.Time
}

// NewMLMService creates a new MLM reporting service
func NewMLMService(db *gorm.DB, cfg config.MLMConfig) *MLMService {
	return &MLMService{
		db:       db,
		resolver: network.NewResolver(db),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *MLMService) SetClock(now func() time.Time) {
	s.now = now
}

// Network is the rendered downline of a user
type Network struct {
	Depth int             `json:"depth"`
	Size  int             `json:"size"`
	Tree  []*network.Node `json:"tree"`
}

// Network returns the downline of userID up to the configured depth
func (s *MLMService) Network(ctx context.Context, userID uuid.UUID) (*Network, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	sub, err := s.resolver.DownwardSubtree(ctx, userID, s.cfg.NetworkDepth)
	if err != nil {
		return nil, err
	}
	return &Network{Depth: s.cfg.NetworkDepth, Size: sub.Size(), Tree: sub.Tree(s.now())}, nil
}

// UsersAtLevel returns one page of the members exactly level steps below userID
func (s *MLMService) UsersAtLevel(ctx context.Context, userID uuid.UUID, level, page, limit int) ([]models.User, int64, error) {
	if level < 1 || level > s.cfg.NetworkDepth {
		return nil, 0, apperrors.Validation("level must be between 1 and %d", s.cfg.NetworkDepth)
	}
	page, limit = paging(page, limit)
	return s.resolver.UsersAtLevel(ctx, userID, level, (page-1)*limit, limit)
}

// LevelEarnings summarises the commissions earned from one level
type LevelEarnings struct {
	Level   int             `json:"level"`
	Count   int64           `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Average decimal.Decimal `json:"average"`
}

// Stats is the summary of a member's network and earnings
type Stats struct {
	NetworkSize     int64           `json:"network_size"`
	DirectReferrals int64           `json:"direct_referrals"`
	ActiveReferrals int64           `json:"active_referrals"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	Levels          []LevelEarnings `json:"levels"`
}

type levelRow struct {
	Level int
	Count int64
	Total decimal.Decimal
}

// Stats summarises the network and earnings of userID
func (s *MLMService) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	stats := &Stats{TotalEarnings: user.TotalEarnings}

	size, err := s.resolver.NetworkSize(ctx, userID, s.cfg.NetworkDepth)
	if err != nil {
		return nil, err
	}
	stats.NetworkSize = size

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Where("sponsor_id = ?", userID).Count(&stats.DirectReferrals).Error; err != nil {
		return nil, fmt.Errorf("error counting direct referrals: %w", err)
	}
	if err := db.Model(&models.User{}).
		Where("sponsor_id = ? AND membership_expiry > ?", userID, s.now()).
		Count(&stats.ActiveReferrals).Error; err != nil {
		return nil, fmt.Errorf("error counting active referrals: %w", err)
	}

	var rows []levelRow
	if err := db.Model(&models.Commission{}).
		Select("level, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("to_user_id = ?", userID).
		Group("level").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error summing commissions: %w", err)
	}
	byLevel := make(map[int]levelRow, len(rows))
	for _, r := range rows {
		byLevel[r.Level] = r
	}

	for level := 1; level <= s.cfg.NetworkDepth; level++ {
		r := byLevel[level]
		earnings := LevelEarnings{Level: level, Count: r.Count, Total: r.Total, Average: decimal.Zero}
		if r.Count > 0 {
			earnings.Average = r.Total.DivRound(decimal.NewFromInt(r.Count), 2)
		}
		stats.Levels = append(stats.Levels, earnings)
	}

	return stats, nil
}

// Commissions returns one page of the commissions paid to userID, newest first
func (s *MLMService) Commissions(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Commission, int64, error) {
	page, limit = paging(page, limit)
	query := s.db.WithContext(ctx).Model(&models.Commission{}).Where("to_user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting commissions: %w", err)
	}

	var commissions []models.Commission
	if err := query.
		Preload("FromUser").
		Order("created_at DESC").
		Order("level").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&commissions).Error; err != nil {
		return nil, 0, fmt.Errorf("error listing commissions: %w", err)
	}
	return commissions, total, nil
}

const (
	reportMonths       = 12
	reportMonthRows    = 1000
	reportTopReferrals = 10
	reportRecent       = 20
)

// EarningsSummary totals the commissions in a report window
type EarningsSummary struct {
	TotalEarnings     decimal.Decimal `json:"total_earnings"`
	TotalCommissions  int64           `json:"total_commissions"`
	AverageCommission decimal.Decimal `json:"average_commission"`
}

// MonthEarnings totals the commissions received in one calendar month (UTC)
type MonthEarnings struct {
	Month string          `json:"month"`
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// ReferralEarnings is what one downline member generated for the report owner
type ReferralEarnings struct {
	User  *models.User    `json:"user"`
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// EarningsReport breaks down the paid commissions of a member
type EarningsReport struct {
	From         *time.Time          `json:"from,omitempty"`
	To           *time.Time          `json:"to,omitempty"`
	Summary      EarningsSummary     `json:"summary"`
	ByLevel      []LevelEarnings     `json:"by_level"`
	ByMonth      []MonthEarnings     `json:"by_month"`
	TopReferrals []ReferralEarnings  `json:"top_referrals"`
	Recent       []models.Commission `json:"recent_commissions"`
}

type referralRow struct {
	FromUserID uuid.UUID
	Count      int64
	Total      decimal.Decimal
}

// EarningsReport summarises the paid commissions of userID created within
// [from, to]. Either bound may be nil.
func (s *MLMService) EarningsReport(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*EarningsReport, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, apperrors.Validation("start date must not be after end date")
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	window := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Commission{}).
			Where("to_user_id = ? AND status = ?", userID, models.CommissionStatusPaid)
		if from != nil {
			q = q.Where("created_at >= ?", *from)
		}
		if to != nil {
			q = q.Where("created_at <= ?", *to)
		}
		return q
	}

	report := &EarningsReport{
		From:         from,
		To:           to,
		Summary:      EarningsSummary{TotalEarnings: decimal.Zero, AverageCommission: decimal.Zero},
		ByLevel:      []LevelEarnings{},
		ByMonth:      []MonthEarnings{},
		TopReferrals: []ReferralEarnings{},
	}

	var levels []levelRow
	if err := window().
		Select("level, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("level").
		Order("level").
		Scan(&levels).Error; err != nil {
		return nil, fmt.Errorf("error summing commissions by level: %w", err)
	}
	for _, r := range levels {
		report.ByLevel = append(report.ByLevel, LevelEarnings{
			Level:   r.Level,
			Count:   r.Count,
			Total:   r.Total,
			Average: r.Total.DivRound(decimal.NewFromInt(r.Count), 2),
		})
		report.Summary.TotalCommissions += r.Count
		report.Summary.TotalEarnings = report.Summary.TotalEarnings.Add(r.Total)
	}
	if report.Summary.TotalCommissions > 0 {
		report.Summary.AverageCommission = report.Summary.TotalEarnings.
			DivRound(decimal.NewFromInt(report.Summary.TotalCommissions), 2)
	}

	// grouped in Go so the month key does not depend on SQL date functions
	var dated []models.Commission
	if err := window().
		Select("amount", "created_at").
		Order("created_at DESC").
		Limit(reportMonthRows).
		Find(&dated).Error; err != nil {
		return nil, fmt.Errorf("error loading commissions by month: %w", err)
	}
	for _, c := range dated {
		month := c.CreatedAt.UTC().Format("2006-01")
		n := len(report.ByMonth)
		if n > 0 && report.ByMonth[n-1].Month == month {
			report.ByMonth[n-1].Count++
			report.ByMonth[n-1].Total = report.ByMonth[n-1].Total.Add(c.Amount)
			continue
		}
		if n == reportMonths {
			break
		}
		report.ByMonth = append(report.ByMonth, MonthEarnings{Month: month, Count: 1, Total: c.Amount})
	}

	var referrals []referralRow
	if err := window().
		Select("from_user_id, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Group("from_user_id").
		Order("total DESC").
		Order("from_user_id").
		Limit(reportTopReferrals).
		Scan(&referrals).Error; err != nil {
		return nil, fmt.Errorf("error ranking referrals: %w", err)
	}
	if len(referrals) > 0 {
		ids := make([]uuid.UUID, len(referrals))
		for i, r := range referrals {
			ids[i] = r.FromUserID
		}
		var users []models.User
		if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("error loading referrals: %w", err)
		}
		byID := make(map[uuid.UUID]*models.User, len(users))
		for i := range users {
			byID[users[i].ID] = &users[i]
		}
		for _, r := range referrals {
			report.TopReferrals = append(report.TopReferrals, ReferralEarnings{User: byID[r.FromUserID], Count: r.Count, Total: r.Total})
		}
	}

	if err := window().
		Preload("FromUser").
		Order("created_at DESC").
		Order("level").
		Limit(reportRecent).
		Find(&report.Recent).Error; err != nil {
		return nil, fmt.Errorf("error loading recent commissions: %w", err)
	}

	return report, nil
}

func (s *MLMService) requireUser(ctx context.Context, userID uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("user not found")
	}
	return nil
}

func paging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit
}
