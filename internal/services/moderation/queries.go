package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
)

// ActiveVoting is an open voting as seen by one room member
type ActiveVoting struct {
	models.Voting
	Tally     int       `json:"tally"`
	HasVoted  bool      `json:"has_voted"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetActiveVotings lists the open, unexpired votings of a room. Only current
// members of the room may list them.
func (s *Service) GetActiveVotings(ctx context.Context, roomID, requesterID uuid.UUID) ([]ActiveVoting, error) {
	db := s.db.WithContext(ctx)

	var room models.Room
	if err := db.Select("id").First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("room %s not found", roomID)
		}
		return nil, fmt.Errorf("error loading room: %w", err)
	}

	member, err := isMember(db, roomID, requesterID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.ErrNotRoomMember
	}

	now := s.now()
	var votings []models.Voting
	if err := db.
		Preload("Votes", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Preload("Target").
		Where("room_id = ? AND is_completed = ? AND started_at > ?", roomID, false, now.Add(-s.cfg.VotingDuration)).
		Order("started_at DESC").
		Find(&votings).Error; err != nil {
		return nil, fmt.Errorf("error loading active votings: %w", err)
	}

	active := make([]ActiveVoting, 0, len(votings))
	for _, v := range votings {
		av := ActiveVoting{Voting: v, Tally: len(v.Votes), ExpiresAt: v.ExpiresAt(s.cfg.VotingDuration)}
		for _, vote := range v.Votes {
			if vote.VoterID == requesterID {
				av.HasVoted = true
				break
			}
		}
		active = append(active, av)
	}
	return active, nil
}

// GetVoting returns one voting with its votes
func (s *Service) GetVoting(ctx context.Context, votingID uuid.UUID) (*models.Voting, error) {
	var voting models.Voting
	if err := s.db.WithContext(ctx).Preload("Votes").Preload("Target").First(&voting, "id = ?", votingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("voting %s not found", votingID)
		}
		return nil, fmt.Errorf("error loading voting: %w", err)
	}
	return &voting, nil
}

// RoomLogs returns the most recent moderation log entries of a room
func (s *Service) RoomLogs(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]models.ModerationLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var logs []models.ModerationLog
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("error loading room logs: %w", err)
	}
	return logs, nil
}

// UserExpulsions returns the expulsions of a user, newest first
func (s *Service) UserExpulsions(ctx context.Context, userID uuid.UUID) ([]models.Expulsion, error) {
	var expulsions []models.Expulsion
	if err := s.db.WithContext(ctx).
		Preload("Room").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&expulsions).Error; err != nil {
		return nil, fmt.Errorf("error loading expulsions: %w", err)
	}
	return expulsions, nil
}

// Logs returns one page of the moderation log across all rooms, optionally
// filtered by type
func (s *Service) Logs(ctx context.Context, logType models.ModerationLogType, page, limit int) ([]models.ModerationLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := s.db.WithContext(ctx).Model(&models.ModerationLog{})
	if logType != "" {
		query = query.Where("type = ?", logType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting moderation logs: %w", err)
	}

	var logs []models.ModerationLog
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("error loading moderation logs: %w", err)
	}
	return logs, total, nil
}
