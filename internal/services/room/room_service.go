// Package room manages chat rooms and who is currently in them.
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	MinParticipants     = 2
	MaxParticipants     = 10
	defaultParticipants = 10
)

// VotingCanceller fails open votings when the room or the target goes away
type VotingCanceller interface {
	FailOpenVotings(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, targetID *uuid.UUID, details string) ([]models.Voting, error)
	Announce(ctx context.Context, failed []models.Voting)
}

// RoomService handles room lifecycle and presence
type RoomService struct {
	db          *gorm.DB
	votings     VotingCanceller
	leavePolicy config.TargetLeavePolicy
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewRoomService creates a new room service
func NewRoomService(db *gorm.DB, votings VotingCanceller, leavePolicy config.TargetLeavePolicy, log logrus.FieldLogger) *RoomService {
	return &RoomService{
		db:          db,
		votings:     votings,
		leavePolicy: leavePolicy,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoomInput holds the fields of a new room
type CreateRoomInput struct {
	CreatorID          uuid.UUID
	Name               string
	Topic              string
	Description        string
	MaxParticipants    int
	RequiresMembership *bool
}

func validateText(field, value string, min, max int) *apperrors.Error {
	if n := len(strings.TrimSpace(value)); n < min || n > max {
		return apperrors.Validation("%s must be between %d and %d characters", field, min, max)
	}
	return nil
}

// CreateRoom creates a room owned by a member with an active membership
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	if in.MaxParticipants == 0 {
		in.MaxParticipants = defaultParticipants
	}
	var invalid []*apperrors.Error
	if err := validateText("name", in.Name, 3, 100); err != nil {
		invalid = append(invalid, err)
	}
	if err := validateText("topic", in.Topic, 3, 100); err != nil {
		invalid = append(invalid, err)
	}
	if err := validateText("description", in.Description, 10, 500); err != nil {
		invalid = append(invalid, err)
	}
	if in.MaxParticipants < MinParticipants || in.MaxParticipants > MaxParticipants {
		invalid = append(invalid, apperrors.Validation("max participants must be between %d and %d", MinParticipants, MaxParticipants))
	}
	if len(invalid) > 0 {
		return nil, apperrors.Join(invalid...)
	}

	db := s.db.WithContext(ctx)
	var creator models.User
	if err := db.First(&creator, "id = ?", in.CreatorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("error loading creator: %w", err)
	}
	if !creator.HasActiveMembership(s.now()) {
		return nil, apperrors.ErrMembershipRequired
	}

	requiresMembership := true
	if in.RequiresMembership != nil {
		requiresMembership = *in.RequiresMembership
	}

	room := models.Room{
		Name:               strings.TrimSpace(in.Name),
		Slug:               fmt.Sprintf("%s-%s", slug.Make(in.Name), uuid.New().String()[:8]),
		Topic:              strings.TrimSpace(in.Topic),
		Description:        strings.TrimSpace(in.Description),
		CreatorID:          creator.ID,
		MaxParticipants:    in.MaxParticipants,
		RequiresMembership: requiresMembership,
		IsActive:           true,
	}
	if err := db.Create(&room).Error; err != nil {
		return nil, fmt.Errorf("error creating room: %w", err)
	}

	s.log.WithFields(logrus.Fields{"room_id": room.ID, "user_id": creator.ID}).Info("Room created")
	return &room, nil
}

// UpdateRoomInput holds the editable fields of a room. Nil fields are left unchanged.
type UpdateRoomInput struct {
	Name               *string
	Topic              *string
	Description        *string
	MaxParticipants    *int
	RequiresMembership *bool
}

// UpdateRoom edits a room. Only its creator may do so.
func (s *RoomService) UpdateRoom(ctx context.Context, roomID, userID uuid.UUID, in UpdateRoomInput) (*models.Room, error) {
	updates := map[string]interface{}{}
	var invalid []*apperrors.Error
	if in.Name != nil {
		if err := validateText("name", *in.Name, 3, 100); err != nil {
			invalid = append(invalid, err)
		}
		updates["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Topic != nil {
		if err := validateText("topic", *in.Topic, 3, 100); err != nil {
			invalid = append(invalid, err)
		}
		updates["topic"] = strings.TrimSpace(*in.Topic)
	}
	if in.Description != nil {
		if err := validateText("description", *in.Description, 10, 500); err != nil {
			invalid = append(invalid, err)
		}
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.MaxParticipants != nil {
		if *in.MaxParticipants < MinParticipants || *in.MaxParticipants > MaxParticipants {
			invalid = append(invalid, apperrors.Validation("max participants must be between %d and %d", MinParticipants, MaxParticipants))
		}
		updates["max_participants"] = *in.MaxParticipants
	}
	if in.RequiresMembership != nil {
		updates["requires_membership"] = *in.RequiresMembership
	}
	if len(invalid) > 0 {
		return nil, apperrors.Join(invalid...)
	}

	var room models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ownedRoom(tx, roomID, userID, &room); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&room).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating room: %w", err)
		}
		return tx.First(&room, "id = ?", roomID).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// JoinRoom adds the user to the room
func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMember, error) {
	now := s.now()
	var member models.RoomMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("room not found")
			}
			return fmt.Errorf("error loading room: %w", err)
		}
		if !room.IsActive {
			return apperrors.ErrRoomInactive
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("user not found")
			}
			return fmt.Errorf("error loading user: %w", err)
		}
		if user.Status != models.UserStatusActive {
			return apperrors.Forbidden("account is %s", user.Status)
		}
		if room.RequiresMembership && !user.HasActiveMembership(now) {
			return apperrors.ErrMembershipRequired
		}

		var expelled int64
		if err := tx.Model(&models.Expulsion{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&expelled).Error; err != nil {
			return fmt.Errorf("error checking expulsions: %w", err)
		}
		if expelled > 0 {
			return apperrors.ErrExpelledFromRoom
		}

		present, err := s.presentCount(tx, roomID, userID)
		if err != nil {
			return err
		}
		if present.user > 0 {
			return apperrors.ErrAlreadyInRoom
		}
		if present.total >= int64(room.MaxParticipants) {
			return apperrors.ErrRoomFull
		}

		member = models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: now}
		if err := tx.Create(&member).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperrors.ErrAlreadyInRoom
			}
			return fmt.Errorf("error joining room: %w", err)
		}

		return tx.Model(&models.Room{}).Where("id = ?", roomID).Updates(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants + ?", 1),
			"last_activity":        now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("User joined room")
	return &member, nil
}

type presence struct {
	total int64
	user  int64
}

func (s *RoomService) presentCount(tx *gorm.DB, roomID, userID uuid.UUID) (presence, error) {
	var p presence
	open := func() *gorm.DB {
		return tx.Model(&models.RoomMember{}).Where("room_id = ? AND left_at IS NULL", roomID)
	}
	if err := open().Count(&p.total).Error; err != nil {
		return p, fmt.Errorf("error counting room members: %w", err)
	}
	if err := open().Where("user_id = ?", userID).Count(&p.user).Error; err != nil {
		return p, fmt.Errorf("error checking room membership: %w", err)
	}
	return p, nil
}

// LeaveRoom ends the user's presence in the room. Under the fail policy any
// open voting against the user in this room fails with the departure.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	now := s.now()
	var failed []models.Voting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RoomMember{}).
			Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID).
			Update("left_at", now)
		if res.Error != nil {
			return fmt.Errorf("error leaving room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrNotRoomMember
		}

		if err := tx.Model(&models.Room{}).Where("id = ?", roomID).Updates(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants - ?", res.RowsAffected),
			"last_activity":        now,
		}).Error; err != nil {
			return fmt.Errorf("error updating room counters: %w", err)
		}

		if s.leavePolicy != config.TargetLeaveFail {
			return nil
		}
		var err error
		failed, err = s.votings.FailOpenVotings(ctx, tx, roomID, &userID, "target left the room")
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "failed_votings": len(failed)}).Info("User left room")
	s.votings.Announce(ctx, failed)
	return nil
}

// CloseRoom deactivates a room, removes everyone from it and fails its open
// votings. Only the creator may close a room.
func (s *RoomService) CloseRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	now := s.now()
	var failed []models.Voting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := s.ownedRoom(tx, roomID, userID, &room); err != nil {
			return err
		}

		if err := tx.Model(&models.RoomMember{}).
			Where("room_id = ? AND left_at IS NULL", roomID).
			Update("left_at", now).Error; err != nil {
			return fmt.Errorf("error removing room members: %w", err)
		}

		if err := tx.Model(&models.Room{}).Where("id = ?", roomID).Updates(map[string]interface{}{
			"is_active":            false,
			"current_participants": 0,
			"last_activity":        now,
		}).Error; err != nil {
			return fmt.Errorf("error closing room: %w", err)
		}

		var err error
		failed, err = s.votings.FailOpenVotings(ctx, tx, roomID, nil, "room closed")
		return err
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("Room closed")
	s.votings.Announce(ctx, failed)
	return nil
}

func (s *RoomService) ownedRoom(tx *gorm.DB, roomID, userID uuid.UUID, room *models.Room) error {
	if err := tx.First(room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("room not found")
		}
		return fmt.Errorf("error loading room: %w", err)
	}
	if room.CreatorID != userID {
		return apperrors.Forbidden("only the room creator can change the room")
	}
	return nil
}

// GetRoom returns a room with its current members
func (s *RoomService) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).
		Preload("Members", "left_at IS NULL").
		Preload("Members.User").
		First(&room, "id = ?", roomID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("room not found")
		}
		return nil, fmt.Errorf("error loading room: %w", err)
	}
	return &room, nil
}

// ListRooms returns one page of active rooms, most recently active first
func (s *RoomService) ListRooms(ctx context.Context, page, limit int) ([]models.Room, int64, error) {
	return s.list(s.db.WithContext(ctx).Model(&models.Room{}).Where("is_active = ?", true), page, limit)
}

// CreatedRooms returns one page of the rooms a user created
func (s *RoomService) CreatedRooms(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Room, int64, error) {
	return s.list(s.db.WithContext(ctx).Model(&models.Room{}).Where("creator_id = ?", userID), page, limit)
}

func (s *RoomService) list(query *gorm.DB, page, limit int) ([]models.Room, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("error counting rooms: %w", err)
	}

	var rooms []models.Room
	if err := query.
		Order("COALESCE(last_activity, created_at) DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rooms).Error; err != nil {
		return nil, 0, fmt.Errorf("error listing rooms: %w", err)
	}
	return rooms, total, nil
}
