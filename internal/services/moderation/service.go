// Package moderation runs democratic expulsion votings inside rooms.
//
// A voting is OPEN until the number of votes reaches its required quorum
// (the target is expelled) or until the voting window elapses (the voting
// fails). Every transition happens in a single ledger transaction and the
// voting row is locked while a vote is counted, so at most one request ever
// executes the expulsion for a voting.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/events"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultVotingReason = "Inappropriate behavior"
	defaultVoteReason   = "Supporting the expulsion"
)

// Service is the moderation state machine
type Service struct {
	db        *gorm.DB
	cfg       config.ModerationConfig
	cooldown  CooldownStore
	publisher events.Publisher
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates a new moderation service
func NewService(db *gorm.DB, cfg config.ModerationConfig, cooldown CooldownStore, publisher events.Publisher, log logrus.FieldLogger, m *metrics.Metrics) *Service {
	return &Service{
		db:        db,
		cfg:       cfg,
		cooldown:  cooldown,
		publisher: publisher,
		log:       log,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for voting windows and cooldowns
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RequiredVotes returns the quorum for a room of n participants: strictly
// more than half.
func RequiredVotes(n int) int {
	return n/2 + 1
}

// StartVotingInput holds the parameters of StartVoting
type StartVotingInput struct {
	RoomID      uuid.UUID
	InitiatorID uuid.UUID
	TargetID    uuid.UUID
	Reason      string
}

// StartVoting opens an expulsion voting against TargetID. Every violated
// precondition is reported in the returned error; the initiator's cooldown is
// only taken once all the others hold.
func (s *Service) StartVoting(ctx context.Context, in StartVotingInput) (*models.Voting, error) {
	if in.Reason == "" {
		in.Reason = defaultVotingReason
	}
	now := s.now()
	key := NewCooldownKey(s.cfg.CooldownScope, in.InitiatorID, in.RoomID)
	log := s.log.WithFields(logrus.Fields{"room_id": in.RoomID, "user_id": in.InitiatorID, "target_id": in.TargetID})

	var (
		voting   models.Voting
		acquired bool
		notices  []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", in.RoomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("room %s not found", in.RoomID)
			}
			return fmt.Errorf("error loading room: %w", err)
		}
		if !room.IsActive {
			return apperrors.ErrRoomInactive
		}

		members, err := currentMembers(tx, in.RoomID)
		if err != nil {
			return err
		}

		var violations []*apperrors.Error
		if !members[in.InitiatorID] {
			violations = append(violations, apperrors.ErrInitiatorNotInRoom)
		}
		if !members[in.TargetID] {
			violations = append(violations, apperrors.ErrTargetNotInRoom)
		}
		if in.InitiatorID == in.TargetID {
			violations = append(violations, apperrors.ErrSelfVote)
		}
		if len(members) < s.minParticipants() {
			violations = append(violations, apperrors.ErrInsufficientParticipants)
		}

		var open []models.Voting
		if err := tx.Where("room_id = ? AND target_id = ? AND is_completed = ?", in.RoomID, in.TargetID, false).
			Limit(1).Find(&open).Error; err != nil {
			return fmt.Errorf("error checking open votings: %w", err)
		}
		switch {
		case len(open) == 0:
		case open[0].IsOpen(now, s.cfg.VotingDuration):
			violations = append(violations, apperrors.ErrVotingInProgress)
		default:
			// expired but not yet swept
			failed, err := s.failVoting(tx, &open[0], now, "voting expired without reaching quorum")
			if err != nil {
				return err
			}
			if failed {
				notices = append(notices, failedEvent(&open[0], now))
			}
		}

		if len(violations) > 0 {
			return apperrors.Join(violations...)
		}

		ok, err := s.cooldown.Acquire(ctx, tx, key, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrCooldownActive
		}
		acquired = true

		n := len(members)
		voting = models.Voting{
			RoomID:            in.RoomID,
			InitiatorID:       in.InitiatorID,
			TargetID:          in.TargetID,
			Reason:            in.Reason,
			RequiredVotes:     RequiredVotes(n),
			TotalParticipants: n,
			StartedAt:         now,
		}
		if err := tx.Create(&voting).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperrors.ErrVotingInProgress
			}
			return fmt.Errorf("error creating voting: %w", err)
		}

		var target models.User
		if err := tx.Select("id", "username", "first_name", "last_name").First(&target, "id = ?", in.TargetID).Error; err != nil {
			return fmt.Errorf("error loading target: %w", err)
		}
		voting.Target = &target

		entry := models.ModerationLog{
			Type:        models.LogVotingStarted,
			RoomID:      &in.RoomID,
			InitiatorID: &in.InitiatorID,
			TargetID:    &in.TargetID,
			Details:     fmt.Sprintf("Voting started to expel %s", target.FullName()),
			Metadata: datatypes.JSONMap{
				"voting_id":          voting.ID.String(),
				"reason":             in.Reason,
				"required_votes":     voting.RequiredVotes,
				"total_participants": n,
			},
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("error writing moderation log: %w", err)
		}

		if err := tx.Model(&models.Room{}).Where("id = ?", in.RoomID).Updates(map[string]interface{}{
			"total_votings": gorm.Expr("total_votings + ?", 1),
			"last_activity": now,
		}).Error; err != nil {
			return fmt.Errorf("error updating room counters: %w", err)
		}
		return nil
	})
	if err != nil {
		if acquired {
			if relErr := s.cooldown.Release(ctx, key); relErr != nil {
				log.WithError(relErr).Warn("Failed to release voting cooldown")
			}
		}
		return nil, err
	}

	log.WithFields(logrus.Fields{"voting_id": voting.ID, "required_votes": voting.RequiredVotes}).Info("Voting started")
	s.metrics.VotingStarted()
	notices = append(notices, events.Event{
		Type:          events.VotingStarted,
		RoomID:        voting.RoomID,
		VotingID:      voting.ID,
		TargetID:      voting.TargetID,
		ActorID:       voting.InitiatorID,
		RequiredVotes: voting.RequiredVotes,
		Reason:        voting.Reason,
		At:            now,
	})
	s.publish(ctx, notices...)
	return &voting, nil
}

// CastVoteInput holds the parameters of CastVote
type CastVoteInput struct {
	VotingID uuid.UUID
	VoterID  uuid.UUID
	Reason   string
}

// VoteResult is the state of a voting right after a vote
type VoteResult struct {
	Vote          models.Vote       `json:"vote"`
	Tally         int               `json:"tally"`
	RequiredVotes int               `json:"required_votes"`
	Resolved      bool              `json:"resolved"`
	Expulsion     *models.Expulsion `json:"expulsion,omitempty"`
}

// CastVote records a ballot and, when it completes the quorum, expels the
// target in the same transaction.
func (s *Service) CastVote(ctx context.Context, in CastVoteInput) (*VoteResult, error) {
	if in.Reason == "" {
		in.Reason = defaultVoteReason
	}
	now := s.now()

	var (
		result VoteResult
		voting models.Voting
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&voting, "id = ?", in.VotingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("voting %s not found", in.VotingID)
			}
			return fmt.Errorf("error loading voting: %w", err)
		}
		if voting.IsCompleted {
			return apperrors.ErrVotingCompleted
		}
		if !voting.IsOpen(now, s.cfg.VotingDuration) {
			return apperrors.ErrVotingExpired
		}
		if in.VoterID == voting.TargetID {
			return apperrors.ErrSelfVote
		}

		member, err := isMember(tx, voting.RoomID, in.VoterID)
		if err != nil {
			return err
		}
		if !member {
			return apperrors.ErrNotRoomMember
		}

		var existing int64
		if err := tx.Model(&models.Vote{}).Where("voting_id = ? AND voter_id = ?", voting.ID, in.VoterID).Count(&existing).Error; err != nil {
			return fmt.Errorf("error checking existing vote: %w", err)
		}
		if existing > 0 {
			return apperrors.ErrAlreadyVoted
		}

		result.Vote = models.Vote{VotingID: voting.ID, VoterID: in.VoterID, Reason: in.Reason}
		if err := tx.Create(&result.Vote).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperrors.ErrAlreadyVoted
			}
			return fmt.Errorf("error recording vote: %w", err)
		}

		var tally int64
		if err := tx.Model(&models.Vote{}).Where("voting_id = ?", voting.ID).Count(&tally).Error; err != nil {
			return fmt.Errorf("error counting votes: %w", err)
		}
		result.Tally = int(tally)
		result.RequiredVotes = voting.RequiredVotes

		if result.Tally < voting.RequiredVotes {
			return tx.Model(&models.Room{}).Where("id = ?", voting.RoomID).Update("last_activity", now).Error
		}

		expulsion, err := s.expel(tx, &voting, result.Tally, now)
		if err != nil {
			return err
		}
		result.Resolved = true
		result.Expulsion = expulsion
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"voting_id": voting.ID, "room_id": voting.RoomID, "user_id": in.VoterID})
	log.WithField("tally", result.Tally).Info("Vote cast")
	s.metrics.VoteCast()

	notices := []events.Event{{
		Type:          events.VoteCast,
		RoomID:        voting.RoomID,
		VotingID:      voting.ID,
		TargetID:      voting.TargetID,
		ActorID:       in.VoterID,
		Tally:         result.Tally,
		RequiredVotes: result.RequiredVotes,
		At:            now,
	}}
	if result.Resolved {
		log.WithField("target_id", voting.TargetID).Info("User expelled by voting")
		s.metrics.UserExpelled()
		notices = append(notices, events.Event{
			Type:          events.UserExpelled,
			RoomID:        voting.RoomID,
			VotingID:      voting.ID,
			TargetID:      voting.TargetID,
			Tally:         result.Tally,
			RequiredVotes: result.RequiredVotes,
			Reason:        result.Expulsion.Reason,
			At:            now,
		})
	}
	s.publish(ctx, notices...)
	return &result, nil
}

// expel completes voting as expelled and applies the expulsion. The
// conditional update is the single point where the expelled branch is won.
func (s *Service) expel(tx *gorm.DB, voting *models.Voting, tally int, now time.Time) (*models.Expulsion, error) {
	expelled := models.VotingResultExpelled
	res := tx.Model(&models.Voting{}).
		Where("id = ? AND is_completed = ?", voting.ID, false).
		Updates(map[string]interface{}{
			"is_completed": true,
			"result":       expelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("error completing voting: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, apperrors.ErrVotingCompleted
	}
	voting.IsCompleted = true
	voting.Result = &expelled
	voting.CompletedAt = &now

	var voters []uuid.UUID
	if err := tx.Model(&models.Vote{}).Where("voting_id = ?", voting.ID).Order("created_at ASC").Pluck("voter_id", &voters).Error; err != nil {
		return nil, fmt.Errorf("error loading voters: %w", err)
	}

	expulsion := models.Expulsion{
		VotingID:   voting.ID,
		UserID:     voting.TargetID,
		RoomID:     voting.RoomID,
		Reason:     fmt.Sprintf("Expelled by democratic voting (%d/%d votes)", tally, voting.RequiredVotes),
		ExpelledBy: models.UUIDList(voters),
	}
	if err := tx.Create(&expulsion).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.Invariant("voting %s already has an expulsion", voting.ID)
		}
		return nil, fmt.Errorf("error creating expulsion: %w", err)
	}

	left := tx.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", voting.RoomID, voting.TargetID).
		Update("left_at", now)
	if left.Error != nil {
		return nil, fmt.Errorf("error removing target from room: %w", left.Error)
	}

	var target models.User
	if err := tx.Select("id", "username", "first_name", "last_name").First(&target, "id = ?", voting.TargetID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error loading target: %w", err)
	}

	entry := models.ModerationLog{
		Type:        models.LogUserExpelled,
		RoomID:      &voting.RoomID,
		InitiatorID: &voting.InitiatorID,
		TargetID:    &voting.TargetID,
		Details:     fmt.Sprintf("User %s expelled by democratic voting", target.FullName()),
		Metadata: datatypes.JSONMap{
			"voting_id":      voting.ID.String(),
			"expulsion_id":   expulsion.ID.String(),
			"total_votes":    tally,
			"required_votes": voting.RequiredVotes,
		},
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("error writing moderation log: %w", err)
	}

	if err := tx.Model(&models.Room{}).Where("id = ?", voting.RoomID).Updates(map[string]interface{}{
		"total_expulsions":     gorm.Expr("total_expulsions + ?", 1),
		"current_participants": gorm.Expr("current_participants - ?", left.RowsAffected),
		"last_activity":        now,
	}).Error; err != nil {
		return nil, fmt.Errorf("error updating room counters: %w", err)
	}

	return &expulsion, nil
}

func (s *Service) minParticipants() int {
	if s.cfg.MinParticipants < 2 {
		return 2
	}
	return s.cfg.MinParticipants
}

func (s *Service) publish(ctx context.Context, notices ...events.Event) {
	for _, e := range notices {
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"voting_id": e.VotingID, "room_id": e.RoomID}).
				Warn("Failed to publish moderation event")
		}
	}
}

// currentMembers returns the set of users present in the room
func currentMembers(tx *gorm.DB, roomID uuid.UUID) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	if err := tx.Model(&models.RoomMember{}).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("error loading room members: %w", err)
	}

	members := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}
	return members, nil
}

func isMember(tx *gorm.DB, roomID, userID uuid.UUID) (bool, error) {
	var count int64
	if err := tx.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ? AND left_at IS NULL", roomID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("error checking room membership: %w", err)
	}
	return count > 0, nil
}
