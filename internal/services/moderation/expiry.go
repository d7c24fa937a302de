package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vidnet/backend/internal/events"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExpireStaleVotings fails every open voting whose window has elapsed at now
// and returns how many were failed. Expired votings never expel anyone.
func (s *Service) ExpireStaleVotings(ctx context.Context, now time.Time) (int, error) {
	var stale []models.Voting
	if err := s.db.WithContext(ctx).
		Where("is_completed = ? AND started_at <= ?", false, now.Add(-s.cfg.VotingDuration)).
		Order("started_at ASC").
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("error loading stale votings: %w", err)
	}

	var notices []events.Event
	for i := range stale {
		v := &stale[i]
		var failed bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			failed, err = s.failVoting(tx, v, now, "voting expired without reaching quorum")
			return err
		})
		if err != nil {
			s.log.WithError(err).WithField("voting_id", v.ID).Error("Failed to expire voting")
			continue
		}
		if failed {
			notices = append(notices, failedEvent(v, now))
		}
	}

	if len(notices) > 0 {
		s.log.WithField("count", len(notices)).Info("Expired stale votings")
		s.metrics.VotingsExpired(len(notices))
		s.publish(ctx, notices...)
	}
	return len(notices), nil
}

// FailOpenVotings fails the open votings of a room inside tx, restricted to
// one target when targetID is not nil. Callers pass the result to Announce
// once tx has committed.
func (s *Service) FailOpenVotings(ctx context.Context, tx *gorm.DB, roomID uuid.UUID, targetID *uuid.UUID, details string) ([]models.Voting, error) {
	query := tx.WithContext(ctx).Where("room_id = ? AND is_completed = ?", roomID, false)
	if targetID != nil {
		query = query.Where("target_id = ?", *targetID)
	}

	var open []models.Voting
	if err := query.Find(&open).Error; err != nil {
		return nil, fmt.Errorf("error loading open votings: %w", err)
	}

	now := s.now()
	failed := make([]models.Voting, 0, len(open))
	for i := range open {
		ok, err := s.failVoting(tx, &open[i], now, details)
		if err != nil {
			return nil, err
		}
		if ok {
			failed = append(failed, open[i])
		}
	}
	return failed, nil
}

// Announce publishes the failure of votings returned by FailOpenVotings
func (s *Service) Announce(ctx context.Context, failed []models.Voting) {
	notices := make([]events.Event, 0, len(failed))
	for i := range failed {
		at := s.now()
		if failed[i].CompletedAt != nil {
			at = *failed[i].CompletedAt
		}
		notices = append(notices, failedEvent(&failed[i], at))
	}
	s.publish(ctx, notices...)
}

// failVoting moves an open voting to failed. It reports false when another
// transaction completed the voting first.
func (s *Service) failVoting(tx *gorm.DB, v *models.Voting, now time.Time, details string) (bool, error) {
	failed := models.VotingResultFailed
	res := tx.Model(&models.Voting{}).
		Where("id = ? AND is_completed = ?", v.ID, false).
		Updates(map[string]interface{}{
			"is_completed": true,
			"result":       failed,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("error failing voting: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	v.IsCompleted = true
	v.Result = &failed
	v.CompletedAt = &now

	var tally int64
	if err := tx.Model(&models.Vote{}).Where("voting_id = ?", v.ID).Count(&tally).Error; err != nil {
		return false, fmt.Errorf("error counting votes: %w", err)
	}

	entry := models.ModerationLog{
		Type:        models.LogVotingFailed,
		RoomID:      &v.RoomID,
		InitiatorID: &v.InitiatorID,
		TargetID:    &v.TargetID,
		Details:     details,
		Metadata: datatypes.JSONMap{
			"voting_id":      v.ID.String(),
			"total_votes":    tally,
			"required_votes": v.RequiredVotes,
		},
	}
	if err := tx.Create(&entry).Error; err != nil {
		return false, fmt.Errorf("error writing moderation log: %w", err)
	}

	s.log.WithFields(logrus.Fields{"voting_id": v.ID, "room_id": v.RoomID}).Info(details)
	return true, nil
}

func failedEvent(v *models.Voting, at time.Time) events.Event {
	return events.Event{
		Type:          events.VotingFailed,
		RoomID:        v.RoomID,
		VotingID:      v.ID,
		TargetID:      v.TargetID,
		RequiredVotes: v.RequiredVotes,
		At:            at,
	}
}
