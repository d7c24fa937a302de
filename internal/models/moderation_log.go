package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrModerationLogImmutable is returned when a log entry is updated or deleted
var ErrModerationLogImmutable = errors.New("moderation log entries are append-only")

// ModerationLogType tags a moderation audit entry
type ModerationLogType string

const (
	LogVotingStarted ModerationLogType = "voting_started"
	LogUserExpelled  ModerationLogType = "user_expelled"
	LogVotingFailed  ModerationLogType = "voting_failed"
	LogUserActivated ModerationLogType = "user_activated"
	LogUserSuspended ModerationLogType = "user_suspended"
	LogUserBanned    ModerationLogType = "user_banned"
)

// ModerationLog is an append-only audit entry
type ModerationLog struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Type        ModerationLogType `gorm:"type:varchar(40);index;not null" json:"type"`
	RoomID      *uuid.UUID        `gorm:"type:uuid;index" json:"room_id"`
	InitiatorID *uuid.UUID        `gorm:"type:uuid" json:"initiator_id"`
	TargetID    *uuid.UUID        `gorm:"type:uuid;index" json:"target_id"`
	Details     string            `gorm:"type:text" json:"details"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
}

// BeforeCreate sets the id of a new log entry
func (l *ModerationLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate rejects any modification of a log entry
func (l *ModerationLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrModerationLogImmutable
}

// BeforeDelete rejects deletion of a log entry
func (l *ModerationLog) BeforeDelete(tx *gorm.DB) error {
	return ErrModerationLogImmutable
}
