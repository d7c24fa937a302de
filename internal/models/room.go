package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a video chat session container
type Room struct {
	Base
	Name                string       `gorm:"type:varchar(100);not null" json:"name"`
	Slug                string       `gorm:"type:varchar(120);uniqueIndex;not null" json:"slug"`
	Topic               string       `gorm:"type:varchar(100)" json:"topic"`
	Description         string       `gorm:"type:text" json:"description"`
	CreatorID           uuid.UUID    `gorm:"type:uuid;index;not null" json:"creator_id"`
	MaxParticipants     int          `gorm:"not null" json:"max_participants"`
	RequiresMembership  bool         `gorm:"not null" json:"requires_membership"`
	IsActive            bool         `gorm:"not null;index" json:"is_active"`
	CurrentParticipants int          `gorm:"not null;default:0" json:"current_participants"`
	TotalVotings        int          `gorm:"not null;default:0" json:"total_votings"`
	TotalExpulsions     int          `gorm:"not null;default:0" json:"total_expulsions"`
	LastActivity        *time.Time   `json:"last_activity"`
	Members             []RoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
}

// RoomMember records one stay of a user in a room. LeftAt is nil while the
// user is present.
type RoomMember struct {
	Base
	RoomID   uuid.UUID  `gorm:"type:uuid;index;not null" json:"room_id"`
	UserID   uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	User     *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	JoinedAt time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`
}
