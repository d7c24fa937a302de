package models

import (
	"time"

	"github.com/google/uuid"
)

// VotingResult is the outcome of a completed voting
type VotingResult string

const (
	VotingResultExpelled VotingResult = "expelled"
	VotingResultFailed   VotingResult = "failed"
)

// Voting is an expulsion proposal scoped to one room. RequiredVotes and
// TotalParticipants are fixed when the voting starts.
type Voting struct {
	Base
	RoomID            uuid.UUID     `gorm:"type:uuid;index;not null" json:"room_id"`
	InitiatorID       uuid.UUID     `gorm:"type:uuid;index;not null" json:"initiator_id"`
	TargetID          uuid.UUID     `gorm:"type:uuid;index;not null" json:"target_id"`
	Target            *User         `gorm:"foreignKey:TargetID" json:"target,omitempty"`
	Reason            string        `gorm:"type:text" json:"reason"`
	RequiredVotes     int           `gorm:"not null" json:"required_votes"`
	TotalParticipants int           `gorm:"not null" json:"total_participants"`
	StartedAt         time.Time     `gorm:"not null;index" json:"started_at"`
	IsCompleted       bool          `gorm:"not null;default:false;index" json:"is_completed"`
	Result            *VotingResult `gorm:"type:varchar(20)" json:"result"`
	CompletedAt       *time.Time    `json:"completed_at"`
	Votes             []Vote        `gorm:"foreignKey:VotingID" json:"votes,omitempty"`
}

// ExpiresAt returns the moment the voting stops accepting votes
func (v *Voting) ExpiresAt(duration time.Duration) time.Time {
	return v.StartedAt.Add(duration)
}

// IsOpen reports whether the voting still accepts votes at now
func (v *Voting) IsOpen(now time.Time, duration time.Duration) bool {
	return !v.IsCompleted && now.Before(v.ExpiresAt(duration))
}

// Vote is one ballot in a voting
type Vote struct {
	Base
	VotingID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_votes_voting_voter,priority:1" json:"voting_id"`
	VoterID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_votes_voting_voter,priority:2" json:"voter_id"`
	Reason   string    `gorm:"type:text" json:"reason"`
}

// Expulsion is the durable outcome of a voting that reached quorum
type Expulsion struct {
	Base
	VotingID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"voting_id"`
	UserID     uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	RoomID     uuid.UUID `gorm:"type:uuid;index;not null" json:"room_id"`
	Room       *Room     `gorm:"foreignKey:RoomID" json:"room,omitempty"`
	Reason     string    `gorm:"type:text" json:"reason"`
	ExpelledBy UUIDList  `gorm:"type:text" json:"expelled_by"`
}
