// Package events fans moderation state changes out to the signaling layer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Type names a moderation event
type Type string

const (
	VotingStarted Type = "voting_started"
	VoteCast      Type = "vote_cast"
	UserExpelled  Type = "user_expelled"
	VotingFailed  Type = "voting_failed"
)

// Event is published after the change it describes has been committed
type Event struct {
	Type          Type      `json:"type"`
	RoomID        uuid.UUID `json:"room_id"`
	VotingID      uuid.UUID `json:"voting_id"`
	TargetID      uuid.UUID `json:"target_id"`
	ActorID       uuid.UUID `json:"actor_id,omitempty"`
	Tally         int       `json:"tally,omitempty"`
	RequiredVotes int       `json:"required_votes,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// Channel returns the pub/sub channel for a room
func Channel(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:moderation", roomID)
}

// Publisher delivers moderation events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher publishes events as JSON on the room channel
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher backed by client
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends event to the channel of its room
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(event.RoomID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}
