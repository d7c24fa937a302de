package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CooldownKey identifies whose cooldown is checked. RoomID is uuid.Nil when
// the cooldown is global.
type CooldownKey struct {
	UserID uuid.UUID
	RoomID uuid.UUID
}

func (k CooldownKey) String() string {
	if k.RoomID == uuid.Nil {
		return fmt.Sprintf("cooldown:voting:%s", k.UserID)
	}
	return fmt.Sprintf("cooldown:voting:%s:%s", k.UserID, k.RoomID)
}

// CooldownStore rate limits how often a user may start a voting
type CooldownStore interface {
	// Acquire starts the cooldown for key and reports false when one is
	// already running. tx is the transaction the voting is created in.
	Acquire(ctx context.Context, tx *gorm.DB, key CooldownKey, now time.Time) (bool, error)
	// Release drops a cooldown taken for a voting that was never committed
	Release(ctx context.Context, key CooldownKey) error
}

// NewCooldownKey builds the key for initiator in room under scope
func NewCooldownKey(scope config.CooldownScope, initiatorID, roomID uuid.UUID) CooldownKey {
	if scope == config.CooldownScopeRoom {
		return CooldownKey{UserID: initiatorID, RoomID: roomID}
	}
	return CooldownKey{UserID: initiatorID}
}

// LedgerCooldown derives the cooldown from the start time of the user's most
// recent voting
type LedgerCooldown struct {
	window time.Duration
}

// NewLedgerCooldown creates a cooldown store backed by the votings table
func NewLedgerCooldown(window time.Duration) *LedgerCooldown {
	return &LedgerCooldown{window: window}
}

// Acquire implements CooldownStore. The initiator's user row is locked
// first so concurrent starts by the same user in different rooms queue
// behind each other and the second one counts the first one's voting.
func (c *LedgerCooldown) Acquire(ctx context.Context, tx *gorm.DB, key CooldownKey, now time.Time) (bool, error) {
	var initiator models.User
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").First(&initiator, "id = ?", key.UserID).Error; err != nil {
		return false, fmt.Errorf("error locking voting initiator: %w", err)
	}

	query := tx.WithContext(ctx).Model(&models.Voting{}).
		Where("initiator_id = ? AND started_at > ?", key.UserID, now.Add(-c.window))
	if key.RoomID != uuid.Nil {
		query = query.Where("room_id = ?", key.RoomID)
	}

	var recent int64
	if err := query.Count(&recent).Error; err != nil {
		return false, fmt.Errorf("error checking voting cooldown: %w", err)
	}
	return recent == 0, nil
}

// Release implements CooldownStore. The voting row is the cooldown, so a
// rolled back voting releases it on its own.
func (c *LedgerCooldown) Release(context.Context, CooldownKey) error {
	return nil
}

// RedisCooldown keeps cooldowns as expiring Redis keys
type RedisCooldown struct {
	client *redis.Client
	window time.Duration
}

// NewRedisCooldown creates a cooldown store backed by Redis
func NewRedisCooldown(client *redis.Client, window time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, window: window}
}

// Acquire implements CooldownStore
func (c *RedisCooldown) Acquire(ctx context.Context, _ *gorm.DB, key CooldownKey, now time.Time) (bool, error) {
	ok, err := c.client.SetNX(ctx, key.String(), now.Unix(), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("error setting voting cooldown: %w", err)
	}
	return ok, nil
}

// Release implements CooldownStore
func (c *RedisCooldown) Release(ctx context.Context, key CooldownKey) error {
	if err := c.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("error releasing voting cooldown: %w", err)
	}
	return nil
}
