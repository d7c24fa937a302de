package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
)

// UserOption customises a fixture user
type UserOption func(*models.User)

// WithSponsor links the user under sponsor
func WithSponsor(sponsor *models.User) UserOption {
	return func(u *models.User) {
		u.SponsorID = &sponsor.ID
	}
}

// WithMembershipUntil sets the membership expiry
func WithMembershipUntil(expiry time.Time) UserOption {
	return func(u *models.User) {
		u.MembershipExpiry = &expiry
	}
}

// WithStatus sets the account status
func WithStatus(status models.UserStatus) UserOption {
	return func(u *models.User) {
		u.Status = status
	}
}

// AsAdmin marks the user as an administrator
func AsAdmin() UserOption {
	return func(u *models.User) {
		u.IsAdmin = true
	}
}

// CreateUser inserts a user named username
func CreateUser(t *testing.T, db *gorm.DB, username string, opts ...UserOption) *models.User {
	t.Helper()

	u := &models.User{
		Email:        username + "@example.com",
		Username:     username,
		FirstName:    username,
		LastName:     "Tester",
		PasswordHash: "x",
		Status:       models.UserStatusActive,
	}
	for _, opt := range opts {
		opt(u)
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateRoom inserts an active room owned by creator
func CreateRoom(t *testing.T, db *gorm.DB, creator *models.User, maxParticipants int) *models.Room {
	t.Helper()

	room := &models.Room{
		Name:               "Room " + uuid.NewString()[:8],
		Slug:               "room-" + uuid.NewString(),
		Topic:              "testing",
		CreatorID:          creator.ID,
		MaxParticipants:    maxParticipants,
		RequiresMembership: false,
		IsActive:           true,
	}
	require.NoError(t, db.Create(room).Error)
	return room
}

// AddMember puts user into room as a current member
func AddMember(t *testing.T, db *gorm.DB, room *models.Room, user *models.User) {
	t.Helper()

	require.NoError(t, db.Create(&models.RoomMember{RoomID: room.ID, UserID: user.ID, JoinedAt: time.Now().UTC()}).Error)
	require.NoError(t, db.Model(room).UpdateColumn("current_participants", gorm.Expr("current_participants + 1")).Error)
}

// CreatePayment inserts a payment of 10 USDT for user with a random transaction hash
func CreatePayment(t *testing.T, db *gorm.DB, user *models.User, status models.PaymentStatus) *models.Payment {
	t.Helper()

	p := &models.Payment{
		UserID:              user.ID,
		Amount:              decimal.NewFromInt(10),
		Currency:            models.CurrencyUSDT,
		TransactionHash:     "0x" + uuid.NewString(),
		Status:              status,
		MembershipExtension: 28,
	}
	if status == models.PaymentStatusCompleted {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	require.NoError(t, db.Create(p).Error)
	return p
}
