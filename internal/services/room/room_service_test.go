package room

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/apperrors"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database/dbtest"
	"github.com/vidnet/backend/internal/events"
	"github.com/vidnet/backend/internal/metrics"
	"github.com/vidnet/backend/internal/models"
	"github.com/vidnet/backend/internal/services/moderation"
	"gorm.io/gorm"
)

type harness struct {
	db         *gorm.DB
	rooms      *RoomService
	moderation *moderation.Service
}

func newHarness(t *testing.T, policy config.TargetLeavePolicy) *harness {
	t.Helper()

	db := dbtest.New(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultModerationConfig()
	mod := moderation.NewService(db, cfg, moderation.NewLedgerCooldown(cfg.VoteCooldown), events.NopPublisher{}, log, metrics.NewUnregistered())
	return &harness{db: db, rooms: NewRoomService(db, mod, policy, log), moderation: mod}
}

func member(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	return dbtest.CreateUser(t, db, name, dbtest.WithMembershipUntil(time.Now().UTC().Add(24*time.Hour)))
}

func (h *harness) create(t *testing.T, creator *models.User, max int) *models.Room {
	t.Helper()

	room, err := h.rooms.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:       creator.ID,
		Name:            "Go Study Group",
		Topic:           "golang",
		Description:     "Weekly video chat about Go",
		MaxParticipants: max,
	})
	require.NoError(t, err)
	return room
}

func (h *harness) room(t *testing.T, id uuid.UUID) models.Room {
	t.Helper()

	var r models.Room
	require.NoError(t, h.db.First(&r, "id = ?", id).Error)
	return r
}

func TestCreateRoom(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	creator := member(t, h.db, "creator")

	room := h.create(t, creator, 0)
	assert.Equal(t, 10, room.MaxParticipants)
	assert.True(t, room.RequiresMembership)
	assert.True(t, room.IsActive)
	assert.Regexp(t, `^go-study-group-[0-9a-f]{8}$`, room.Slug)

	open := false
	other, err := h.rooms.CreateRoom(context.Background(), CreateRoomInput{
		CreatorID:          creator.ID,
		Name:               "Open Lounge",
		Topic:              "chat",
		Description:        "Anyone can come in",
		MaxParticipants:    4,
		RequiresMembership: &open,
	})
	require.NoError(t, err)
	assert.False(t, h.room(t, other.ID).RequiresMembership)
}

func TestCreateRoomValidation(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	creator := member(t, h.db, "creator")
	lapsed := dbtest.CreateUser(t, h.db, "lapsed")

	_, err := h.rooms.CreateRoom(context.Background(), CreateRoomInput{CreatorID: creator.ID, Name: "ab", Topic: "golang", Description: "short", MaxParticipants: 11})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "name must be between 3 and 100 characters")
	assert.Contains(t, err.Error(), "description must be between 10 and 500 characters")
	assert.Contains(t, err.Error(), "max participants must be between 2 and 10")

	_, err = h.rooms.CreateRoom(context.Background(), CreateRoomInput{CreatorID: lapsed.ID, Name: "Lapsed Room", Topic: "golang", Description: "Needs a membership"})
	assert.ErrorIs(t, err, apperrors.ErrMembershipRequired)
}

func TestJoinRoom(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	creator := member(t, h.db, "creator")
	room := h.create(t, creator, 2)

	m, err := h.rooms.JoinRoom(context.Background(), room.ID, creator.ID)
	require.NoError(t, err)
	assert.Nil(t, m.LeftAt)

	_, err = h.rooms.JoinRoom(context.Background(), room.ID, creator.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyInRoom)

	guest := member(t, h.db, "guest")
	_, err = h.rooms.JoinRoom(context.Background(), room.ID, guest.ID)
	require.NoError(t, err)

	late := member(t, h.db, "late")
	_, err = h.rooms.JoinRoom(context.Background(), room.ID, late.ID)
	assert.ErrorIs(t, err, apperrors.ErrRoomFull)

	lapsed := dbtest.CreateUser(t, h.db, "lapsed")
	require.NoError(t, h.rooms.LeaveRoom(context.Background(), room.ID, guest.ID))
	_, err = h.rooms.JoinRoom(context.Background(), room.ID, lapsed.ID)
	assert.ErrorIs(t, err, apperrors.ErrMembershipRequired)

	_, err = h.rooms.JoinRoom(context.Background(), uuid.New(), guest.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	assert.Equal(t, 1, h.room(t, room.ID).CurrentParticipants)
}

func TestRejoinAfterLeaving(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	creator := member(t, h.db, "creator")
	room := h.create(t, creator, 5)

	_, err := h.rooms.JoinRoom(context.Background(), room.ID, creator.ID)
	require.NoError(t, err)
	require.NoError(t, h.rooms.LeaveRoom(context.Background(), room.ID, creator.ID))
	_, err = h.rooms.JoinRoom(context.Background(), room.ID, creator.ID)
	require.NoError(t, err)

	var stays int64
	require.NoError(t, h.db.Model(&models.RoomMember{}).Where("room_id = ? AND user_id = ?", room.ID, creator.ID).Count(&stays).Error)
	assert.Equal(t, int64(2), stays)

	err = h.rooms.LeaveRoom(context.Background(), room.ID, member(t, h.db, "stranger").ID)
	assert.ErrorIs(t, err, apperrors.ErrNotRoomMember)
}

// seat fills a room with the creator and two guests and opens a voting against the last guest
func (h *harness) seat(t *testing.T) (*models.Room, []*models.User, *models.Voting) {
	t.Helper()

	users := []*models.User{member(t, h.db, "creator"), member(t, h.db, "guest1"), member(t, h.db, "guest2")}
	room := h.create(t, users[0], 5)
	for _, u := range users {
		_, err := h.rooms.JoinRoom(context.Background(), room.ID, u.ID)
		require.NoError(t, err)
	}

	v, err := h.moderation.StartVoting(context.Background(), moderation.StartVotingInput{
		RoomID:      room.ID,
		InitiatorID: users[0].ID,
		TargetID:    users[2].ID,
	})
	require.NoError(t, err)
	return room, users, v
}

func TestExpelledUserCannotRejoin(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	room, users, v := h.seat(t)

	for _, voter := range users[:2] {
		_, err := h.moderation.CastVote(context.Background(), moderation.CastVoteInput{VotingID: v.ID, VoterID: voter.ID})
		require.NoError(t, err)
	}

	_, err := h.rooms.JoinRoom(context.Background(), room.ID, users[2].ID)
	assert.ErrorIs(t, err, apperrors.ErrExpelledFromRoom)
}

func TestTargetLeavingFailsVoting(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	room, users, v := h.seat(t)

	require.NoError(t, h.rooms.LeaveRoom(context.Background(), room.ID, users[2].ID))

	voting, err := h.moderation.GetVoting(context.Background(), v.ID)
	require.NoError(t, err)
	assert.True(t, voting.IsCompleted)
	require.NotNil(t, voting.Result)
	assert.Equal(t, models.VotingResultFailed, *voting.Result)

	var logs int64
	require.NoError(t, h.db.Model(&models.ModerationLog{}).Where("type = ? AND room_id = ?", models.LogVotingFailed, room.ID).Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}

func TestTargetLeavingKeepsVoting(t *testing.T) {
	h := newHarness(t, config.TargetLeaveKeep)
	room, users, v := h.seat(t)

	require.NoError(t, h.rooms.LeaveRoom(context.Background(), room.ID, users[2].ID))

	voting, err := h.moderation.GetVoting(context.Background(), v.ID)
	require.NoError(t, err)
	assert.False(t, voting.IsCompleted)
}

func TestCloseRoom(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	room, users, v := h.seat(t)

	err := h.rooms.CloseRoom(context.Background(), room.ID, users[1].ID)
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	require.NoError(t, h.rooms.CloseRoom(context.Background(), room.ID, users[0].ID))

	closed := h.room(t, room.ID)
	assert.False(t, closed.IsActive)
	assert.Zero(t, closed.CurrentParticipants)

	var present int64
	require.NoError(t, h.db.Model(&models.RoomMember{}).Where("room_id = ? AND left_at IS NULL", room.ID).Count(&present).Error)
	assert.Zero(t, present)

	voting, err := h.moderation.GetVoting(context.Background(), v.ID)
	require.NoError(t, err)
	assert.True(t, voting.IsCompleted)

	_, err = h.rooms.JoinRoom(context.Background(), room.ID, users[1].ID)
	assert.ErrorIs(t, err, apperrors.ErrRoomInactive)
}

func TestUpdateRoom(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	creator := member(t, h.db, "creator")
	room := h.create(t, creator, 5)

	name := "Renamed Room"
	max := 3
	updated, err := h.rooms.UpdateRoom(context.Background(), room.ID, creator.ID, UpdateRoomInput{Name: &name, MaxParticipants: &max})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Room", updated.Name)
	assert.Equal(t, 3, updated.MaxParticipants)

	_, err = h.rooms.UpdateRoom(context.Background(), room.ID, member(t, h.db, "other").ID, UpdateRoomInput{Name: &name})
	assert.Equal(t, apperrors.KindForbidden, apperrors.KindOf(err))

	bad := 1
	_, err = h.rooms.UpdateRoom(context.Background(), room.ID, creator.ID, UpdateRoomInput{MaxParticipants: &bad})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestGetAndListRooms(t *testing.T) {
	h := newHarness(t, config.TargetLeaveFail)
	room, users, _ := h.seat(t)
	h.create(t, users[1], 4)

	got, err := h.rooms.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 3)
	require.NotNil(t, got.Members[0].User)

	require.NoError(t, h.rooms.LeaveRoom(context.Background(), room.ID, users[1].ID))
	got, err = h.rooms.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)

	rooms, total, err := h.rooms.ListRooms(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rooms, 2)

	mine, total, err := h.rooms.CreatedRooms(context.Background(), users[0].ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, room.ID, mine[0].ID)

	_, err = h.rooms.GetRoom(context.Background(), uuid.New())
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
