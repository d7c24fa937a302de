package database_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/database"
	"github.com/vidnet/backend/internal/database/dbtest"
	"github.com/vidnet/backend/internal/models"
	"gorm.io/gorm"
)

func TestOpenVotingIndexRejectsSecondOpenVoting(t *testing.T) {
	db := dbtest.New(t)

	roomID, targetID := uuid.New(), uuid.New()
	first := models.Voting{RoomID: roomID, InitiatorID: uuid.New(), TargetID: targetID, RequiredVotes: 2, TotalParticipants: 3, StartedAt: time.Now()}
	require.NoError(t, db.Create(&first).Error)

	second := models.Voting{RoomID: roomID, InitiatorID: uuid.New(), TargetID: targetID, RequiredVotes: 2, TotalParticipants: 3, StartedAt: time.Now()}
	err := db.Create(&second).Error
	assert.True(t, database.IsUniqueViolation(err))

	// Once the first one completes a new voting may open
	require.NoError(t, db.Model(&first).Update("is_completed", true).Error)
	third := models.Voting{RoomID: roomID, InitiatorID: uuid.New(), TargetID: targetID, RequiredVotes: 2, TotalParticipants: 3, StartedAt: time.Now()}
	assert.NoError(t, db.Create(&third).Error)
}

func TestOpenRoomMemberIndex(t *testing.T) {
	db := dbtest.New(t)

	roomID, userID := uuid.New(), uuid.New()
	require.NoError(t, db.Create(&models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}).Error)

	err := db.Create(&models.RoomMember{RoomID: roomID, UserID: userID, JoinedAt: time.Now()}).Error
	assert.True(t, database.IsUniqueViolation(err))
}

func TestModerationLogIsAppendOnly(t *testing.T) {
	db := dbtest.New(t)

	entry := models.ModerationLog{Type: models.LogVotingStarted, Details: "started"}
	require.NoError(t, db.Create(&entry).Error)

	entry.Details = "edited"
	err := db.Save(&entry).Error
	assert.True(t, errors.Is(err, models.ErrModerationLogImmutable))

	err = db.Delete(&entry).Error
	assert.True(t, errors.Is(err, models.ErrModerationLogImmutable))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, database.IsUniqueViolation(nil))
	assert.False(t, database.IsUniqueViolation(errors.New("connection reset")))
	assert.True(t, database.IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx_payments_transaction_hash"`)))
}

func TestQueryLoggingSkipsRecordNotFound(t *testing.T) {
	db := dbtest.New(t)

	var buf bytes.Buffer
	std := logrus.StandardLogger()
	out := std.Out
	std.SetOutput(&buf)
	t.Cleanup(func() { std.SetOutput(out) })

	var user models.User
	err := db.First(&user, "id = ?", uuid.New()).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String())

	var rows []map[string]interface{}
	err = db.Raw("SELECT * FROM missing_table").Scan(&rows).Error
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "missing_table")
}
