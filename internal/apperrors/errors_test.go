package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConflict, KindOf(ErrAlreadyVoted))
	assert.Equal(t, KindValidation, KindOf(Validation("bad amount %s", "x")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("loading voting: %w", NotFound("voting not found"))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("connection refused")))
}

func TestSentinelSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("cast vote: %w", Wrap(ErrAlreadyVoted, errors.New("UNIQUE constraint failed")))

	assert.True(t, errors.Is(err, ErrAlreadyVoted))
	assert.False(t, errors.Is(err, ErrVotingCompleted))
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestMessageHidesInvariants(t *testing.T) {
	assert.Equal(t, "room is full", Message(ErrRoomFull, "internal error"))
	assert.Equal(t, "internal error", Message(Invariant("sponsor cycle at %s", "u1"), "internal error"))
	assert.Equal(t, "internal error", Message(errors.New("boom"), "internal error"))
}

func TestJoinKeepsEveryViolation(t *testing.T) {
	err := Join(ErrSelfVote, ErrInsufficientParticipants)

	assert.ErrorIs(t, err, ErrSelfVote)
	assert.ErrorIs(t, err, ErrInsufficientParticipants)
	assert.NotErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "you cannot vote against yourself; not enough participants for a voting", err.Error())
	assert.Equal(t, err.Error(), Message(err, "internal error"))

	assert.Same(t, ErrRoomFull, Join(ErrRoomFull))
	assert.Nil(t, Join())
}
