// Package apperrors classifies failures of the payment, commission and
// moderation services so the HTTP layer can map them to responses without
// inspecting messages.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a failure
type Kind int

const (
	// KindUnknown covers storage and other unclassified failures
	KindUnknown Kind = iota
	// KindValidation means malformed or missing input; the caller can correct it
	KindValidation
	// KindConflict means a uniqueness or state precondition was violated
	KindConflict
	// KindNotFound means a referenced entity does not exist
	KindNotFound
	// KindInvariant means data reached a state that should be unreachable
	KindInvariant
	// KindForbidden means the caller may not perform the operation
	KindForbidden
	// KindUnauthorized means the caller could not be authenticated
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified failure
type Error struct {
	Kind    Kind
	Message string
	Err     error

	joined bool
}

func (e *Error) Error() string {
	if e.Err != nil && !e.joined {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two classified errors of the same kind and message, so sentinels
// survive wrapping with extra context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation returns a validation error
func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// Conflict returns a conflict error
func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// NotFound returns a not-found error
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Invariant returns an invariant violation
func Invariant(format string, args ...interface{}) *Error {
	return newError(KindInvariant, format, args...)
}

// Forbidden returns a permission error
func Forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, format, args...)
}

// Unauthorized returns an authentication error
func Unauthorized(format string, args ...interface{}) *Error {
	return newError(KindUnauthorized, format, args...)
}

// Wrap attaches a cause to a classified error
func Wrap(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Message: base.Message, Err: cause}
}

// Join reports several failed preconditions of one operation together. The
// result takes the kind of the first error and still matches each of them
// with errors.Is.
func Join(errs ...*Error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}

	msgs := make([]string, len(errs))
	causes := make([]error, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
		causes[i] = e
	}
	return &Error{Kind: errs[0].Kind, Message: strings.Join(msgs, "; "), Err: errors.Join(causes...), joined: true}
}

// KindOf returns the kind of the first classified error in err's chain
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Message returns the user-facing message of a classified error, or
// fallback for anything else.
func Message(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInvariant {
		return appErr.Message
	}
	return fallback
}

var (
	ErrDuplicateTransaction     = Conflict("transaction hash already used")
	ErrPaymentAlreadyCompleted  = Conflict("payment already verified")
	ErrPaymentNotCompleted      = Conflict("payment is not completed")
	ErrAlreadyVoted             = Conflict("you have already voted in this voting")
	ErrVotingCompleted          = Conflict("voting is already completed")
	ErrVotingExpired            = Conflict("voting has expired")
	ErrSelfVote                 = Conflict("you cannot vote against yourself")
	ErrInsufficientParticipants = Conflict("not enough participants for a voting")
	ErrVotingInProgress         = Conflict("there is already an active voting for this user")
	ErrCooldownActive           = Conflict("you must wait before starting another voting")
	ErrNotRoomMember            = Conflict("user is not in the room")
	ErrInitiatorNotInRoom       = Conflict("you must be in the room to start a voting")
	ErrTargetNotInRoom          = Conflict("target user is not in the room")
	ErrAlreadyInRoom            = Conflict("user is already in the room")
	ErrRoomFull                 = Conflict("room is full")
	ErrRoomInactive             = Conflict("room is not active")
	ErrExpelledFromRoom         = Conflict("user was expelled from this room")
	ErrMembershipRequired       = Conflict("active membership required")
	ErrInvalidCredentials       = Unauthorized("invalid credentials")
)
