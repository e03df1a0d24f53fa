package domain

import "errors"

var (
	// ErrSessionAlreadyActive is returned when a channel already has a live session.
	ErrSessionAlreadyActive = errors.New("a quiz session is already active in this channel")
	// ErrSessionNotFound is returned when a channel has no live session.
	ErrSessionNotFound = errors.New("no quiz session in this channel")
	// ErrNotJoinable is returned for joins outside the lobby window.
	ErrNotJoinable = errors.New("quiz is not accepting participants")
	// ErrNotStoppable is returned when stopping a session that is already wrapping up.
	ErrNotStoppable = errors.New("quiz can no longer be stopped")
	// ErrCategoryNotFound indicates the question pool has no such category.
	ErrCategoryNotFound = errors.New("category not found")
	// ErrInsufficientQuestions indicates a category holds fewer questions than requested.
	ErrInsufficientQuestions = errors.New("not enough questions in category")
	// ErrInvalidQuestion marks malformed corpus entries.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrInvalidSettings is returned for non-positive counts or durations.
	ErrInvalidSettings = errors.New("invalid session settings")
	// ErrRecordNotFound is returned by score stores for players without a record.
	ErrRecordNotFound = errors.New("no score record for player")
	// ErrEngineClosed is returned once the engine has shut down.
	ErrEngineClosed = errors.New("quiz engine is shut down")
)

// Answer rejections. Each maps to a reason code through RejectReason.
var (
	ErrNotAParticipant = errors.New("not a participant")
	ErrWrongQuestion   = errors.New("answer is for a question that is not active")
	ErrDeadlinePassed  = errors.New("deadline for this question has passed")
	ErrAlreadyAnswered = errors.New("already answered this question")
	ErrRateLimited     = errors.New("answering too fast")
)

const (
	ReasonNotAParticipant = "NotAParticipant"
	ReasonWrongQuestion   = "WrongQuestion"
	ReasonDeadlinePassed  = "DeadlinePassed"
	ReasonAlreadyAnswered = "AlreadyAnswered"
	ReasonRateLimited     = "RateLimited"
)

var rejectReasons = []struct {
	err    error
	reason string
}{
	{ErrNotAParticipant, ReasonNotAParticipant},
	{ErrWrongQuestion, ReasonWrongQuestion},
	{ErrDeadlinePassed, ReasonDeadlinePassed},
	{ErrAlreadyAnswered, ReasonAlreadyAnswered},
	{ErrRateLimited, ReasonRateLimited},
}

// RejectReason returns the reason code of an answer rejection, or "" for other errors.
func RejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}
