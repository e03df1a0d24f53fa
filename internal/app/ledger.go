package app

import (
	"time"

	"quizzer/internal/domain"
)

// AnswerLedger records at most one answer per participant per question.
//
// Answers to the open question stay pending until Close, which is the only
// place points reach the participant registry. Discard drops them, so an
// interrupted question never contributes to any score.
type AnswerLedger struct {
	participants *ParticipantRegistry
	points       func(correct bool) int

	active     int
	open       bool
	deadlineAt time.Time
	pending    map[string]domain.AnswerSubmission
	counted    []domain.AnswerSubmission
}

func NewAnswerLedger(participants *ParticipantRegistry, points func(correct bool) int) *AnswerLedger {
	return &AnswerLedger{
		participants: participants,
		points:       points,
		active:       LobbyIndex,
		pending:      make(map[string]domain.AnswerSubmission),
	}
}

// Open starts accepting answers for index until deadlineAt.
func (l *AnswerLedger) Open(index int, deadlineAt time.Time) {
	l.active = index
	l.open = true
	l.deadlineAt = deadlineAt
	l.pending = make(map[string]domain.AnswerSubmission)
}

// Check reports why an answer would be rejected, or nil when RecordIfFirst
// would accept it. Submissions at or after the deadline instant are rejected
// even if the expiry has not been processed yet.
func (l *AnswerLedger) Check(identity string, index int, at time.Time) error {
	if !l.participants.Has(identity) {
		return domain.ErrNotAParticipant
	}
	if err := l.checkWindow(index, at); err != nil {
		return err
	}
	if _, ok := l.pending[identity]; ok {
		return domain.ErrAlreadyAnswered
	}
	return nil
}

// RecordIfFirst validates and stores an answer.
func (l *AnswerLedger) RecordIfFirst(identity string, index int, option, correctOption string, at time.Time) (domain.AnswerSubmission, error) {
	if err := l.Check(identity, index, at); err != nil {
		return domain.AnswerSubmission{}, err
	}

	correct := option == correctOption
	sub := domain.AnswerSubmission{
		ParticipantIdentity: identity,
		QuestionIndex:       index,
		ChosenOption:        option,
		SubmittedAt:         at,
		IsCorrect:           correct,
		PointsAwarded:       l.points(correct),
	}
	l.pending[identity] = sub
	return sub, nil
}

func (l *AnswerLedger) checkWindow(index int, at time.Time) error {
	switch {
	case l.active == LobbyIndex:
		return domain.ErrWrongQuestion
	case index != l.active:
		return domain.ErrWrongQuestion
	case !l.open:
		return domain.ErrDeadlinePassed
	case !at.Before(l.deadlineAt):
		return domain.ErrDeadlinePassed
	}
	return nil
}

// Close stops the active question and credits its pending answers.
// It returns the submissions in participant join order.
func (l *AnswerLedger) Close() []domain.AnswerSubmission {
	if !l.open {
		return nil
	}
	l.open = false

	closed := make([]domain.AnswerSubmission, 0, len(l.pending))
	for _, p := range l.participants.All() {
		sub, ok := l.pending[p.Identity]
		if !ok {
			continue
		}
		l.participants.addScore(sub.ParticipantIdentity, sub.PointsAwarded)
		closed = append(closed, sub)
	}
	l.counted = append(l.counted, closed...)
	l.pending = make(map[string]domain.AnswerSubmission)
	return closed
}

// Discard stops the active question without crediting anything.
func (l *AnswerLedger) Discard() {
	l.open = false
	l.pending = make(map[string]domain.AnswerSubmission)
}

// Counted returns every submission that has been credited so far.
func (l *AnswerLedger) Counted() []domain.AnswerSubmission {
	out := make([]domain.AnswerSubmission, len(l.counted))
	copy(out, l.counted)
	return out
}
