package app

import (
	"sort"
	"time"

	"quizzer/internal/domain"
)

// ParticipantRegistry tracks the players of one session in join order.
type ParticipantRegistry struct {
	order []*domain.Participant
	byID  map[string]*domain.Participant
}

func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{byID: make(map[string]*domain.Participant)}
}

// Join registers identity. A repeated join returns the existing participant and false.
func (r *ParticipantRegistry) Join(identity string, at time.Time) (domain.Participant, bool) {
	if p, ok := r.byID[identity]; ok {
		return *p, false
	}
	p := &domain.Participant{Identity: identity, JoinedAt: at}
	r.byID[identity] = p
	r.order = append(r.order, p)
	return *p, true
}

func (r *ParticipantRegistry) Get(identity string) (domain.Participant, bool) {
	p, ok := r.byID[identity]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *ParticipantRegistry) Has(identity string) bool {
	_, ok := r.byID[identity]
	return ok
}

func (r *ParticipantRegistry) Len() int {
	return len(r.order)
}

// All returns copies of every participant in join order.
func (r *ParticipantRegistry) All() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, *p)
	}
	return out
}

func (r *ParticipantRegistry) addScore(identity string, points int) {
	if p, ok := r.byID[identity]; ok {
		p.CumulativeScore += points
	}
}

func (r *ParticipantRegistry) markDisconnected(identity string) bool {
	p, ok := r.byID[identity]
	if !ok {
		return false
	}
	p.Disconnected = true
	return true
}

// Standings orders participants by score descending, then by join order.
func (r *ParticipantRegistry) Standings() []domain.Standing {
	return rank(r.All())
}

// rank expects participants in join order.
func rank(participants []domain.Participant) []domain.Standing {
	standings := make([]domain.Standing, 0, len(participants))
	for _, p := range participants {
		standings = append(standings, domain.Standing{Identity: p.Identity, Score: p.CumulativeScore})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})
	return standings
}
