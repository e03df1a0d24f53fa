package domain

import (
	"sort"
	"time"
)

// SessionState is the lifecycle position of a channel's quiz session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateLobby      SessionState = "lobby"
	StateInProgress SessionState = "in_progress"
	StateEnding     SessionState = "ending"
	StateTerminated SessionState = "terminated"
	StateCancelled  SessionState = "cancelled"
)

// Live reports whether the state still owns the channel.
func (s SessionState) Live() bool {
	return s == StateLobby || s == StateInProgress || s == StateEnding
}

// Question is a multiple choice question with 2 to 4 lettered options.
type Question struct {
	Category      string            `json:"category"`
	Prompt        string            `json:"prompt"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correctOption"`
}

// Letters returns the option keys in display order.
func (q Question) Letters() []string {
	letters := make([]string, 0, len(q.Options))
	for k := range q.Options {
		letters = append(letters, k)
	}
	sort.Strings(letters)
	return letters
}

// Validate checks the option count and that the correct option exists.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return ErrInvalidQuestion
	}
	if len(q.Options) < 2 || len(q.Options) > 4 {
		return ErrInvalidQuestion
	}
	if _, ok := q.Options[q.CorrectOption]; !ok {
		return ErrInvalidQuestion
	}
	return nil
}

// Participant is a player registered in one session.
type Participant struct {
	Identity        string    `json:"identity"`
	JoinedAt        time.Time `json:"joinedAt"`
	CumulativeScore int       `json:"cumulativeScore"`
	Disconnected    bool      `json:"disconnected,omitempty"`
}

// AnswerSubmission is a recorded answer for one question.
type AnswerSubmission struct {
	ParticipantIdentity string    `json:"participantIdentity"`
	QuestionIndex       int       `json:"questionIndex"`
	ChosenOption        string    `json:"chosenOption"`
	SubmittedAt         time.Time `json:"submittedAt"`
	IsCorrect           bool      `json:"isCorrect"`
	PointsAwarded       int       `json:"pointsAwarded"`
}

// ScoreRecord is the persisted all-time record of a player.
type ScoreRecord struct {
	Identity               string    `json:"identity"`
	TotalScore             int       `json:"totalScore"`
	GamesPlayed            int       `json:"gamesPlayed"`
	HighestSingleGameScore int       `json:"highestSingleGameScore"`
	LastPlayedAt           time.Time `json:"lastPlayedAt"`
}

// Standing is one row of an ordered scoreboard.
type Standing struct {
	Identity string `json:"identity"`
	Score    int    `json:"score"`
}

// QuestionResult is how a single participant did on a closed question.
type QuestionResult struct {
	Identity     string `json:"identity"`
	Answered     bool   `json:"answered"`
	ChosenOption string `json:"chosenOption,omitempty"`
	Correct      bool   `json:"correct"`
	Points       int    `json:"points"`
}

// SessionSnapshot is a read-only view of a live session.
type SessionSnapshot struct {
	ID            string        `json:"id"`
	Channel       string        `json:"channel"`
	Category      string        `json:"category"`
	State         SessionState  `json:"state"`
	QuestionCount int           `json:"questionCount"`
	CurrentIndex  int           `json:"currentIndex"`
	TimeLimit     time.Duration `json:"timeLimit"`
	CreatedAt     time.Time     `json:"createdAt"`
	Participants  []Participant `json:"participants"`
	Standings     []Standing    `json:"standings"`
}

// ApplyGame folds one finished game into rec.
func ApplyGame(rec ScoreRecord, identity string, gameScore int, playedAt time.Time) ScoreRecord {
	rec.Identity = identity
	rec.TotalScore += gameScore
	rec.GamesPlayed++
	if gameScore > rec.HighestSingleGameScore {
		rec.HighestSingleGameScore = gameScore
	}
	rec.LastPlayedAt = playedAt
	return rec
}

// SortRecords orders records by total score descending, then identity.
func SortRecords(records []ScoreRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].TotalScore != records[j].TotalScore {
			return records[i].TotalScore > records[j].TotalScore
		}
		return records[i].Identity < records[j].Identity
	})
}
