package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quizzer/internal/app"
	"quizzer/internal/app/apptest"
	"quizzer/internal/domain"
	"quizzer/internal/infra/memory"
)

const channel = "#quiz"

var epoch = time.Date(2026, 10, 17, 20, 0, 0, 0, time.UTC)

type harness struct {
	engine *app.Engine
	clock  *apptest.Clock
	events *apptest.Recorder
	scores *memory.ScoreStore
}

func newHarness(t *testing.T, opts ...func(*app.Config)) *harness {
	t.Helper()
	h := &harness{
		clock:  apptest.NewClock(epoch),
		events: &apptest.Recorder{},
		scores: memory.NewScoreStore(),
	}
	cfg := app.Config{
		Pool:     fixedPool{questions: testQuestions()},
		Registry: memory.NewSessionStore(),
		Scores:   h.scores,
		Notifier: h.events,
		Settings: app.Settings{
			LobbyDuration:   30 * time.Second,
			PointsPerAnswer: 1,
			PersistRetries:  1,
			RetryInterval:   time.Millisecond,
		},
		TimerFunc: h.clock.AfterFunc,
		Now:       h.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h.engine = app.NewEngine(cfg)
	t.Cleanup(func() { _ = h.engine.Shutdown(context.Background()) })
	return h
}

// advance fires due timers and waits until the session has handled them.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.sync(channel)
}

func (h *harness) sync(ch string) {
	_, _ = h.engine.Snapshot(context.Background(), ch)
}

func (h *harness) start(t *testing.T, count int, players ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.engine.StartSession(ctx, channel, app.StartOptions{Category: "General", QuestionCount: count, TimeLimit: 15 * time.Second})
	require.NoError(t, err)
	for _, p := range players {
		added, err := h.engine.Join(ctx, channel, p)
		require.NoError(t, err)
		require.True(t, added)
	}
}

func (h *harness) submit(t *testing.T, who string, index int, option string) (domain.AnswerSubmission, error) {
	t.Helper()
	return h.engine.Submit(context.Background(), channel, who, index, option)
}

type fixedPool struct {
	questions []domain.Question
	err       error
}

func (p fixedPool) PickQuestions(_ context.Context, _ string, count int) ([]domain.Question, error) {
	if p.err != nil {
		return nil, p.err
	}
	if count > len(p.questions) {
		return nil, domain.ErrInsufficientQuestions
	}
	return p.questions[:count], nil
}

func (p fixedPool) Categories(context.Context) ([]string, error) {
	return []string{"General"}, nil
}

func testQuestions() []domain.Question {
	options := map[string]string{"A": "one", "B": "two", "C": "three"}
	return []domain.Question{
		{Category: "General", Prompt: "First?", Options: options, CorrectOption: "A"},
		{Category: "General", Prompt: "Second?", Options: options, CorrectOption: "B"},
		{Category: "General", Prompt: "Third?", Options: options, CorrectOption: "C"},
	}
}

func TestFullGameScoresAndPersists(t *testing.T) {
	h := newHarness(t)
	h.start(t, 3, "alice", "bob")

	snap, err := h.engine.Snapshot(context.Background(), channel)
	require.NoError(t, err)
	require.Equal(t, domain.StateLobby, snap.State)

	h.advance(30 * time.Second)

	sub, err := h.submit(t, "alice", 0, "a")
	require.NoError(t, err)
	require.True(t, sub.IsCorrect)
	require.Equal(t, 1, sub.PointsAwarded)
	sub, err = h.submit(t, "bob", 0, "B")
	require.NoError(t, err)
	require.False(t, sub.IsCorrect)
	h.advance(15 * time.Second)

	_, err = h.submit(t, "alice", 1, "B")
	require.NoError(t, err)
	_, err = h.submit(t, "bob", 1, "B")
	require.NoError(t, err)
	h.advance(15 * time.Second)

	_, err = h.submit(t, "alice", 2, "C")
	require.NoError(t, err)
	h.advance(15 * time.Second)

	require.Equal(t, []string{
		domain.EventNameSessionAnnounced,
		domain.EventNameParticipantJoined,
		domain.EventNameParticipantJoined,
		domain.EventNameQuestionAsked,
		domain.EventNameQuestionClosed,
		domain.EventNameQuestionAsked,
		domain.EventNameQuestionClosed,
		domain.EventNameQuestionAsked,
		domain.EventNameQuestionClosed,
		domain.EventNameSessionEnded,
	}, h.events.Names())

	e, ok := h.events.Last(domain.EventNameSessionEnded)
	require.True(t, ok)
	ended := e.(domain.EventSessionEnded)
	require.Equal(t, []domain.Standing{{Identity: "alice", Score: 3}, {Identity: "bob", Score: 1}}, ended.FinalStandings)
	require.Equal(t, []string{"alice"}, ended.Winners)

	rec, err := h.scores.GetRecord(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 3, rec.TotalScore)
	require.Equal(t, 1, rec.GamesPlayed)
	require.Equal(t, 3, rec.HighestSingleGameScore)

	rec, err = h.scores.GetRecord(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, 1, rec.TotalScore)

	require.Empty(t, h.engine.ActiveChannels())
}

func TestQuestionClosedReportsEveryParticipant(t *testing.T) {
	h := newHarness(t)
	h.start(t, 1, "alice", "bob")
	h.advance(30 * time.Second)

	_, err := h.submit(t, "bob", 0, "A")
	require.NoError(t, err)
	h.advance(15 * time.Second)

	e, ok := h.events.Last(domain.EventNameQuestionClosed)
	require.True(t, ok)
	closed := e.(domain.EventQuestionClosed)
	require.Equal(t, "A", closed.CorrectOption)
	require.Equal(t, "one", closed.CorrectText)
	require.Equal(t, []domain.QuestionResult{
		{Identity: "alice"},
		{Identity: "bob", Answered: true, ChosenOption: "A", Correct: true, Points: 1},
	}, closed.Results)
	require.Equal(t, []domain.Standing{{Identity: "bob", Score: 1}, {Identity: "alice", Score: 0}}, closed.Standings)
}

func TestLobbyWithoutParticipantsCancels(t *testing.T) {
	h := newHarness(t)
	h.start(t, 2)
	h.advance(30 * time.Second)

	require.Equal(t, []string{domain.EventNameSessionAnnounced, domain.EventNameSessionCancelled}, h.events.Names())
	e, _ := h.events.Last(domain.EventNameSessionCancelled)
	cancelled := e.(domain.EventSessionCancelled)
	require.Equal(t, domain.CancelNoParticipants, cancelled.Reason)
	require.Empty(t, cancelled.PartialStandings)
	require.Empty(t, h.engine.ActiveChannels())

	_, err := h.engine.StartSession(context.Background(), channel, app.StartOptions{QuestionCount: 1, TimeLimit: time.Second})
	require.NoError(t, err)
}

func TestStopMidQuestionDiscardsOpenAnswers(t *testing.T) {
	h := newHarness(t)
	h.start(t, 3, "alice", "bob")
	h.advance(30 * time.Second)

	_, err := h.submit(t, "alice", 0, "A")
	require.NoError(t, err)
	h.advance(15 * time.Second)

	_, err = h.submit(t, "alice", 1, "B")
	require.NoError(t, err)
	require.NoError(t, h.engine.StopGame(context.Background(), channel))

	require.Equal(t, 1, h.events.Count(domain.EventNameQuestionClosed))
	require.Equal(t, 0, h.events.Count(domain.EventNameSessionEnded))
	e, ok := h.events.Last(domain.EventNameSessionCancelled)
	require.True(t, ok)
	cancelled := e.(domain.EventSessionCancelled)
	require.Equal(t, domain.CancelStopped, cancelled.Reason)
	require.Equal(t, []domain.Standing{{Identity: "alice", Score: 1}, {Identity: "bob", Score: 0}}, cancelled.PartialStandings)

	_, err = h.scores.GetRecord(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrRecordNotFound)
	require.Zero(t, h.clock.Pending())

	_, err = h.submit(t, "alice", 1, "B")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.ErrorIs(t, h.engine.StopGame(context.Background(), channel), domain.ErrSessionNotFound)

	// a late expiry of the cancelled countdown must not revive anything
	h.advance(time.Minute)
	require.Equal(t, 1, h.events.Count(domain.EventNameQuestionClosed))
}

func TestStopDuringLobby(t *testing.T) {
	h := newHarness(t)
	h.start(t, 1)
	require.NoError(t, h.engine.StopGame(context.Background(), channel))

	e, _ := h.events.Last(domain.EventNameSessionCancelled)
	require.Equal(t, domain.CancelStopped, e.(domain.EventSessionCancelled).Reason)
	require.Empty(t, h.engine.ActiveChannels())
}

func TestDeadlineWinsOverSameInstantAnswer(t *testing.T) {
	h := newHarness(t)
	h.start(t, 1, "alice")
	h.advance(30 * time.Second)

	h.clock.Move(15 * time.Second)
	_, err := h.submit(t, "alice", 0, "A")
	require.ErrorIs(t, err, domain.ErrDeadlinePassed)
	require.Equal(t, domain.ReasonDeadlinePassed, domain.RejectReason(err))

	h.advance(0)
	e, _ := h.events.Last(domain.EventNameSessionEnded)
	require.Equal(t, []domain.Standing{{Identity: "alice", Score: 0}}, e.(domain.EventSessionEnded).FinalStandings)
}

func TestJoinRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Join(ctx, channel, "alice")
	require.ErrorIs(t, err, domain.ErrNotJoinable)

	h.start(t, 1, "alice")
	added, err := h.engine.Join(ctx, channel, "alice")
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, h.events.Count(domain.EventNameParticipantJoined))

	h.advance(30 * time.Second)
	_, err = h.engine.Join(ctx, channel, "carol")
	require.ErrorIs(t, err, domain.ErrNotJoinable)

	snap, err := h.engine.Snapshot(ctx, channel)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	require.Equal(t, domain.StateInProgress, snap.State)
	require.Equal(t, 0, snap.CurrentIndex)
}

func TestSubmitRejections(t *testing.T) {
	h := newHarness(t)
	h.start(t, 3, "alice", "bob")

	_, err := h.submit(t, "alice", 0, "A")
	require.ErrorIs(t, err, domain.ErrWrongQuestion, "no question is open in the lobby")

	h.advance(30 * time.Second)

	_, err = h.submit(t, "carol", 0, "A")
	require.ErrorIs(t, err, domain.ErrNotAParticipant)
	_, err = h.submit(t, "alice", 1, "A")
	require.ErrorIs(t, err, domain.ErrWrongQuestion)
	_, err = h.submit(t, "alice", -1, "A")
	require.ErrorIs(t, err, domain.ErrWrongQuestion)

	h.advance(15 * time.Second)
	_, err = h.submit(t, "alice", 0, "A")
	require.ErrorIs(t, err, domain.ErrWrongQuestion, "an earlier question is a mismatch, not a late answer")
	require.Equal(t, domain.ReasonWrongQuestion, domain.RejectReason(err))

	first, err := h.submit(t, "alice", 1, "C")
	require.NoError(t, err)
	require.False(t, first.IsCorrect)
	_, err = h.submit(t, "alice", 1, "B")
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)
	require.Equal(t, domain.ReasonAlreadyAnswered, domain.RejectReason(err))

	sub, err := h.submit(t, "bob", 1, "Z")
	require.NoError(t, err, "unknown letters count as wrong answers")
	require.False(t, sub.IsCorrect)

	h.advance(15 * time.Second)
	snap, err := h.engine.Snapshot(context.Background(), channel)
	require.NoError(t, err)
	for _, st := range snap.Standings {
		require.Zero(t, st.Score)
	}
}

func TestRateLimitDoesNotConsumeAnswer(t *testing.T) {
	h := newHarness(t, func(c *app.Config) { c.Settings.RateLimit = 20 * time.Second })
	h.start(t, 2, "alice")
	h.advance(30 * time.Second)

	_, err := h.submit(t, "alice", 0, "A")
	require.NoError(t, err)
	_, err = h.submit(t, "alice", 0, "A")
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered, "duplicates are reported before the cooldown")

	h.advance(15 * time.Second)
	h.clock.Move(time.Second)
	_, err = h.submit(t, "alice", 1, "B")
	require.ErrorIs(t, err, domain.ErrRateLimited)

	h.clock.Move(5 * time.Second)
	sub, err := h.submit(t, "alice", 1, "B")
	require.NoError(t, err)
	require.True(t, sub.IsCorrect)
}

func TestSecondAnswerIsAlreadyAnsweredUnderRateLimit(t *testing.T) {
	h := newHarness(t, func(c *app.Config) { c.Settings.RateLimit = time.Second })
	h.start(t, 1, "alice", "bob")
	h.advance(30 * time.Second)

	first, err := h.submit(t, "alice", 0, "B")
	require.NoError(t, err)
	require.False(t, first.IsCorrect)

	_, err = h.submit(t, "alice", 0, "A")
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)
	require.Equal(t, domain.ReasonAlreadyAnswered, domain.RejectReason(err))

	_, err = h.submit(t, "bob", 0, "A")
	require.NoError(t, err, "the cooldown is per participant")

	h.advance(15 * time.Second)
	e, ok := h.events.Last(domain.EventNameSessionEnded)
	require.True(t, ok)
	require.Equal(t, []domain.Standing{{Identity: "bob", Score: 1}, {Identity: "alice", Score: 0}}, e.(domain.EventSessionEnded).FinalStandings)
}

type renewingRegistry struct {
	*memory.SessionStore
	renewed atomic.Int32
}

func (r *renewingRegistry) Renew(string, *app.Session) { r.renewed.Add(1) }

func TestEveryQuestionRenewsTheChannelClaim(t *testing.T) {
	registry := &renewingRegistry{SessionStore: memory.NewSessionStore()}
	h := newHarness(t, func(c *app.Config) { c.Registry = registry })
	h.start(t, 2, "alice")

	h.advance(30 * time.Second)
	require.EqualValues(t, 1, registry.renewed.Load())
	h.advance(15 * time.Second)
	require.EqualValues(t, 2, registry.renewed.Load())
	h.advance(15 * time.Second)
	require.EqualValues(t, 2, registry.renewed.Load())
}

func TestStartSessionErrorsLeaveChannelIdle(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, func(c *app.Config) { c.Pool = fixedPool{err: domain.ErrCategoryNotFound} })
	_, err := h.engine.StartSession(ctx, channel, app.StartOptions{Category: "Nope", QuestionCount: 1, TimeLimit: time.Second})
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
	require.Empty(t, h.engine.ActiveChannels())
	require.Empty(t, h.events.Events())

	h = newHarness(t)
	_, err = h.engine.StartSession(ctx, channel, app.StartOptions{QuestionCount: 4, TimeLimit: time.Second})
	require.ErrorIs(t, err, domain.ErrInsufficientQuestions)
	_, err = h.engine.StartSession(ctx, channel, app.StartOptions{QuestionCount: 0, TimeLimit: time.Second})
	require.ErrorIs(t, err, domain.ErrInvalidSettings)
	_, err = h.engine.StartSession(ctx, channel, app.StartOptions{QuestionCount: 1})
	require.ErrorIs(t, err, domain.ErrInvalidSettings)
	require.Empty(t, h.engine.ActiveChannels())
}

func TestOneSessionPerChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	opts := app.StartOptions{QuestionCount: 1, TimeLimit: time.Second}

	_, err := h.engine.StartSession(ctx, channel, opts)
	require.NoError(t, err)
	_, err = h.engine.StartSession(ctx, channel, opts)
	require.ErrorIs(t, err, domain.ErrSessionAlreadyActive)

	_, err = h.engine.StartSession(ctx, "#other", opts)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{channel, "#other"}, h.engine.ActiveChannels())
}

func TestConcurrentStartsClaimOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.StartSession(ctx, channel, app.StartOptions{QuestionCount: 1, TimeLimit: time.Second})
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrSessionAlreadyActive) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
	require.Equal(t, 1, h.events.Count(domain.EventNameSessionAnnounced))
}

func TestConcurrentAnswersRecordedOnce(t *testing.T) {
	h := newHarness(t)
	players := make([]string, 10)
	for i := range players {
		players[i] = fmt.Sprintf("player%d", i)
	}
	h.start(t, 1, players...)
	h.advance(30 * time.Second)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for _, p := range players {
		p := p
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.submit(t, p, 0, "A"); err == nil {
					accepted.Add(1)
				}
			}()
		}
	}
	wg.Wait()
	require.EqualValues(t, len(players), accepted.Load())

	h.advance(15 * time.Second)
	e, _ := h.events.Last(domain.EventNameSessionEnded)
	for _, st := range e.(domain.EventSessionEnded).FinalStandings {
		require.Equal(t, 1, st.Score)
	}
	require.Len(t, e.(domain.EventSessionEnded).Winners, len(players))
}

func TestTransportLostCancelsWithPartialStandings(t *testing.T) {
	h := newHarness(t)
	h.start(t, 2, "alice")
	h.advance(30 * time.Second)

	require.NoError(t, h.engine.TransportLost(context.Background(), channel))
	e, _ := h.events.Last(domain.EventNameSessionCancelled)
	cancelled := e.(domain.EventSessionCancelled)
	require.Equal(t, domain.CancelTransportLost, cancelled.Reason)
	require.Equal(t, []domain.Standing{{Identity: "alice", Score: 0}}, cancelled.PartialStandings)
}

func TestParticipantDisconnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.engine.ParticipantDisconnected(ctx, channel, "alice"), domain.ErrSessionNotFound)

	h.start(t, 1, "alice", "bob")
	require.NoError(t, h.engine.ParticipantDisconnected(ctx, channel, "bob"))
	require.ErrorIs(t, h.engine.ParticipantDisconnected(ctx, channel, "carol"), domain.ErrNotAParticipant)

	snap, err := h.engine.Snapshot(ctx, channel)
	require.NoError(t, err)
	require.False(t, snap.Participants[0].Disconnected)
	require.True(t, snap.Participants[1].Disconnected)

	// a disconnected participant keeps playing under the same identity
	h.advance(30 * time.Second)
	_, err = h.submit(t, "bob", 0, "A")
	require.NoError(t, err)
}

func TestShutdownCancelsEverySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	opts := app.StartOptions{QuestionCount: 1, TimeLimit: time.Second}

	_, err := h.engine.StartSession(ctx, "#a", opts)
	require.NoError(t, err)
	_, err = h.engine.StartSession(ctx, "#b", opts)
	require.NoError(t, err)

	require.NoError(t, h.engine.Shutdown(ctx))
	require.Equal(t, 2, h.events.Count(domain.EventNameSessionCancelled))
	e, _ := h.events.Last(domain.EventNameSessionCancelled)
	require.Equal(t, domain.CancelShutdown, e.(domain.EventSessionCancelled).Reason)
	require.Empty(t, h.engine.ActiveChannels())

	_, err = h.engine.StartSession(ctx, "#a", opts)
	require.ErrorIs(t, err, domain.ErrEngineClosed)
}

type flakyStore struct {
	*memory.ScoreStore
	failFor  string
	attempts atomic.Int32
}

func (s *flakyStore) UpdateScore(ctx context.Context, identity string, score int, at time.Time) error {
	if identity == s.failFor {
		s.attempts.Add(1)
		return errors.New("disk full")
	}
	return s.ScoreStore.UpdateScore(ctx, identity, score, at)
}

func TestPersistFailureIsIsolated(t *testing.T) {
	store := &flakyStore{ScoreStore: memory.NewScoreStore(), failFor: "bob"}
	h := newHarness(t, func(c *app.Config) {
		c.Scores = store
		c.Settings.PersistRetries = 2
	})
	h.start(t, 1, "alice", "bob")
	h.advance(30 * time.Second)
	_, err := h.submit(t, "alice", 0, "A")
	require.NoError(t, err)
	h.advance(15 * time.Second)

	require.Equal(t, 1, h.events.Count(domain.EventNameSessionEnded))
	rec, err := store.GetRecord(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, rec.TotalScore)
	require.EqualValues(t, 3, store.attempts.Load())
	require.Empty(t, h.engine.ActiveChannels())
}

func TestLeaderboardReadsScoreStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scores.UpdateScore(ctx, "alice", 5, epoch))
	require.NoError(t, h.scores.UpdateScore(ctx, "bob", 7, epoch))

	top, err := h.engine.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "bob", top[0].Identity)

	rec, err := h.engine.Record(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 5, rec.TotalScore)
}
