package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
	"quizzer/internal/metrics"
)

const (
	eventQueueSize = 64
	notifyTimeout  = 5 * time.Second
)

type cancelRequest struct {
	reason string
	reply  chan error
}

// Session is the state machine of one quiz in one channel.
//
// All state is owned by the goroutine started in run. Commands and timer
// expiries share a FIFO queue; cancellations use a separate queue that is
// drained before every event, so a stop that arrives together with a
// deadline always wins.
type Session struct {
	id        string
	channel   string
	category  string
	questions []domain.Question
	timeLimit time.Duration
	createdAt time.Time
	settings  Settings
	now       func() time.Time

	state      domain.SessionState
	current    int
	deadlineAt time.Time
	lastAnswer map[string]time.Time

	participants *ParticipantRegistry
	ledger       *AnswerLedger
	scheduler    *Scheduler
	aggregator   *ScoreAggregator
	notifier     Notifier

	events    chan func()
	cancel    chan cancelRequest
	stopReply chan error
	done      chan struct{}
	onExit    func(*Session)
	onAsk     func(*Session)
}

type sessionParams struct {
	id         string
	channel    string
	category   string
	questions  []domain.Question
	timeLimit  time.Duration
	settings   Settings
	after      TimerFunc
	now        func() time.Time
	aggregator *ScoreAggregator
	notifier   Notifier
	onExit     func(*Session)
	onAsk      func(*Session)
}

func newSession(p sessionParams) *Session {
	if p.now == nil {
		p.now = time.Now
	}
	if p.notifier == nil {
		p.notifier = nopNotifier{}
	}
	s := &Session{
		id:           p.id,
		channel:      p.channel,
		category:     p.category,
		questions:    p.questions,
		timeLimit:    p.timeLimit,
		createdAt:    p.now(),
		settings:     p.settings,
		now:          p.now,
		state:        domain.StateIdle,
		current:      LobbyIndex,
		lastAnswer:   make(map[string]time.Time),
		participants: NewParticipantRegistry(),
		aggregator:   p.aggregator,
		notifier:     p.notifier,
		events:       make(chan func(), eventQueueSize),
		cancel:       make(chan cancelRequest, 1),
		done:         make(chan struct{}),
		onExit:       p.onExit,
		onAsk:        p.onAsk,
	}
	s.ledger = NewAnswerLedger(s.participants, s.aggregator.PointsFor)
	s.scheduler = newScheduler(p.after, s.deliverDeadline)
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Channel() string { return s.channel }

// Done is closed once the session has left the channel.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) deliverDeadline(d deadline) {
	select {
	case s.events <- func() { s.onDeadline(d) }:
	case <-s.done:
	}
}

// open moves Idle to Lobby. It runs before the goroutine starts.
func (s *Session) open() {
	s.state = domain.StateLobby
	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()
	logger.Info("session announced", "channel", s.channel, "session", s.id, "category", s.category, "questions", len(s.questions))

	s.notify(domain.EventSessionAnnounced{
		Header:        s.header(),
		Category:      s.category,
		QuestionCount: len(s.questions),
		LobbySeconds:  seconds(s.settings.LobbyDuration),
	})
	s.scheduler.Arm(LobbyIndex, s.settings.LobbyDuration)
}

func (s *Session) run() {
	defer s.exit()

	for s.state.Live() {
		select {
		case c := <-s.cancel:
			s.handleCancel(c)
			continue
		default:
		}

		select {
		case c := <-s.cancel:
			s.handleCancel(c)
		case fn := <-s.events:
			fn()
		}
	}
}

// exit releases the channel before acknowledging a stop, so a caller that
// saw StopGame return can start a new session right away.
func (s *Session) exit() {
	s.scheduler.Disarm()
	if s.onExit != nil {
		s.onExit(s)
	}
	if s.stopReply != nil {
		s.stopReply <- nil
	}
	close(s.done)
	metrics.ActiveSessions.Dec()
	metrics.SessionsFinished.WithLabelValues(string(s.state)).Inc()
	logger.Info("session closed", "channel", s.channel, "session", s.id, "state", s.state)
}

// call runs fn on the session goroutine and waits for its result.
func call[T any](ctx context.Context, s *Session, fn func() T) (T, error) {
	var zero T
	reply := make(chan T, 1)

	select {
	case s.events <- func() { reply <- fn() }:
	case <-s.done:
		return zero, domain.ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrSessionNotFound
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Session) requestCancel(ctx context.Context, reason string) error {
	req := cancelRequest{reason: reason, reply: make(chan error, 1)}

	select {
	case s.cancel <- req:
	case <-s.done:
		return domain.ErrSessionNotFound
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.done:
		select {
		case err := <-req.reply:
			return err
		default:
			return domain.ErrSessionNotFound
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type joinResult struct {
	added bool
	err   error
}

func (s *Session) join(identity string) joinResult {
	if s.state != domain.StateLobby {
		return joinResult{err: domain.ErrNotJoinable}
	}
	_, added := s.participants.Join(identity, s.now())
	if added {
		logger.Debug("participant joined", "channel", s.channel, "identity", identity)
		s.notify(domain.EventParticipantJoined{Header: s.header(), Identity: identity})
	}
	return joinResult{added: added}
}

type submitResult struct {
	sub domain.AnswerSubmission
	err error
}

func (s *Session) submit(identity string, index int, option string) submitResult {
	now := s.now()
	option = strings.ToUpper(strings.TrimSpace(option))

	if err := s.ledger.Check(identity, index, now); err != nil {
		metrics.Answers.WithLabelValues(domain.RejectReason(err)).Inc()
		return submitResult{err: err}
	}
	// only answers that would count are throttled
	if s.throttled(identity, now) {
		metrics.Answers.WithLabelValues(domain.ReasonRateLimited).Inc()
		return submitResult{err: domain.ErrRateLimited}
	}

	correct := ""
	if index >= 0 && index < len(s.questions) {
		correct = s.questions[index].CorrectOption
	}
	sub, err := s.ledger.RecordIfFirst(identity, index, option, correct, now)
	if err != nil {
		metrics.Answers.WithLabelValues(domain.RejectReason(err)).Inc()
		return submitResult{err: err}
	}
	if sub.IsCorrect {
		metrics.Answers.WithLabelValues("correct").Inc()
	} else {
		metrics.Answers.WithLabelValues("wrong").Inc()
	}
	return submitResult{sub: sub}
}

// throttled applies the per-participant answer cooldown and records the attempt.
func (s *Session) throttled(identity string, now time.Time) bool {
	if s.settings.RateLimit <= 0 {
		return false
	}
	if last, ok := s.lastAnswer[identity]; ok && now.Sub(last) < s.settings.RateLimit {
		return true
	}
	s.lastAnswer[identity] = now
	return false
}

func (s *Session) disconnect(identity string) error {
	if !s.participants.markDisconnected(identity) {
		return domain.ErrNotAParticipant
	}
	logger.Info("participant disconnected", "channel", s.channel, "session", s.id, "identity", identity)
	return nil
}

func (s *Session) snapshot() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		ID:            s.id,
		Channel:       s.channel,
		Category:      s.category,
		State:         s.state,
		QuestionCount: len(s.questions),
		CurrentIndex:  s.current,
		TimeLimit:     s.timeLimit,
		CreatedAt:     s.createdAt,
		Participants:  s.participants.All(),
		Standings:     s.participants.Standings(),
	}
}

func (s *Session) onDeadline(d deadline) {
	if !s.scheduler.Accept(d) {
		return
	}
	switch {
	case s.state == domain.StateLobby && d.index == LobbyIndex:
		s.closeLobby()
	case s.state == domain.StateInProgress && d.index == s.current:
		s.closeQuestion()
	}
}

func (s *Session) closeLobby() {
	if s.participants.Len() == 0 {
		logger.Info("lobby closed without participants", "channel", s.channel, "session", s.id)
		s.cancelWith(domain.CancelNoParticipants)
		return
	}
	s.state = domain.StateInProgress
	s.ask(0)
}

func (s *Session) ask(index int) {
	if s.onAsk != nil {
		s.onAsk(s)
	}
	q := s.questions[index]
	s.current = index
	s.deadlineAt = s.now().Add(s.timeLimit)
	s.ledger.Open(index, s.deadlineAt)
	s.scheduler.Arm(index, s.timeLimit)

	options := make(map[string]string, len(q.Options))
	for k, v := range q.Options {
		options[k] = v
	}
	s.notify(domain.EventQuestionAsked{
		Header:          s.header(),
		Index:           index,
		Total:           len(s.questions),
		Category:        q.Category,
		Prompt:          q.Prompt,
		Options:         options,
		DeadlineSeconds: seconds(s.timeLimit),
	})
}

func (s *Session) closeQuestion() {
	q := s.questions[s.current]
	closed := s.ledger.Close()

	byIdentity := make(map[string]domain.AnswerSubmission, len(closed))
	for _, sub := range closed {
		byIdentity[sub.ParticipantIdentity] = sub
	}
	all := s.participants.All()
	results := make([]domain.QuestionResult, 0, len(all))
	for _, p := range all {
		sub, answered := byIdentity[p.Identity]
		results = append(results, domain.QuestionResult{
			Identity:     p.Identity,
			Answered:     answered,
			ChosenOption: sub.ChosenOption,
			Correct:      sub.IsCorrect,
			Points:       sub.PointsAwarded,
		})
	}

	s.notify(domain.EventQuestionClosed{
		Header:        s.header(),
		Index:         s.current,
		CorrectOption: q.CorrectOption,
		CorrectText:   q.Options[q.CorrectOption],
		Results:       results,
		Standings:     s.aggregator.Rank(all),
	})

	next := s.current + 1
	if next >= len(s.questions) {
		s.current = next
		s.end()
		return
	}
	s.ask(next)
}

func (s *Session) end() {
	s.state = domain.StateEnding
	standings := s.aggregator.Rank(s.participants.All())
	s.notify(domain.EventSessionEnded{
		Header:         s.header(),
		FinalStandings: standings,
		Winners:        Winners(standings),
	})

	ctx := context.Background()
	if s.settings.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.PersistTimeout)
		defer cancel()
	}
	if failed := s.aggregator.Persist(ctx, standings, s.now()); len(failed) > 0 {
		logger.Warn("some scores were not saved", "channel", s.channel, "session", s.id, "failed", failed)
	}
	s.state = domain.StateTerminated
}

func (s *Session) handleCancel(c cancelRequest) {
	if s.state != domain.StateLobby && s.state != domain.StateInProgress {
		c.reply <- domain.ErrNotStoppable
		return
	}
	logger.Info("session cancelled", "channel", s.channel, "session", s.id, "reason", c.reason)
	s.cancelWith(c.reason)
	s.stopReply = c.reply
}

// cancelWith discards the open question, so partial standings only hold
// points from questions that were closed.
func (s *Session) cancelWith(reason string) {
	s.scheduler.Disarm()
	s.ledger.Discard()

	var partial []domain.Standing
	if s.participants.Len() > 0 {
		partial = s.aggregator.Rank(s.participants.All())
	}
	s.state = domain.StateCancelled
	s.notify(domain.EventSessionCancelled{
		Header:           s.header(),
		Reason:           reason,
		PartialStandings: partial,
	})
}

func (s *Session) notify(e domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier panicked", "event", e.Name(), "channel", s.channel, "panic", fmt.Sprint(r))
		}
	}()
	s.notifier.Notify(ctx, e)
}

func (s *Session) header() domain.Header {
	return domain.Header{Channel: s.channel, SessionID: s.id}
}

func seconds(d time.Duration) int {
	return int(d.Round(time.Second) / time.Second)
}
