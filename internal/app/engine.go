package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

// SessionRegistry maps channels to their live session. At most one session
// may be claimed per channel.
type SessionRegistry interface {
	// Claim registers s for channel, failing with domain.ErrSessionAlreadyActive
	// when another session holds it.
	Claim(channel string, s *Session) error
	Get(channel string) (*Session, bool)
	// Release frees channel if s still holds it.
	Release(channel string, s *Session)
	All() []*Session
}

// claimRenewer is implemented by registries whose channel claims expire.
// Renew is called each time a session asks a question.
type claimRenewer interface {
	Renew(channel string, s *Session)
}

// QuestionPool hands out question sets.
type QuestionPool interface {
	// PickQuestions returns count distinct questions. It fails with
	// domain.ErrCategoryNotFound or domain.ErrInsufficientQuestions.
	PickQuestions(ctx context.Context, category string, count int) ([]domain.Question, error)
	Categories(ctx context.Context) ([]string, error)
}

// Settings tune every session started by an Engine.
type Settings struct {
	LobbyDuration   time.Duration
	PointsPerAnswer int
	// RateLimit is the minimum gap between two answers by one participant. Zero disables it.
	RateLimit      time.Duration
	PersistTimeout time.Duration
	PersistRetries int
	RetryInterval  time.Duration
}

// DefaultSettings mirror the classic channel quiz: a 30 second lobby and one
// point per correct answer.
func DefaultSettings() Settings {
	return Settings{
		LobbyDuration:   30 * time.Second,
		PointsPerAnswer: 1,
		PersistTimeout:  10 * time.Second,
		PersistRetries:  3,
		RetryInterval:   200 * time.Millisecond,
	}
}

// StartOptions describe one game.
type StartOptions struct {
	Category      string
	QuestionCount int
	TimeLimit     time.Duration
}

func (o StartOptions) validate() error {
	if o.QuestionCount <= 0 {
		return fmt.Errorf("%w: question count must be positive", domain.ErrInvalidSettings)
	}
	if o.TimeLimit <= 0 {
		return fmt.Errorf("%w: time limit must be positive", domain.ErrInvalidSettings)
	}
	return nil
}

// Config wires an Engine.
type Config struct {
	Pool      QuestionPool
	Registry  SessionRegistry
	Scores    ScoreStore
	Notifier  Notifier
	Settings  Settings
	TimerFunc TimerFunc
	Now       func() time.Time
}

// Engine is the entry point for every quiz command.
type Engine struct {
	pool       QuestionPool
	registry   SessionRegistry
	notifier   Notifier
	aggregator *ScoreAggregator
	settings   Settings
	after      TimerFunc
	now        func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewEngine(cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TimerFunc == nil {
		cfg.TimerFunc = RealTimers
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	s := cfg.Settings
	return &Engine{
		pool:       cfg.Pool,
		registry:   cfg.Registry,
		notifier:   cfg.Notifier,
		aggregator: NewScoreAggregator(cfg.Scores, s.PointsPerAnswer, s.PersistRetries, s.RetryInterval),
		settings:   s,
		after:      cfg.TimerFunc,
		now:        cfg.Now,
	}
}

// StartSession announces a new game in channel and opens its lobby.
// Pool failures leave the channel idle.
func (e *Engine) StartSession(ctx context.Context, channel string, opts StartOptions) (domain.SessionSnapshot, error) {
	if err := opts.validate(); err != nil {
		return domain.SessionSnapshot{}, err
	}
	if e.isClosed() {
		return domain.SessionSnapshot{}, domain.ErrEngineClosed
	}
	if _, ok := e.registry.Get(channel); ok {
		return domain.SessionSnapshot{}, domain.ErrSessionAlreadyActive
	}

	questions, err := e.pool.PickQuestions(ctx, opts.Category, opts.QuestionCount)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	category := opts.Category
	if len(questions) > 0 && category == "" {
		category = questions[0].Category
	}

	var onAsk func(*Session)
	if r, ok := e.registry.(claimRenewer); ok {
		onAsk = func(s *Session) { r.Renew(s.Channel(), s) }
	}

	s := newSession(sessionParams{
		id:         uuid.NewString(),
		channel:    channel,
		category:   category,
		questions:  questions,
		timeLimit:  opts.TimeLimit,
		settings:   e.settings,
		after:      e.after,
		now:        e.now,
		aggregator: e.aggregator,
		notifier:   e.notifier,
		onExit: func(s *Session) {
			e.registry.Release(s.Channel(), s)
		},
		onAsk: onAsk,
	})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.SessionSnapshot{}, domain.ErrEngineClosed
	}
	if err := e.registry.Claim(channel, s); err != nil {
		e.mu.Unlock()
		return domain.SessionSnapshot{}, err
	}
	e.wg.Add(1)
	e.mu.Unlock()

	s.open()
	snap := s.snapshot()
	go func() {
		defer e.wg.Done()
		s.run()
	}()
	return snap, nil
}

// Join registers identity in the channel's lobby. It reports false for a repeated join.
func (e *Engine) Join(ctx context.Context, channel, identity string) (bool, error) {
	s, ok := e.registry.Get(channel)
	if !ok {
		return false, domain.ErrNotJoinable
	}
	res, err := call(ctx, s, func() joinResult { return s.join(identity) })
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, domain.ErrNotJoinable
		}
		return false, err
	}
	return res.added, res.err
}

// Submit records an answer for the question at index. Rejections carry a
// reason code through domain.RejectReason.
func (e *Engine) Submit(ctx context.Context, channel, identity string, index int, option string) (domain.AnswerSubmission, error) {
	s, ok := e.registry.Get(channel)
	if !ok {
		return domain.AnswerSubmission{}, domain.ErrSessionNotFound
	}
	res, err := call(ctx, s, func() submitResult { return s.submit(identity, index, option) })
	if err != nil {
		return domain.AnswerSubmission{}, err
	}
	return res.sub, res.err
}

// StopGame cancels the channel's game without scoring the open question.
func (e *Engine) StopGame(ctx context.Context, channel string) error {
	return e.cancel(ctx, channel, domain.CancelStopped)
}

// TransportLost cancels the channel's game after the connection went away.
func (e *Engine) TransportLost(ctx context.Context, channel string) error {
	return e.cancel(ctx, channel, domain.CancelTransportLost)
}

func (e *Engine) cancel(ctx context.Context, channel, reason string) error {
	s, ok := e.registry.Get(channel)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.requestCancel(ctx, reason)
}

// ParticipantDisconnected marks identity as gone. The participant keeps
// their score and the game goes on.
func (e *Engine) ParticipantDisconnected(ctx context.Context, channel, identity string) error {
	s, ok := e.registry.Get(channel)
	if !ok {
		return domain.ErrSessionNotFound
	}
	errResult, err := call(ctx, s, func() error { return s.disconnect(identity) })
	if err != nil {
		return err
	}
	return errResult
}

// Snapshot returns a consistent view of the channel's session.
func (e *Engine) Snapshot(ctx context.Context, channel string) (domain.SessionSnapshot, error) {
	s, ok := e.registry.Get(channel)
	if !ok {
		return domain.SessionSnapshot{}, domain.ErrSessionNotFound
	}
	return call(ctx, s, s.snapshot)
}

// ActiveChannels lists channels that currently own a session.
func (e *Engine) ActiveChannels() []string {
	sessions := e.registry.All()
	channels := make([]string, 0, len(sessions))
	for _, s := range sessions {
		channels = append(channels, s.Channel())
	}
	return channels
}

// Categories lists the playable categories.
func (e *Engine) Categories(ctx context.Context) ([]string, error) {
	return e.pool.Categories(ctx)
}

// Leaderboard returns the all-time top players.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	if e.aggregator.store == nil {
		return nil, nil
	}
	return e.aggregator.store.Top(ctx, limit)
}

// Record returns the all-time record of one player.
func (e *Engine) Record(ctx context.Context, identity string) (domain.ScoreRecord, error) {
	if e.aggregator.store == nil {
		return domain.ScoreRecord{}, domain.ErrRecordNotFound
	}
	return e.aggregator.store.GetRecord(ctx, identity)
}

// Shutdown refuses new games, cancels every live one and waits for their
// goroutines to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	for _, s := range e.registry.All() {
		if err := s.requestCancel(ctx, domain.CancelShutdown); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			logger.Warn("failed to cancel session on shutdown", "channel", s.Channel(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
