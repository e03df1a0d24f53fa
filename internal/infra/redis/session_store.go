package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizzer/internal/app"
	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

// releaseScript deletes the liveness key only while it still names our session.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// renewScript extends the liveness key only while it still names our session.
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

const renewTimeout = 2 * time.Second

// SessionStore is a Redis-aware implementation of app.SessionRegistry.
// Notes:
//   - Session actors live in this process, so a local map still holds them.
//   - Redis holds a liveness key per channel (SET NX), which keeps two
//     instances attached to the same chat from running a game in one channel.
//   - The key lives for ttl and is renewed each time the session asks a
//     question, so ttl must cover the lobby plus one question. After a crash
//     the channel stays blocked for at most ttl.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Claim(channel string, session *app.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[channel]; ok {
		return domain.ErrSessionAlreadyActive
	}

	ok, err := s.client.SetNX(context.Background(), s.key(channel), session.ID(), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim channel %s: %w", channel, err)
	}
	if !ok {
		return domain.ErrSessionAlreadyActive
	}
	s.sessions[channel] = session
	return nil
}

func (s *SessionStore) Get(channel string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[channel]
	return session, ok
}

func (s *SessionStore) Release(channel string, session *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[channel]
	if !ok || current != session {
		return
	}
	delete(s.sessions, channel)
	// best-effort; the key expires on its own otherwise
	_ = releaseScript.Run(context.Background(), s.client, []string{s.key(channel)}, session.ID()).Err()
}

// Renew pushes the liveness key's expiry out by ttl.
func (s *SessionStore) Renew(channel string, session *app.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), renewTimeout)
	defer cancel()
	err := renewScript.Run(ctx, s.client, []string{s.key(channel)}, session.ID(), s.ttl.Milliseconds()).Err()
	if err != nil {
		logger.Warn("renew channel claim", "channel", channel, "session", session.ID(), "error", err)
	}
}

func (s *SessionStore) All() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel() < out[j].Channel() })
	return out
}

func (s *SessionStore) key(channel string) string {
	return "quiz:session:" + channel
}
