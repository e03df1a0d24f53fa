package memory

import (
	"context"
	"sync"
	"time"

	"quizzer/internal/domain"
)

// ScoreStore keeps all-time records in process memory.
type ScoreStore struct {
	mu      sync.RWMutex
	records map[string]domain.ScoreRecord
}

func NewScoreStore() *ScoreStore {
	return &ScoreStore{records: make(map[string]domain.ScoreRecord)}
}

func (s *ScoreStore) UpdateScore(_ context.Context, identity string, gameScore int, playedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[identity] = domain.ApplyGame(s.records[identity], identity, gameScore, playedAt)
	return nil
}

func (s *ScoreStore) GetRecord(_ context.Context, identity string) (domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identity]
	if !ok {
		return domain.ScoreRecord{}, domain.ErrRecordNotFound
	}
	return rec, nil
}

func (s *ScoreStore) Top(_ context.Context, limit int) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	out := make([]domain.ScoreRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	domain.SortRecords(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
