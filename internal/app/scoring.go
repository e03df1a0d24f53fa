package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
	"quizzer/internal/metrics"
)

const maxConcurrentScoreWrites = 8

// ScoreStore persists all-time player records.
type ScoreStore interface {
	// UpdateScore folds one finished game into the player's record.
	UpdateScore(ctx context.Context, identity string, gameScore int, playedAt time.Time) error
	GetRecord(ctx context.Context, identity string) (domain.ScoreRecord, error)
	// Top returns up to limit records by total score.
	Top(ctx context.Context, limit int) ([]domain.ScoreRecord, error)
}

// ScoreAggregator awards points and writes final scores to the ScoreStore.
type ScoreAggregator struct {
	store         ScoreStore
	pointsPerHit  int
	retries       uint64
	retryInterval time.Duration
}

func NewScoreAggregator(store ScoreStore, pointsPerHit, retries int, retryInterval time.Duration) *ScoreAggregator {
	if pointsPerHit <= 0 {
		pointsPerHit = 1
	}
	if retries < 0 {
		retries = 0
	}
	if retryInterval <= 0 {
		retryInterval = 200 * time.Millisecond
	}
	return &ScoreAggregator{
		store:         store,
		pointsPerHit:  pointsPerHit,
		retries:       uint64(retries),
		retryInterval: retryInterval,
	}
}

// PointsFor is the award for a single answer.
func (a *ScoreAggregator) PointsFor(correct bool) int {
	if correct {
		return a.pointsPerHit
	}
	return 0
}

// Rank orders participants (given in join order) into standings.
func (a *ScoreAggregator) Rank(participants []domain.Participant) []domain.Standing {
	return rank(participants)
}

// Persist writes every standing to the store. Writes run concurrently and
// are retried independently; identities whose write still failed are returned.
func (a *ScoreAggregator) Persist(ctx context.Context, standings []domain.Standing, playedAt time.Time) []string {
	if a.store == nil || len(standings) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []string
		eg     errgroup.Group
	)
	eg.SetLimit(maxConcurrentScoreWrites)

	for _, st := range standings {
		st := st
		eg.Go(func() error {
			op := func() error {
				return a.store.UpdateScore(ctx, st.Identity, st.Score, playedAt)
			}
			if err := backoff.Retry(op, a.backOff(ctx)); err != nil {
				logger.Error("score write failed", "identity", st.Identity, "score", st.Score, "error", err)
				metrics.ScoreWrites.WithLabelValues("failed").Inc()
				mu.Lock()
				failed = append(failed, st.Identity)
				mu.Unlock()
				return nil
			}
			metrics.ScoreWrites.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = eg.Wait()

	sort.Strings(failed)
	return failed
}

func (a *ScoreAggregator) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryInterval
	b.MaxInterval = 10 * a.retryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, a.retries), ctx)
}

// Winners returns every identity tied at the top score.
func Winners(standings []domain.Standing) []string {
	if len(standings) == 0 {
		return nil
	}
	top := standings[0].Score
	var winners []string
	for _, st := range standings {
		if st.Score != top {
			break
		}
		winners = append(winners, st.Identity)
	}
	return winners
}
