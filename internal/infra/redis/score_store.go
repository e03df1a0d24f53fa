package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quizzer/internal/domain"
)

const leaderboardKey = "quiz:leaderboard"

// updateScoreScript folds one game into the player hash and the leaderboard
// sorted set atomically.
var updateScoreScript = redis.NewScript(`
local score = tonumber(ARGV[1])
local total = redis.call('HINCRBY', KEYS[1], 'total', score)
redis.call('HINCRBY', KEYS[1], 'games', 1)
local highest = redis.call('HGET', KEYS[1], 'highest')
if (not highest) or tonumber(highest) < score then
	redis.call('HSET', KEYS[1], 'highest', score)
end
redis.call('HSET', KEYS[1], 'identity', ARGV[3], 'last', ARGV[2])
redis.call('ZADD', KEYS[2], total, ARGV[3])
return total
`)

// ScoreStore keeps player records in Redis.
// Records are stored as: HSET quiz:score:{identity} total|games|highest|last
// and ranked in:         ZADD quiz:leaderboard {total} {identity}
type ScoreStore struct {
	client *redis.Client
}

func NewScoreStore(client *redis.Client) *ScoreStore {
	return &ScoreStore{client: client}
}

func (s *ScoreStore) UpdateScore(ctx context.Context, identity string, gameScore int, playedAt time.Time) error {
	keys := []string{s.key(identity), leaderboardKey}
	err := updateScoreScript.Run(ctx, s.client, keys, gameScore, playedAt.UTC().Format(time.RFC3339Nano), identity).Err()
	if err != nil {
		return fmt.Errorf("update score for %s: %w", identity, err)
	}
	return nil
}

func (s *ScoreStore) GetRecord(ctx context.Context, identity string) (domain.ScoreRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	if len(fields) == 0 {
		return domain.ScoreRecord{}, domain.ErrRecordNotFound
	}
	return parseRecord(identity, fields)
}

func (s *ScoreStore) Top(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	identities, err := s.client.ZRevRange(ctx, leaderboardKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(identities))
	for i, identity := range identities {
		cmds[i] = pipe.HGetAll(ctx, s.key(identity))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	records := make([]domain.ScoreRecord, 0, len(identities))
	for i, cmd := range cmds {
		rec, err := parseRecord(identities[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	domain.SortRecords(records)
	return records, nil
}

func (s *ScoreStore) key(identity string) string {
	return "quiz:score:" + identity
}

func parseRecord(identity string, fields map[string]string) (domain.ScoreRecord, error) {
	rec := domain.ScoreRecord{Identity: identity}
	var err error
	if rec.TotalScore, err = atoi(fields["total"]); err != nil {
		return rec, err
	}
	if rec.GamesPlayed, err = atoi(fields["games"]); err != nil {
		return rec, err
	}
	if rec.HighestSingleGameScore, err = atoi(fields["highest"]); err != nil {
		return rec, err
	}
	if last := fields["last"]; last != "" {
		if rec.LastPlayedAt, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return rec, fmt.Errorf("parse last played: %w", err)
		}
	}
	return rec, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
