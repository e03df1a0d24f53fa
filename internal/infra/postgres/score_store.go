package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizzer/internal/domain"
)

// ScoreStore keeps player records in the score_records table.
type ScoreStore struct {
	pool *pgxpool.Pool
}

func NewScoreStore(pool *pgxpool.Pool) *ScoreStore {
	return &ScoreStore{pool: pool}
}

func (s *ScoreStore) UpdateScore(ctx context.Context, identity string, gameScore int, playedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO score_records (identity, total_score, games_played, highest_single_game_score, last_played_at)
VALUES ($1, $2, 1, $2, $3)
ON CONFLICT (identity) DO UPDATE SET
    total_score = score_records.total_score + EXCLUDED.total_score,
    games_played = score_records.games_played + 1,
    highest_single_game_score = GREATEST(score_records.highest_single_game_score, EXCLUDED.highest_single_game_score),
    last_played_at = EXCLUDED.last_played_at`,
		identity, gameScore, playedAt)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return nil
}

func (s *ScoreStore) GetRecord(ctx context.Context, identity string) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	err := s.pool.QueryRow(ctx, `
SELECT identity, total_score, games_played, highest_single_game_score, last_played_at
FROM score_records WHERE identity=$1`, identity).
		Scan(&rec.Identity, &rec.TotalScore, &rec.GamesPlayed, &rec.HighestSingleGameScore, &rec.LastPlayedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoreRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("load score record: %w", err)
	}
	return rec, nil
}

func (s *ScoreStore) Top(ctx context.Context, limit int) ([]domain.ScoreRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT identity, total_score, games_played, highest_single_game_score, last_played_at
FROM score_records ORDER BY total_score DESC, identity ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	var records []domain.ScoreRecord
	for rows.Next() {
		var rec domain.ScoreRecord
		if err := rows.Scan(&rec.Identity, &rec.TotalScore, &rec.GamesPlayed, &rec.HighestSingleGameScore, &rec.LastPlayedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
