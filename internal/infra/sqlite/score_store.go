// Package sqlite stores player records in a local SQLite file, for
// single-instance deployments without Postgres or Redis.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quizzer/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS score_records (
    identity                  TEXT PRIMARY KEY,
    total_score               INTEGER   NOT NULL DEFAULT 0,
    games_played              INTEGER   NOT NULL DEFAULT 0,
    highest_single_game_score INTEGER   NOT NULL DEFAULT 0,
    last_played_at            TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS score_records_total_score_idx ON score_records (total_score DESC);
`

type ScoreStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*ScoreStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &ScoreStore{db: db}, nil
}

func (s *ScoreStore) Close() error {
	return s.db.Close()
}

func (s *ScoreStore) UpdateScore(ctx context.Context, identity string, gameScore int, playedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO score_records (identity, total_score, games_played, highest_single_game_score, last_played_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (identity) DO UPDATE SET
    total_score = total_score + excluded.total_score,
    games_played = games_played + 1,
    highest_single_game_score = MAX(highest_single_game_score, excluded.highest_single_game_score),
    last_played_at = excluded.last_played_at`,
		identity, gameScore, gameScore, playedAt.UTC())
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return nil
}

func (s *ScoreStore) GetRecord(ctx context.Context, identity string) (domain.ScoreRecord, error) {
	var rec domain.ScoreRecord
	err := s.db.QueryRowContext(ctx, `
SELECT identity, total_score, games_played, highest_single_game_score, last_played_at
FROM score_records WHERE identity = ?`, identity).
		Scan(&rec.Identity, &rec.TotalScore, &rec.GamesPlayed, &rec.HighestSingleGameScore, &rec.LastPlayedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, `
SELECT identity, total_score, games_played, highest_single_game_score, last_played_at
FROM score_records ORDER BY total_score DESC, identity ASC LIMIT ?`, limit)
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
