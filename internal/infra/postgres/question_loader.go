package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

// QuestionLoader loads the question corpus from the questions table.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadCategories(ctx context.Context) (map[string][]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT category_key, category, prompt, options, correct_option FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	categories := make(map[string][]domain.Question)
	for rows.Next() {
		var (
			key string
			raw []byte
			q   domain.Question
		)
		if err := rows.Scan(&key, &q.Category, &q.Prompt, &raw, &q.CorrectOption); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		collect(categories, key, q)
	}
	return categories, rows.Err()
}

// collect adds q under key unless it fails validation. Rows can be written
// by hand, so they get the same checks as corpus files.
func collect(categories map[string][]domain.Question, key string, q domain.Question) {
	if err := q.Validate(); err != nil {
		logger.Warn("skipping invalid question row", "category", key, "prompt", q.Prompt, "error", err)
		return
	}
	categories[key] = append(categories[key], q)
}
