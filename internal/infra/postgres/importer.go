package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quizzer/internal/domain"
)

const importBatchSize = 1000

// QuestionRow is the bun model of the questions table.
type QuestionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID            int64             `bun:"id,pk,autoincrement"`
	CategoryKey   string            `bun:"category_key,notnull"`
	Category      string            `bun:"category,notnull"`
	Prompt        string            `bun:"prompt,notnull"`
	Options       map[string]string `bun:"options,type:jsonb,notnull"`
	CorrectOption string            `bun:"correct_option,notnull"`
}

// OpenBun opens a bun handle over the pgdriver connector.
func OpenBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// ImportQuestions inserts questions under categoryKey, skipping prompts the
// category already has. It returns the number of new rows.
func ImportQuestions(ctx context.Context, db *bun.DB, categoryKey string, questions []domain.Question) (int64, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	rows := make([]QuestionRow, 0, len(questions))
	for _, q := range questions {
		rows = append(rows, QuestionRow{
			CategoryKey:   categoryKey,
			Category:      q.Category,
			Prompt:        q.Prompt,
			Options:       q.Options,
			CorrectOption: q.CorrectOption,
		})
	}

	var inserted int64
	for start := 0; start < len(rows); start += importBatchSize {
		end := min(start+importBatchSize, len(rows))
		batch := rows[start:end]
		res, err := db.NewInsert().
			Model(&batch).
			On("CONFLICT (category_key, prompt) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return inserted, fmt.Errorf("import %s: %w", categoryKey, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}
