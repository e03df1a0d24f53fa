package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"quizzer/internal/config"
	"quizzer/internal/domain"
	"quizzer/internal/infra/memory"
	"quizzer/internal/infra/postgres"
	"quizzer/internal/infra/xlsx"
	"quizzer/internal/logger"
)

// NewImportCmd loads question files into the Postgres questions table.
func NewImportCmd(cfg *config.Config) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import *_questions.json and .xlsx files into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), *cfg, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "quiz_data", "directory holding question files")
	return cmd
}

func runImport(ctx context.Context, cfg config.Config, dir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	if err := runMigrations(ctx, cfg); err != nil {
		return err
	}

	corpus, err := readCorpus(ctx, dir)
	if err != nil {
		return err
	}

	db := postgres.OpenBun(cfg.Postgres.URL)
	defer db.Close()

	keys := make([]string, 0, len(corpus))
	for k := range corpus {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total int64
	for _, key := range keys {
		n, err := postgres.ImportQuestions(ctx, db, key, corpus[key])
		if err != nil {
			return err
		}
		logger.Info("imported category", "category", key, "questions", len(corpus[key]), "inserted", n)
		total += n
	}
	logger.Info("import finished", "categories", len(keys), "inserted", total)
	return nil
}

// readCorpus merges the JSON files of dir with every workbook found next to them.
func readCorpus(ctx context.Context, dir string) (map[string][]domain.Question, error) {
	corpus, err := memory.NewDirCategoryLoader(dir).LoadCategories(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			continue
		}
		sheets, err := xlsx.NewCategoryLoader(filepath.Join(dir, e.Name())).LoadCategories(ctx)
		if err != nil {
			return nil, err
		}
		for key, questions := range sheets {
			corpus[key] = append(corpus[key], questions...)
		}
	}
	return corpus, nil
}
