package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

// QuestionFileSuffix names corpus files: <Category>_questions.json.
const QuestionFileSuffix = "_questions.json"

// questionFile is one entry of a corpus file.
type questionFile struct {
	Category string            `json:"category"`
	Question string            `json:"question"`
	Answers  map[string]string `json:"answers"`
	Correct  string            `json:"correct"`
}

// DirCategoryLoader reads every *_questions.json file of a directory.
type DirCategoryLoader struct {
	dir string
}

func NewDirCategoryLoader(dir string) *DirCategoryLoader {
	return &DirCategoryLoader{dir: dir}
}

func (l *DirCategoryLoader) LoadCategories(ctx context.Context) (map[string][]domain.Question, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read question dir: %w", err)
	}

	categories := make(map[string][]domain.Question)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, QuestionFileSuffix) {
			continue
		}
		category := strings.TrimSuffix(name, QuestionFileSuffix)
		questions, err := ReadQuestionFile(filepath.Join(l.dir, name))
		if err != nil {
			// one broken file should not take the whole corpus down
			logger.Warn("skipping question file", "file", name, "error", err)
			continue
		}
		if len(questions) > 0 {
			categories[category] = questions
		}
	}
	return categories, nil
}

// ReadQuestionFile parses one corpus file, unescaping HTML entities and
// dropping entries that fail validation.
func ReadQuestionFile(path string) ([]domain.Question, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []questionFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	questions := make([]domain.Question, 0, len(entries))
	for i, e := range entries {
		q := domain.Question{
			Category:      html.UnescapeString(e.Category),
			Prompt:        html.UnescapeString(e.Question),
			Options:       make(map[string]string, len(e.Answers)),
			CorrectOption: strings.ToUpper(strings.TrimSpace(e.Correct)),
		}
		for letter, text := range e.Answers {
			q.Options[strings.ToUpper(strings.TrimSpace(letter))] = html.UnescapeString(text)
		}
		if err := q.Validate(); err != nil {
			logger.Debug("dropping question", "file", filepath.Base(path), "entry", i, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}
