// Package xlsx reads question corpora from spreadsheets. Every sheet is a
// category; the first row is a header and each following row holds
// question, options A to D and the correct letter (or 1 to 4).
package xlsx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"quizzer/internal/domain"
	"quizzer/internal/logger"
)

var letters = []string{"A", "B", "C", "D"}

// CategoryLoader loads one workbook.
type CategoryLoader struct {
	path string
}

func NewCategoryLoader(path string) *CategoryLoader {
	return &CategoryLoader{path: path}
}

func (l *CategoryLoader) LoadCategories(ctx context.Context) (map[string][]domain.Question, error) {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", filepath.Base(l.path), err)
	}
	defer f.Close()

	categories := make(map[string][]domain.Question)
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			logger.Warn("skipping sheet", "sheet", sheet, "error", err)
			continue
		}

		var questions []domain.Question
		for i, row := range rows {
			if i == 0 {
				continue
			}
			q, err := parseRow(sheet, row)
			if err != nil {
				logger.Debug("skipping row", "sheet", sheet, "row", i+1, "error", err)
				continue
			}
			questions = append(questions, q)
		}
		if len(questions) > 0 {
			categories[strings.ReplaceAll(sheet, " ", "_")] = questions
		}
	}
	return categories, nil
}

func parseRow(sheet string, row []string) (domain.Question, error) {
	if len(row) < 4 {
		return domain.Question{}, domain.ErrInvalidQuestion
	}
	q := domain.Question{
		Category: sheet,
		Prompt:   strings.TrimSpace(row[0]),
		Options:  make(map[string]string, 4),
	}
	// the correct marker is the last non-empty cell
	last := len(row) - 1
	for last > 0 && strings.TrimSpace(row[last]) == "" {
		last--
	}
	for i, cell := range row[1:last] {
		if i >= len(letters) {
			break
		}
		if text := strings.TrimSpace(cell); text != "" {
			q.Options[letters[i]] = text
		}
	}
	q.CorrectOption = correctLetter(row[last])
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	return q, nil
}

func correctLetter(cell string) string {
	cell = strings.ToUpper(strings.TrimSpace(cell))
	switch cell {
	case "1":
		return "A"
	case "2":
		return "B"
	case "3":
		return "C"
	case "4":
		return "D"
	}
	return cell
}
