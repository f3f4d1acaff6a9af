package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// ErrMissingColumn is returned when a sheet lacks a required header.
var ErrMissingColumn = errors.New("missing column")

// ImportQuestions adds the rows of the first sheet of an xlsx workbook to
// suiteID. The header row names the columns question, human_answer and
// optionally language (default "en"); order and case do not matter. Rows
// without a question are skipped. It returns the number of questions added.
func ImportQuestions(ctx context.Context, store repository.EvaluationStore, suiteID string, r io.Reader) (int, error) {
	const op = "evaluation.ImportQuestions"
	if _, err := store.GetSuite(ctx, suiteID); err != nil {
		return 0, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return 0, errkind.E(errkind.Validation, op, fmt.Errorf("opening workbook: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, errkind.Errorf(errkind.Validation, op, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return 0, errkind.E(errkind.Validation, op, fmt.Errorf("sheet %q: %w", sheets[0], err))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	cols := map[string]int{"question": -1, "human_answer": -1, "language": -1}
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	for _, required := range []string{"question", "human_answer"} {
		if cols[required] < 0 {
			return 0, errkind.E(errkind.Validation, op, fmt.Errorf("%w: %s", ErrMissingColumn, required))
		}
	}

	added := 0
	for _, row := range rows[1:] {
		q := &repository.TestQuestion{
			SuiteID:     suiteID,
			Question:    cell(row, cols["question"]),
			HumanAnswer: cell(row, cols["human_answer"]),
			Language:    cell(row, cols["language"]),
		}
		if q.Question == "" {
			continue
		}
		if q.Language == "" {
			q.Language = "en"
		}
		if err := store.AddQuestion(ctx, q); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
