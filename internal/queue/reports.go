package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/roach88/rsi/internal/record"
)

// WriteReport persists a validation report atomically.
func (q *Queue) WriteReport(r record.ValidationReport) error {
	if r.ValidationID == "" {
		return errors.New("write report: empty validation id")
	}
	if err := writeJSONAtomic(q.layout.reportPath(r.ValidationID), r); err != nil {
		return fmt.Errorf("write report %s: %w", r.ValidationID, err)
	}
	return nil
}

// ReadReport loads one validation report.
func (q *Queue) ReadReport(validationID string) (record.ValidationReport, error) {
	var r record.ValidationReport
	data, err := os.ReadFile(q.layout.reportPath(validationID))
	if errors.Is(err, fs.ErrNotExist) {
		return r, fmt.Errorf("report %s: %w", validationID, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("read report %s: %w", validationID, err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report %s: %w", validationID, err)
	}
	return r, nil
}

// Reports returns every readable report ordered by validation ID.
func (q *Queue) Reports() ([]record.ValidationReport, error) {
	entries, err := visibleEntries(q.layout.Validation)
	if err != nil {
		return nil, err
	}
	out := []record.ValidationReport{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		r, err := q.ReadReport(strings.TrimSuffix(name, ".json"))
		if err != nil {
			q.logger.Warn("skipping unreadable report", "file", name, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ReportsAwaitingGovernance returns reports that passed, or failed with
// retries exhausted, whose artifact has no terminal marker yet.
func (q *Queue) ReportsAwaitingGovernance() ([]record.ValidationReport, error) {
	all, err := q.Reports()
	if err != nil {
		return nil, err
	}
	out := []record.ValidationReport{}
	for _, r := range all {
		if !r.Passed && !r.Exhausted {
			continue
		}
		if _, done := q.TerminalState(r.StagingID); done {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
