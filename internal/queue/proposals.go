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

// WriteProposal persists p, replacing any previous version atomically.
func (q *Queue) WriteProposal(p record.Proposal) error {
	if p.ID == "" {
		return errors.New("write proposal: empty id")
	}
	q.mu.Lock()
	q.written[p.ID] = struct{}{}
	q.mu.Unlock()
	if err := writeJSONAtomic(q.layout.proposalPath(p.ID), p); err != nil {
		return fmt.Errorf("write proposal %s: %w", p.ID, err)
	}
	return nil
}

// WroteProposal reports whether this Queue has written proposal id. File
// watchers use it to tell the pipeline's own writes from new work.
func (q *Queue) WroteProposal(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.written[id]
	return ok
}

// ReadProposal loads one proposal.
func (q *Queue) ReadProposal(id string) (record.Proposal, error) {
	var p record.Proposal
	data, err := os.ReadFile(q.layout.proposalPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return p, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("read proposal %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode proposal %s: %w", id, err)
	}
	return p, nil
}

// Proposals returns every readable proposal ordered by ID. Malformed files
// are logged and skipped.
func (q *Queue) Proposals() ([]record.Proposal, error) {
	entries, err := visibleEntries(q.layout.Proposals)
	if err != nil {
		return nil, err
	}
	out := []record.Proposal{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		p, err := q.ReadProposal(strings.TrimSuffix(name, ".json"))
		if err != nil {
			q.logger.Warn("skipping unreadable proposal", "file", name, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PendingProposals returns pending proposals whose retry count is below
// maxRetries. Polling does not change any state.
func (q *Queue) PendingProposals(maxRetries int) ([]record.Proposal, error) {
	all, err := q.Proposals()
	if err != nil {
		return nil, err
	}
	out := []record.Proposal{}
	for _, p := range all {
		if p.Status == record.StatusPending && p.RetryCount < maxRetries {
			out = append(out, p)
		}
	}
	return out, nil
}
