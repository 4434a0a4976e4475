package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/rsi/internal/record"
)

// RecordCycle stores a cycle summary. Recording the same cycle ID twice
// keeps the first row.
func (s *Store) RecordCycle(ctx context.Context, c record.CycleSummary) error {
	summary, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, halted, ok, summary)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(), boolInt(c.Halted), boolInt(c.OK), string(summary))
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// LastCycle returns the most recently started cycle, or nil if none ran.
func (s *Store) LastCycle(ctx context.Context) (*record.CycleSummary, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `
		SELECT summary FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT 1
	`).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last cycle: %w", err)
	}
	var c record.CycleSummary
	if err := json.Unmarshal([]byte(summary), &c); err != nil {
		return nil, fmt.Errorf("last cycle: decode: %w", err)
	}
	return &c, nil
}

// CountCycles returns how many cycles have been recorded.
func (s *Store) CountCycles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cycles: %w", err)
	}
	return n, nil
}

// RecordPolicyDigest notes the governance document digest. It returns the
// previously seen digest and whether the new one differs from it. The first
// digest ever seen is not reported as a change.
func (s *Store) RecordPolicyDigest(ctx context.Context, digest, version string) (string, bool, error) {
	var prev string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest FROM policy_digests ORDER BY seq DESC LIMIT 1`,
	).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("policy digest: %w", err)
	}
	if prev == digest {
		return prev, false, nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policy_digests (digest, version, seen_at) VALUES (?, ?, ?)`,
		digest, version, s.nowMillis(),
	)
	if err != nil {
		return "", false, fmt.Errorf("policy digest: %w", err)
	}
	return prev, prev != "", nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
