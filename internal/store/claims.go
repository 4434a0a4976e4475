package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotClaimed is returned by Ack and Release when the caller does not hold
// the lease, typically because it expired and another owner took it.
var ErrNotClaimed = errors.New("claim not held")

// Claim is a live lease on one item.
type Claim struct {
	Stage     string    `json:"stage"`
	ItemID    string    `json:"item_id"`
	Owner     string    `json:"owner"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claim tries to take a lease on (stage, itemID) for owner. It succeeds when
// no lease exists or the existing one has expired. A held, unexpired lease is
// never renewed, not even for the same owner.
func (s *Store) Claim(ctx context.Context, stage, itemID, owner string, ttl time.Duration) (bool, error) {
	now := s.nowMillis()
	token := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: begin: %w", stage, itemID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO claims (stage, item_id, owner, token, claimed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stage, item_id) DO UPDATE SET
			owner = excluded.owner,
			token = excluded.token,
			claimed_at = excluded.claimed_at,
			expires_at = excluded.expires_at
		WHERE claims.expires_at <= excluded.claimed_at
	`, stage, itemID, owner, token, now, now+ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", stage, itemID, err)
	}

	var held string
	err = tx.QueryRowContext(ctx,
		`SELECT token FROM claims WHERE stage = ? AND item_id = ?`,
		stage, itemID,
	).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: read back: %w", stage, itemID, err)
	}
	if held != token {
		return false, nil
	}

	if err := appendTransition(ctx, tx, Transition{
		Stage: stage, ItemID: itemID, Event: "claimed", Owner: owner,
	}, now); err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", stage, itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("claim %s/%s: commit: %w", stage, itemID, err)
	}
	return true, nil
}

// Ack finishes a claim successfully and records outcome in the audit log.
func (s *Store) Ack(ctx context.Context, stage, itemID, owner, outcome string) error {
	return s.finish(ctx, stage, itemID, owner, outcome, "")
}

// Release gives a claim back without completing it, so the item is picked up
// again by a later poll.
func (s *Store) Release(ctx context.Context, stage, itemID, owner, reason string) error {
	return s.finish(ctx, stage, itemID, owner, "released", reason)
}

func (s *Store) finish(ctx context.Context, stage, itemID, owner, event, detail string) error {
	now := s.nowMillis()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s/%s: begin: %w", event, stage, itemID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM claims WHERE stage = ? AND item_id = ? AND owner = ?`,
		stage, itemID, owner,
	)
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", event, stage, itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s/%s: rows affected: %w", event, stage, itemID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%s: %w", event, stage, itemID, ErrNotClaimed)
	}

	if err := appendTransition(ctx, tx, Transition{
		Stage: stage, ItemID: itemID, Event: event, Detail: detail, Owner: owner,
	}, now); err != nil {
		return fmt.Errorf("%s %s/%s: %w", event, stage, itemID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s %s/%s: commit: %w", event, stage, itemID, err)
	}
	return nil
}

// LiveClaims returns unexpired leases ordered by stage and item.
func (s *Store) LiveClaims(ctx context.Context) ([]Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, item_id, owner, claimed_at, expires_at
		FROM claims
		WHERE expires_at > ?
		ORDER BY stage ASC, item_id COLLATE BINARY ASC
	`, s.nowMillis())
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	claims := []Claim{}
	for rows.Next() {
		var c Claim
		var claimedAt, expiresAt int64
		if err := rows.Scan(&c.Stage, &c.ItemID, &c.Owner, &claimedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		c.ClaimedAt = time.UnixMilli(claimedAt).UTC()
		c.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

// ReapExpired deletes expired leases and returns how many were removed.
func (s *Store) ReapExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE expires_at <= ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("reap claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap claims: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
