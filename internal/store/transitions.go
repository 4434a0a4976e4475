package store

import (
	"context"
	"fmt"
	"time"
)

// Transition is one entry in the audit log.
type Transition struct {
	Seq    int64     `json:"seq"`
	Stage  string    `json:"stage"`
	ItemID string    `json:"item_id"`
	Event  string    `json:"event"`
	Detail string    `json:"detail,omitempty"`
	Owner  string    `json:"owner,omitempty"`
	At     time.Time `json:"at"`
}

// AppendTransition records an event that did not go through a claim, such
// as a proposal being created.
func (s *Store) AppendTransition(ctx context.Context, t Transition) error {
	if err := appendTransition(ctx, s.db, t, s.nowMillis()); err != nil {
		return err
	}
	return nil
}

// Note appends a transition for an event outside a claim.
func (s *Store) Note(ctx context.Context, stage, itemID, owner, event, detail string) error {
	return s.AppendTransition(ctx, Transition{
		Stage: stage, ItemID: itemID, Event: event, Detail: detail, Owner: owner,
	})
}

func appendTransition(ctx context.Context, db execer, t Transition, at int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (stage, item_id, event, detail, owner, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Stage, t.ItemID, t.Event, t.Detail, t.Owner, at)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// Transitions returns audit entries in seq order. An empty stage or itemID
// matches everything.
func (s *Store) Transitions(ctx context.Context, stage, itemID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, item_id, event, detail, owner, at
		FROM transitions
		WHERE (? = '' OR stage = ?) AND (? = '' OR item_id = ?)
		ORDER BY seq ASC
	`, stage, stage, itemID, itemID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []Transition{}
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.Seq, &t.Stage, &t.ItemID, &t.Event, &t.Detail, &t.Owner, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.At = time.UnixMilli(at).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}
