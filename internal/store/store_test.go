package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rsi/internal/record"
)

// fakeNow is a settable time source.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsi.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsi.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rsi.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"claims", "transitions", "cycles", "policy_digests"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestClaim_Exclusive(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	ok, err := s.Claim(ctx, "governance", "stg_1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "governance", "stg_1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a live lease")

	ok, err = s.Claim(ctx, "governance", "stg_1", "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease is not renewed")

	ok, err = s.Claim(ctx, "validation", "stg_1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "stages lease independently")
}

func TestClaim_ExpiredLeaseCanBeTaken(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := createTestStore(t, WithNow(clock.Now))

	ok, err := s.Claim(ctx, "implementation", "prop_1", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(2 * time.Minute)

	ok, err = s.Claim(ctx, "implementation", "prop_1", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.Ack(ctx, "implementation", "prop_1", "a", "done")
	assert.ErrorIs(t, err, ErrNotClaimed, "stale owner cannot ack")

	require.NoError(t, s.Ack(ctx, "implementation", "prop_1", "b", "done"))
}

func TestClaim_ConcurrentOwners(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	const owners = 8
	var wg sync.WaitGroup
	results := make([]bool, owners)
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Claim(ctx, "governance", "stg_x", string(rune('a'+i)), time.Minute)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range results {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestAckAndRelease(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	ok, err := s.Claim(ctx, "validation", "stg_1", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Release(ctx, "validation", "stg_1", "a", "transient"))

	claims, err := s.LiveClaims(ctx)
	require.NoError(t, err)
	assert.Empty(t, claims)

	ok, err = s.Claim(ctx, "validation", "stg_1", "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	claims, err = s.LiveClaims(ctx)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "b", claims[0].Owner)

	require.NoError(t, s.Ack(ctx, "validation", "stg_1", "b", "validated"))
	assert.ErrorIs(t, s.Ack(ctx, "validation", "stg_1", "b", "validated"), ErrNotClaimed)

	trail, err := s.Transitions(ctx, "validation", "stg_1")
	require.NoError(t, err)
	events := make([]string, 0, len(trail))
	for _, tr := range trail {
		events = append(events, tr.Event)
	}
	assert.Equal(t, []string{"claimed", "released", "claimed", "validated"}, events)
	assert.Equal(t, "transient", trail[1].Detail)
}

func TestReapExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeNow{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := createTestStore(t, WithNow(clock.Now))

	_, err := s.Claim(ctx, "discovery", "x", "a", time.Second)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "discovery", "y", "a", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	n, err := s.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransitionsFilter(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.AppendTransition(ctx, Transition{Stage: "discovery", ItemID: "prop_1", Event: "proposed"}))
	require.NoError(t, s.AppendTransition(ctx, Transition{Stage: "discovery", ItemID: "prop_2", Event: "proposed"}))
	require.NoError(t, s.AppendTransition(ctx, Transition{Stage: "implementation", ItemID: "prop_1", Event: "implemented"}))

	all, err := s.Transitions(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, all[0].Seq, all[1].Seq)

	one, err := s.Transitions(ctx, "", "prop_1")
	require.NoError(t, err)
	assert.Len(t, one, 2)

	disc, err := s.Transitions(ctx, "discovery", "")
	require.NoError(t, err)
	assert.Len(t, disc, 2)
}

func TestCycles(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	last, err := s.LastCycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c1 := record.CycleSummary{ID: "cyc_1", StartedAt: start, FinishedAt: start.Add(time.Second), OK: true}
	c2 := record.CycleSummary{
		ID: "cyc_2", StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour),
		Stages: []record.StageResult{{Stage: "discovery", OK: false, Error: "boom"}},
	}
	require.NoError(t, s.RecordCycle(ctx, c1))
	require.NoError(t, s.RecordCycle(ctx, c2))
	require.NoError(t, s.RecordCycle(ctx, c2))

	n, err := s.CountCycles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	last, err = s.LastCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "cyc_2", last.ID)
	assert.False(t, last.OK)
	require.Len(t, last.Stages, 1)
	assert.Equal(t, "boom", last.Stages[0].Error)
}

func TestRecordPolicyDigest(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	prev, changed, err := s.RecordPolicyDigest(ctx, "d1", "1.0.0")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, prev)

	_, changed, err = s.RecordPolicyDigest(ctx, "d1", "1.0.0")
	require.NoError(t, err)
	assert.False(t, changed)

	prev, changed, err = s.RecordPolicyDigest(ctx, "d2", "1.1.0")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "d1", prev)
}

func TestClaim_DatabaseErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO claims").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ok, err := s.Claim(context.Background(), "governance", "stg_1", "a", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAck_DeleteErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM claims").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.Ack(context.Background(), "governance", "stg_1", "a", "deployed")
	assert.ErrorIs(t, err, ErrNotClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
