package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jensinjames/opsync/internal/ledger"
	"github.com/Jensinjames/opsync/internal/record"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()

	// Deterministic, strictly increasing timestamps.
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), WithNow(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, j.Close()) })
	return j
}

func testEntry(id string, seq int64) Entry {
	return Entry{
		ID:       id,
		Table:    "entries",
		Op:       ledger.OpInsert,
		Resource: "entries-" + id,
		Payload:  record.Record{"category": "exercise", "minutes": 30},
		Seq:      seq,
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.verifyPragma("journal_mode", "wal"))
	require.NoError(t, j.verifyPragma("foreign_keys", "1"))
	require.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(path)
	require.NoError(t, err)

	_, err = j1.Append(context.Background(), testEntry("a", 1))
	require.NoError(t, err)
	require.NoError(t, j1.Close())

	// Reopening runs pragmas and migrations again and keeps the data.
	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	pending, err := j2.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)
}

func TestAppend_Idempotent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	inserted, err := j.Append(ctx, testEntry("a", 1))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same id with a different payload is silently ignored.
	dup := testEntry("a", 9)
	dup.Payload = record.Record{"minutes": 99}
	inserted, err = j.Append(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, ok, err := j.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Seq)
	assert.Equal(t, record.Record{"category": "exercise", "minutes": int64(30)}, got.Payload)
}

func TestPending_DrainOrder(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// Append out of order; same seq ties break on id bytes.
	for _, e := range []Entry{
		testEntry("z", 2),
		testEntry("b", 1),
		testEntry("a", 1),
	} {
		_, err := j.Append(ctx, e)
		require.NoError(t, err)
	}

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.Equal(t, "z", pending[2].ID)
}

func TestMarkDone_RemovesFromPending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.Append(ctx, testEntry("a", 1))
	require.NoError(t, err)

	ok, err := j.MarkDone(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Terminal states are guarded - a second transition is a no-op.
	ok, err = j.MarkDone(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = j.MarkFailed(ctx, "a", "late failure")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, found, err := j.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusDone, got.Status)
}

func TestMarkFailed_RecordsError(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.Append(ctx, testEntry("a", 1))
	require.NoError(t, err)

	ok, err := j.MarkFailed(ctx, "a", "remote rejected payload")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := j.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "remote rejected payload", got.LastError)
}

func TestRecordFailure_KeepsPending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.Append(ctx, testEntry("a", 1))
	require.NoError(t, err)

	attempts, err := j.RecordFailure(ctx, "a", "timeout")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	attempts, err = j.RecordFailure(ctx, "a", "timeout again")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "timeout again", pending[0].LastError)
}

func TestGet_Missing(t *testing.T) {
	j := newTestJournal(t)

	_, found, err := j.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		_, err := j.Append(ctx, testEntry(id, int64(i+1)))
		require.NoError(t, err)
	}
	_, err := j.MarkDone(ctx, "a")
	require.NoError(t, err)
	_, err = j.MarkFailed(ctx, "b", "boom")
	require.NoError(t, err)

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 2, Done: 1, Failed: 1, Total: 4}, stats)
}

func TestPurge_KeepsPending(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := j.Append(ctx, testEntry(id, int64(i+1)))
		require.NoError(t, err)
	}
	_, err := j.MarkDone(ctx, "a")
	require.NoError(t, err)
	_, err = j.MarkFailed(ctx, "b", "boom")
	require.NoError(t, err)

	removed, err := j.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	stats, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Total: 1}, stats)
}

func TestAppend_NilPayloadForDelete(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	e := Entry{ID: "d1", Table: "entries", Op: ledger.OpDelete, Resource: "entries-e1", Seq: 1}
	inserted, err := j.Append(ctx, e)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, _, err := j.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, ledger.OpDelete, got.Op)
	assert.Equal(t, record.Record{}, got.Payload)
}

func TestIsTransientSQLiteErr(t *testing.T) {
	assert.False(t, isTransientSQLiteErr(nil))
	assert.False(t, isTransientSQLiteErr(assert.AnError))
	assert.True(t, isTransientSQLiteErr(errDatabaseLocked{}))
}

type errDatabaseLocked struct{}

func (errDatabaseLocked) Error() string { return "database is locked" }

func TestBackoffDelay_Bounds(t *testing.T) {
	cfg := defaultRetryConfig
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, cfg.baseDelay<<0)
		assert.LessOrEqual(t, d, cfg.maxDelay+cfg.baseDelay)
	}
}
