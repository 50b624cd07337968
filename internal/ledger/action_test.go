package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jensinjames/opsync/internal/record"
)

func TestExecute_SuccessConfirmsWithServerData(t *testing.T) {
	l := newTestLedger()

	res := Execute(context.Background(), l, Request{
		Table: "entries",
		Op:    OpInsert,
		Data:  record.Record{"category": "exercise"},
		Action: func(_ context.Context, data record.Record) (record.Record, error) {
			return record.Record{"id": "1", "value": 42}, nil
		},
	})

	require.True(t, res.OK)
	assert.NoError(t, res.Err)
	assert.Equal(t, record.Record{"id": "1", "value": 42}, res.Data)
	require.NotEmpty(t, res.UpdateID)

	got, ok := l.Get(res.UpdateID)
	require.True(t, ok)
	assert.Equal(t, StateConfirmed, got.State)
	assert.Equal(t, record.Record{"id": "1", "value": 42}, got.Data,
		"ledger must hold the server response, never the optimistic placeholder")
}

func TestExecute_TransformAppliesBeforeConfirm(t *testing.T) {
	l := newTestLedger()

	res := Execute(context.Background(), l, Request{
		Table: "entries",
		Op:    OpInsert,
		Data:  record.Record{"minutes": 30},
		Action: func(_ context.Context, data record.Record) (record.Record, error) {
			return record.Record{"minutes": 30, "internal": "x"}, nil
		},
		Transform: func(server record.Record) record.Record {
			out := server.Clone()
			delete(out, "internal")
			return out
		},
	})

	require.True(t, res.OK)
	assert.Equal(t, record.Record{"minutes": 30}, res.Data)
	got, _ := l.Get(res.UpdateID)
	assert.Equal(t, record.Record{"minutes": 30}, got.Data)
}

func TestExecute_FailureRevertsToOriginal(t *testing.T) {
	l := newTestLedger()
	boom := errors.New("network down")
	original := record.Record{"minutes": 30}

	res := Execute(context.Background(), l, Request{
		Table:        "entries",
		Op:           OpUpdate,
		OptimisticID: "e1",
		Data:         record.Record{"minutes": 45},
		Original:     original,
		Action: func(context.Context, record.Record) (record.Record, error) {
			return nil, boom
		},
	})

	assert.False(t, res.OK)
	assert.Same(t, boom, res.Err)
	assert.Equal(t, "e1", res.UpdateID)

	got, ok := l.Get("e1")
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)

	effective, ok := l.Effective("e1")
	require.True(t, ok)
	assert.Equal(t, original, effective, "consumers must observe the pre-action data after failure")
}

func TestExecute_OptimisticDerivation(t *testing.T) {
	l := newTestLedger()

	started := make(chan Snapshot, 1)
	Execute(context.Background(), l, Request{
		Table: "entries",
		Op:    OpInsert,
		Data:  record.Record{"category": "meditation"},
		Optimistic: func(data record.Record) record.Record {
			return record.Merge(data, record.Record{"syncing": true})
		},
		Action: func(_ context.Context, data record.Record) (record.Record, error) {
			// Capture what the UI would see mid-flight.
			pending := l.Pending()
			if len(pending) == 1 {
				started <- pending[0]
			}
			return data, nil
		},
	})

	snap := <-started
	assert.Equal(t, record.Record{"category": "meditation", "syncing": true}, snap.Data,
		"the derived optimistic payload is visible while the action is in flight")
}

func TestExecute_CallbackOrder(t *testing.T) {
	l := newTestLedger()

	var calls []string
	res := Execute(context.Background(), l, Request{
		Table:  "entries",
		Op:     OpInsert,
		Data:   record.Record{"n": 1},
		Action: func(_ context.Context, data record.Record) (record.Record, error) { return data, nil },
		OnSuccess: func(record.Record) { calls = append(calls, "success") },
		OnError:   func(error) { calls = append(calls, "error") },
		OnSettled: func() { calls = append(calls, "settled") },
	})

	require.True(t, res.OK)
	assert.Equal(t, []string{"success", "settled"}, calls, "OnSettled fires last")

	calls = nil
	res = Execute(context.Background(), l, Request{
		Table:  "entries",
		Op:     OpInsert,
		Data:   record.Record{"n": 2},
		Action: func(context.Context, record.Record) (record.Record, error) { return nil, assert.AnError },
		OnSuccess: func(record.Record) { calls = append(calls, "success") },
		OnError:   func(error) { calls = append(calls, "error") },
		OnSettled: func() { calls = append(calls, "settled") },
	})

	assert.False(t, res.OK)
	assert.Equal(t, []string{"error", "settled"}, calls)
}

func TestExecute_MissingActionIsRejectedNotPanicked(t *testing.T) {
	l := newTestLedger()

	var gotErr error
	settled := false
	res := Execute(context.Background(), l, Request{
		Table:     "entries",
		Op:        OpInsert,
		OnError:   func(err error) { gotErr = err },
		OnSettled: func() { settled = true },
	})

	assert.False(t, res.OK)
	require.Error(t, res.Err)
	assert.Same(t, res.Err, gotErr)
	assert.True(t, settled)
	assert.Empty(t, res.UpdateID, "no ledger entry for a rejected request")
	assert.Equal(t, 0, l.Len())
}

func TestExecute_PanickingActionBecomesFailure(t *testing.T) {
	l := newTestLedger()

	res := Execute(context.Background(), l, Request{
		Table: "entries",
		Op:    OpInsert,
		Data:  record.Record{"n": 1},
		Action: func(context.Context, record.Record) (record.Record, error) {
			panic("backend SDK bug")
		},
	})

	assert.False(t, res.OK)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "action panicked")

	got, ok := l.Get(res.UpdateID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
}

func TestExecute_DeleteFailureRestoresRow(t *testing.T) {
	l := newTestLedger()
	original := record.Record{"id": "e1", "minutes": 30}

	res := Execute(context.Background(), l, Request{
		Table:        "entries",
		Op:           OpDelete,
		OptimisticID: "e1",
		Original:     original,
		Action: func(context.Context, record.Record) (record.Record, error) {
			// While the delete is in flight the row is hidden.
			_, visible := l.Effective("e1")
			assert.False(t, visible)
			return nil, errors.New("forbidden")
		},
	})

	assert.False(t, res.OK)
	effective, ok := l.Effective("e1")
	require.True(t, ok)
	assert.Equal(t, original, effective)
}
