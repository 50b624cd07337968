package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Jensinjames/opsync/internal/record"
)

// Action is the real network call behind an optimistic mutation - a backend
// SDK call or server action. It receives the caller's input payload and
// returns the authoritative server representation.
type Action func(ctx context.Context, data record.Record) (record.Record, error)

// Request describes one optimistic action execution.
type Request struct {
	// Table is the logical table the mutation applies to. Required.
	Table string
	// Op is the mutation kind. Required.
	Op Op
	// Data is the caller's input payload, passed to Action.
	Data record.Record
	// Action performs the real mutation. Required.
	Action Action

	// OptimisticID forces the update id; empty means generate one.
	OptimisticID string
	// Original is the pre-image for update/delete, used to revert.
	Original record.Record
	// Optimistic derives the speculative display payload from Data.
	// Nil means Data is shown as-is.
	Optimistic func(record.Record) record.Record
	// Transform post-processes the server response before it is recorded
	// as confirmed data. Nil means the response is recorded as-is.
	Transform func(record.Record) record.Record

	// OnSuccess runs after Confirm with the processed server data.
	OnSuccess func(record.Record)
	// OnError runs after Fail with the action's error.
	OnError func(error)
	// OnSettled always runs last, regardless of outcome - the place to
	// dismiss a loading indicator.
	OnSettled func()
}

// Result is the outcome of Execute. Exactly one of Data/Err is meaningful,
// discriminated by OK. UpdateID names the ledger entry, empty when the
// request was rejected before an entry was registered.
type Result struct {
	OK       bool
	Data     record.Record
	Err      error
	UpdateID string
}

// Execute orchestrates one optimistic mutation end to end: register the
// speculative entry, invoke the action, confirm with the (optionally
// transformed) server response or fail with the action's error, fire the
// callbacks, and report a Result. Execute never panics and never returns an
// error through any channel other than the Result and OnError - call sites
// must be able to treat it as infallible plumbing.
func Execute(ctx context.Context, l *Ledger, req Request) Result {
	settle := func() {
		if req.OnSettled != nil {
			req.OnSettled()
		}
	}
	reject := func(err error) Result {
		if req.OnError != nil {
			req.OnError(err)
		}
		settle()
		return Result{Err: err}
	}

	if req.Action == nil {
		return reject(errors.New("optimistic action requires an Action"))
	}
	if req.Table == "" {
		return reject(errors.New("optimistic action requires a Table"))
	}

	optimistic := req.Data
	if req.Optimistic != nil {
		optimistic = req.Optimistic(req.Data)
	}

	var snap Snapshot
	switch req.Op {
	case OpInsert, OpUpsert, OpUpdate:
		snap = l.register(req.Op, req.Table, req.OptimisticID, optimistic, req.Original)
	case OpDelete:
		snap = l.register(OpDelete, req.Table, req.OptimisticID, nil, req.Original)
	default:
		return reject(fmt.Errorf("unknown operation %v", req.Op))
	}

	server, err := runAction(ctx, req.Action, req.Data)
	if err != nil {
		l.Fail(snap.ID, err)
		if req.OnError != nil {
			req.OnError(err)
		}
		settle()
		return Result{Err: err, UpdateID: snap.ID}
	}

	if req.Transform != nil {
		server = req.Transform(server)
	}
	l.Confirm(snap.ID, server)
	if req.OnSuccess != nil {
		req.OnSuccess(server)
	}
	settle()
	return Result{OK: true, Data: server, UpdateID: snap.ID}
}

// runAction invokes the action, converting a panic into an error so Execute
// keeps its never-throws contract.
func runAction(ctx context.Context, action Action, data record.Record) (server record.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return action(ctx, data)
}
