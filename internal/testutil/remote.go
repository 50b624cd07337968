// Package testutil provides scripted doubles shared by package tests and the
// scenario harness.
package testutil

import (
	"context"
	"sync"

	"github.com/Jensinjames/opsync/internal/journal"
	"github.com/Jensinjames/opsync/internal/ledger"
	"github.com/Jensinjames/opsync/internal/record"
)

// Call records one Apply invocation for later assertions.
type Call struct {
	EntryID  string
	Table    string
	Resource string
	Op       ledger.Op
	Payload  record.Record
}

// Remote is a scripted in-memory backend. By default every Apply succeeds and
// echoes the payload with "applied": true merged in; individual entry ids can
// be scripted to fail a number of times (or always) before succeeding.
type Remote struct {
	mu       sync.Mutex
	failures map[string]*scriptedFailure
	calls    []Call
}

type scriptedFailure struct {
	remaining int // -1 means fail forever
	err       error
}

// NewRemote creates a remote with no scripted failures.
func NewRemote() *Remote {
	return &Remote{failures: make(map[string]*scriptedFailure)}
}

// FailNext scripts the next n Apply calls for the entry id to fail with err.
func (r *Remote) FailNext(id string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = &scriptedFailure{remaining: n, err: err}
}

// FailAlways scripts every Apply call for the entry id to fail with err.
func (r *Remote) FailAlways(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = &scriptedFailure{remaining: -1, err: err}
}

// Apply records the call, then either fails per script or succeeds with the
// echoed payload.
func (r *Remote) Apply(_ context.Context, e journal.Entry) (record.Record, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{
		EntryID:  e.ID,
		Table:    e.Table,
		Resource: e.Resource,
		Op:       e.Op,
		Payload:  e.Payload.Clone(),
	})
	if f, ok := r.failures[e.ID]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		r.mu.Unlock()
		return nil, f.err
	}
	r.mu.Unlock()

	if e.Op == ledger.OpDelete {
		return record.Record{"applied": true}, nil
	}
	return record.Merge(e.Payload, record.Record{"applied": true}), nil
}

// Calls returns a copy of every recorded Apply invocation, in call order.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times Apply ran for the entry id.
func (r *Remote) CallCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.EntryID == id {
			n++
		}
	}
	return n
}
