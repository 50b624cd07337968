// Package harness executes conformance scenarios against the real sync
// pipeline: each scenario gets a fresh in-memory journal, a deterministic
// ledger (sequential ids, logical clock), and a scripted remote, so the same
// scenario always produces the same trace. Traces are compared against golden
// files and validated by declarative assertions.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Jensinjames/opsync/internal/journal"
	"github.com/Jensinjames/opsync/internal/ledger"
	"github.com/Jensinjames/opsync/internal/record"
	"github.com/Jensinjames/opsync/internal/syncd"
	"github.com/Jensinjames/opsync/internal/testutil"
)

// Trace event type constants.
const (
	EventQueued  = "queued"
	EventApplied = "applied"
	EventFailed  = "failed"
	EventPending = "pending"
)

// TraceEvent is one observable step of a scenario run: a mutation entering
// the journal, or its terminal (or still-pending) outcome after the drain
// passes.
type TraceEvent struct {
	Type     string        `json:"type"`
	ID       string        `json:"id"`
	Op       string        `json:"op"`
	Table    string        `json:"table"`
	Resource string        `json:"resource"`
	Seq      int64         `json:"seq"`
	Attempts int           `json:"attempts,omitempty"`
	Data     record.Record `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Label is the event's identity in trace_order assertions, e.g. "applied op-1".
func (e TraceEvent) Label() string {
	return e.Type + " " + e.ID
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: true if all assertions held.
	Pass bool

	// Trace contains queued events in step order followed by outcome events
	// in journal drain order.
	Trace []TraceEvent

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string

	// PendingCount is the number of ledger updates still pending after the
	// drain passes.
	PendingCount int

	// effective maps step keys to the ledger's effective row data after the
	// run, for effective_state assertions.
	effective map[string]effectiveRow
}

type effectiveRow struct {
	data   record.Record
	exists bool
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		effective: make(map[string]effectiveRow),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory journal for isolation. Update
// ids are sequential ("op-1", "op-2", ...) and the drain runs with
// concurrency 1, so traces are fully deterministic.
//
// Execution flow:
//  1. Queue every step, scripting the remote per its "remote" outcome
//  2. Run the configured number of drain passes
//  3. Append outcome events from the journal, in drain order
//  4. Evaluate assertions against the trace and ledger state
func Run(scenario *Scenario) (*Result, error) {
	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	maxAttempts := scenario.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	passes := scenario.SyncPasses
	if passes == 0 {
		passes = 1
	}

	remote := testutil.NewRemote()
	led := ledger.New(ledger.WithTokenGenerator(ledger.NewSequenceGenerator("op")))
	svc := syncd.New(j, remote,
		syncd.WithLedger(led),
		syncd.WithMaxAttempts(maxAttempts),
		// Suppress logs in scenario runs.
		syncd.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := context.Background()
	result := NewResult()
	keyToID := make(map[string]string)

	for i, step := range scenario.Steps {
		op, err := ledger.ParseOp(step.Action)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}

		resource := step.Table
		if step.Key != "" {
			resource = step.Table + "-" + step.Key
		}

		data := record.Record(step.Data)
		e, err := svc.Queue(ctx, step.Table, resource, op, data, record.Record(step.Original))
		if err != nil {
			return nil, fmt.Errorf("step %d: failed to queue: %w", i, err)
		}

		if step.Remote == RemoteFail {
			msg := step.Error
			if msg == "" {
				msg = "remote failure"
			}
			remote.FailAlways(e.ID, errors.New(msg))
		}
		if step.Key != "" {
			keyToID[step.Key] = e.ID
		}

		result.Trace = append(result.Trace, TraceEvent{
			Type:     EventQueued,
			ID:       e.ID,
			Op:       op.String(),
			Table:    step.Table,
			Resource: resource,
			Seq:      e.Seq,
			Data:     data.Clone(),
		})
	}

	for p := 0; p < passes; p++ {
		if _, err := svc.Sync(ctx); err != nil {
			return nil, fmt.Errorf("sync pass %d: %w", p+1, err)
		}
	}

	entries, err := j.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	for _, e := range entries {
		ev := TraceEvent{
			ID:       e.ID,
			Op:       e.Op.String(),
			Table:    e.Table,
			Resource: e.Resource,
			Seq:      e.Seq,
			Attempts: e.Attempts,
		}
		switch e.Status {
		case journal.StatusDone:
			ev.Type = EventApplied
			if snap, ok := led.Get(e.ID); ok {
				ev.Data = snap.Data
			}
		case journal.StatusFailed:
			ev.Type = EventFailed
			ev.Error = e.LastError
		default:
			ev.Type = EventPending
			ev.Error = e.LastError
		}
		result.Trace = append(result.Trace, ev)
	}

	result.PendingCount = led.PendingCount()
	for key, id := range keyToID {
		data, ok := led.Effective(id)
		result.effective[key] = effectiveRow{data: data, exists: ok}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
