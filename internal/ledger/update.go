package ledger

import (
	"fmt"
	"time"

	"github.com/Jensinjames/opsync/internal/record"
)

// Op distinguishes the kinds of optimistic mutation.
type Op int

const (
	// OpInsert adds a new row the server has not seen yet.
	OpInsert Op = iota + 1
	// OpUpdate modifies an existing row; the pre-image is kept for revert.
	OpUpdate
	// OpDelete removes an existing row; the pre-image is kept for revert.
	OpDelete
	// OpUpsert inserts or replaces a row keyed by id.
	OpUpsert
)

var opNames = map[Op]string{
	OpInsert: "insert",
	OpUpdate: "update",
	OpDelete: "delete",
	OpUpsert: "upsert",
}

// String returns the lowercase wire name of the operation.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// ParseOp converts a wire name ("insert", "update", "delete", "upsert") back
// to an Op. Used by the journal and by scenario files.
func ParseOp(s string) (Op, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// State is the lifecycle position of an optimistic update. Transitions are
// Pending -> Confirmed or Pending -> Failed; terminal states never change.
type State int

const (
	// StatePending means the mutation is speculative: shown locally,
	// unacknowledged by the server.
	StatePending State = iota + 1
	// StateConfirmed means the server acknowledged the mutation; the
	// update carries the authoritative server data.
	StateConfirmed
	// StateFailed means the action rejected; the update carries the
	// action's error and consumers revert to the original data.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// update is the ledger's internal entry. Fields are guarded by the ledger
// mutex; snapshots are handed out instead of pointers.
type update struct {
	id        string
	table     string
	op        Op
	seq       int64
	createdAt time.Time

	state      State
	optimistic record.Record
	original   record.Record
	confirmed  record.Record
	failure    error
}

// Snapshot is an immutable view of one update, safe to hold across ledger
// mutations. Data is the display payload for the update's current state:
// server data once confirmed, otherwise the optimistic payload. Err is set
// only for failed updates.
type Snapshot struct {
	ID        string
	Table     string
	Op        Op
	State     State
	Seq       int64
	CreatedAt time.Time
	Data      record.Record
	Err       error
}

func (u *update) snapshot() Snapshot {
	data := u.optimistic
	if u.state == StateConfirmed {
		data = u.confirmed
	}
	return Snapshot{
		ID:        u.id,
		Table:     u.table,
		Op:        u.op,
		State:     u.state,
		Seq:       u.seq,
		CreatedAt: u.createdAt,
		Data:      data.Clone(),
		Err:       u.failure,
	}
}
