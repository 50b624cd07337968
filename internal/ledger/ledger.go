package ledger

import (
	"sync"
	"time"

	"github.com/Jensinjames/opsync/internal/record"
)

// Ledger is the process-wide registry of optimistic updates. Construct one at
// composition time and pass it to every consumer; tests get their own
// isolated instance.
//
// Thread-safety: all methods may be called from any goroutine. Mutations are
// applied atomically under one mutex, so an id can never be confirmed and
// failed concurrently.
type Ledger struct {
	mu      sync.Mutex
	updates map[string]*update
	order   []string // creation order of ids still in the map
	clock   *Clock
	gen     TokenGenerator
	signal  chan struct{} // coalesced change notification, buffered size 1
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTokenGenerator overrides the id generator (UUIDv7 by default).
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(l *Ledger) {
		l.gen = gen
	}
}

// WithClock overrides the logical clock, e.g. to resume sequencing after a
// journal reload.
func WithClock(clock *Clock) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		updates: make(map[string]*update),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.gen == nil {
		l.gen = UUIDv7Generator{}
	}
	if l.clock == nil {
		l.clock = NewClock()
	}
	return l
}

// Insert registers a speculative new row and returns its snapshot.
func (l *Ledger) Insert(table string, data record.Record) Snapshot {
	return l.register(OpInsert, table, "", data, nil)
}

// Update registers a speculative modification of an existing row. original is
// the pre-image consumers revert to if the action fails.
func (l *Ledger) Update(table, id string, data, original record.Record) Snapshot {
	return l.register(OpUpdate, table, id, data, original)
}

// Delete registers a speculative removal of an existing row. original is the
// pre-image restored if the action fails.
func (l *Ledger) Delete(table, id string, original record.Record) Snapshot {
	return l.register(OpDelete, table, id, nil, original)
}

// Upsert registers a speculative insert-or-replace keyed by id.
func (l *Ledger) Upsert(table, id string, data record.Record) Snapshot {
	return l.register(OpUpsert, table, id, data, nil)
}

// Register records a pending update with an explicit op and id, e.g. when
// rebuilding ledger state from a journal. An empty id gets a generated one.
func (l *Ledger) Register(op Op, table, id string, data, original record.Record) Snapshot {
	return l.register(op, table, id, data, original)
}

// register creates a pending entry. An empty id gets a generated one.
func (l *Ledger) register(op Op, table, id string, data, original record.Record) Snapshot {
	if id == "" {
		id = l.gen.Generate()
	}

	l.mu.Lock()
	u := &update{
		id:         id,
		table:      table,
		op:         op,
		seq:        l.clock.Next(),
		createdAt:  time.Now(),
		state:      StatePending,
		optimistic: data.Clone(),
		original:   original.Clone(),
	}
	l.updates[id] = u
	l.order = append(l.order, id)
	snap := u.snapshot()
	l.mu.Unlock()

	l.notify()
	return snap
}

// Confirm transitions a pending update to Confirmed, replacing its optimistic
// payload with the authoritative server data. Returns false without effect if
// the id is unknown or the update already settled.
func (l *Ledger) Confirm(id string, server record.Record) bool {
	l.mu.Lock()
	u, ok := l.updates[id]
	if !ok || u.state != StatePending {
		l.mu.Unlock()
		return false
	}
	u.state = StateConfirmed
	u.confirmed = server.Clone()
	l.mu.Unlock()

	l.notify()
	return true
}

// Fail transitions a pending update to Failed, recording the action's error.
// Returns false without effect if the id is unknown or already settled.
// Fail itself never fails: the error belongs to the action, not the ledger.
func (l *Ledger) Fail(id string, err error) bool {
	l.mu.Lock()
	u, ok := l.updates[id]
	if !ok || u.state != StatePending {
		l.mu.Unlock()
		return false
	}
	u.state = StateFailed
	u.failure = err
	l.mu.Unlock()

	l.notify()
	return true
}

// Get returns the snapshot for id, if present.
func (l *Ledger) Get(id string) (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.updates[id]
	if !ok {
		return Snapshot{}, false
	}
	return u.snapshot(), true
}

// Effective resolves the data a consumer should display for id right now:
//
//   - pending insert/update/upsert: the optimistic payload
//   - pending or confirmed delete: gone (nil, false)
//   - confirmed insert/update/upsert: the server data
//   - failed update/delete: the original pre-image (revert)
//   - failed insert/upsert: gone (nil, false)
func (l *Ledger) Effective(id string) (record.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.updates[id]
	if !ok {
		return nil, false
	}
	switch u.state {
	case StateConfirmed:
		if u.op == OpDelete {
			return nil, false
		}
		return u.confirmed.Clone(), true
	case StateFailed:
		if u.op == OpUpdate || u.op == OpDelete {
			return u.original.Clone(), true
		}
		return nil, false
	default:
		if u.op == OpDelete {
			return nil, false
		}
		return u.optimistic.Clone(), true
	}
}

// Pending returns all pending updates in creation order.
func (l *Ledger) Pending() []Snapshot {
	return l.collect(func(u *update) bool { return u.state == StatePending })
}

// PendingFor returns pending updates for one table, in creation order.
func (l *Ledger) PendingFor(table string) []Snapshot {
	return l.collect(func(u *update) bool {
		return u.state == StatePending && u.table == table
	})
}

// PendingCount returns the number of pending updates, e.g. for a "syncing"
// badge.
func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, u := range l.updates {
		if u.state == StatePending {
			n++
		}
	}
	return n
}

func (l *Ledger) collect(keep func(*update) bool) []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snaps := make([]Snapshot, 0, len(l.order))
	for _, id := range l.order {
		if u, ok := l.updates[id]; ok && keep(u) {
			snaps = append(snaps, u.snapshot())
		}
	}
	return snaps
}

// Forget removes an update regardless of state. Returns false if the id is
// unknown. Consumers call this after they have applied a settled update to
// their own view.
func (l *Ledger) Forget(id string) bool {
	l.mu.Lock()
	_, ok := l.updates[id]
	if ok {
		delete(l.updates, id)
		l.compactOrderLocked()
	}
	l.mu.Unlock()

	if ok {
		l.notify()
	}
	return ok
}

// Prune removes every settled (confirmed or failed) update and returns the
// number removed. Pending updates are untouched.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	n := 0
	for id, u := range l.updates {
		if u.state != StatePending {
			delete(l.updates, id)
			n++
		}
	}
	if n > 0 {
		l.compactOrderLocked()
	}
	l.mu.Unlock()

	if n > 0 {
		l.notify()
	}
	return n
}

// compactOrderLocked drops ids no longer in the map from the creation-order
// list. Caller must hold l.mu.
func (l *Ledger) compactOrderLocked() {
	kept := l.order[:0]
	for _, id := range l.order {
		if _, ok := l.updates[id]; ok {
			kept = append(kept, id)
		}
	}
	// Nil out the tail so removed ids do not pin strings.
	for i := len(kept); i < len(l.order); i++ {
		l.order[i] = ""
	}
	l.order = kept
}

// Len returns the total number of updates held, settled included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updates)
}

// Watch returns a channel that signals after ledger mutations. Signals are
// coalesced (buffer of 1) and the channel is shared: intended for a single
// consumer that re-reads Pending on each signal.
func (l *Ledger) Watch() <-chan struct{} {
	return l.signal
}

func (l *Ledger) notify() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}
