package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is the rejection error for operations removed by Clear before
// they started. Callers can distinguish cancellation from an operation's own
// failure with errors.Is.
var ErrCancelled = errors.New("operation cancelled")

// DefaultConcurrency is the number of operations executed simultaneously
// unless WithConcurrency is given. 1 means strict FIFO serialization.
const DefaultConcurrency = 1

// Operation is a unit of work scheduled on the queue. The context is the one
// passed to Enqueue; operations should honor its cancellation.
type Operation func(ctx context.Context) (any, error)

// Handle is the caller's view of a scheduled operation. Multiple callers may
// hold the same handle (id deduplication); all of them observe the single
// settlement.
type Handle struct {
	done  chan struct{}
	value any
	err   error
}

// Done returns a channel closed when the operation settles.
// Use with select for context-aware waiting.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the operation settles or ctx is cancelled.
// Safe to call from any number of goroutines.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.value, h.err
	}
}

// settle records the outcome and wakes all waiters. Called exactly once.
func (h *Handle) settle(value any, err error) {
	h.value = value
	h.err = err
	close(h.done)
}

// task pairs an operation with its shared handle while it sits in the
// pending list.
type task struct {
	id     string
	ctx    context.Context
	op     Operation
	handle *Handle
}

// Queue executes operations with bounded concurrency and FIFO start order.
//
// Thread-safety: all methods may be called from any goroutine. Settlement of
// a handle happens outside the queue lock, so operations may enqueue further
// work from their own callbacks without deadlocking.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	pending     []*task
	queued      map[string]*task // explicit-id tasks that have not started
	active      int
	dispatching bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the maximum number of operations executing
// simultaneously. Values below 1 are coerced to 1.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.concurrency = n
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		concurrency: DefaultConcurrency,
		queued:      make(map[string]*task),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules op for execution and returns its handle. The returned
// handle settles exactly when op settles. If the queue is below its
// concurrency limit the operation starts on a fresh goroutine immediately.
func (q *Queue) Enqueue(ctx context.Context, op Operation) *Handle {
	return q.enqueue(ctx, "", op)
}

// EnqueueID schedules op under an explicit id. If an operation with the same
// id is already queued (not yet started), the existing handle is returned and
// op is NOT scheduled: the first registered function is the one that runs.
// Once an operation starts, its id becomes reusable.
func (q *Queue) EnqueueID(ctx context.Context, id string, op Operation) *Handle {
	return q.enqueue(ctx, id, op)
}

func (q *Queue) enqueue(ctx context.Context, id string, op Operation) *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id != "" {
		if existing, ok := q.queued[id]; ok {
			// Attach to the queued operation's outcome instead of
			// scheduling a duplicate.
			return existing.handle
		}
	}

	t := &task{
		id:     id,
		ctx:    ctx,
		op:     op,
		handle: &Handle{done: make(chan struct{})},
	}
	q.pending = append(q.pending, t)
	if id != "" {
		q.queued[id] = t
	}

	q.dispatching = true
	q.drainLocked()

	return t.handle
}

// drainLocked starts pending operations while capacity remains. The
// dispatching flag clears only at full quiescence, so a fresh Enqueue after
// the queue empties restarts the loop correctly.
// Caller must hold q.mu.
func (q *Queue) drainLocked() {
	for q.active < q.concurrency && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending[0] = nil // allow GC of the task while the slice head advances
		q.pending = q.pending[1:]
		if t.id != "" {
			delete(q.queued, t.id)
		}
		q.active++
		go q.run(t)
	}
	if q.active == 0 && len(q.pending) == 0 {
		q.dispatching = false
	}
}

// run executes a single task and re-enters the drain loop on settlement.
func (q *Queue) run(t *task) {
	var (
		value any
		err   error
	)
	if err = t.ctx.Err(); err == nil {
		value, err = invoke(t.ctx, t.op)
	}
	t.handle.settle(value, err)

	q.mu.Lock()
	q.active--
	q.drainLocked()
	q.mu.Unlock()
}

// invoke calls op, converting a panic into an error so a misbehaving
// operation cannot kill the drain loop.
func invoke(ctx context.Context, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Len returns the number of operations that have not started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of operations currently executing.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
}

// GetStats returns a snapshot of queue occupancy for diagnostics.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), Active: q.active}
}

// Clear rejects every not-yet-started operation with ErrCancelled and empties
// the pending list. Operations already executing are unaffected and settle
// normally. Returns the number of operations cancelled.
func (q *Queue) Clear() int {
	q.mu.Lock()
	cancelled := q.pending
	q.pending = nil
	clear(q.queued)
	if q.active == 0 {
		q.dispatching = false
	}
	q.mu.Unlock()

	// Settle outside the lock: waiters may re-enqueue from their callbacks.
	for _, t := range cancelled {
		t.handle.settle(nil, ErrCancelled)
	}
	return len(cancelled)
}
