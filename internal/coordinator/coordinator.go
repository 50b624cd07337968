package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pendingRequest tracks one coordinated operation from registration to
// settlement. Later arrivals for the same key wait on done; err carries the
// outcome for diagnostics only and is never re-surfaced to other callers.
type pendingRequest struct {
	id         string
	name       string
	registered time.Time
	done       chan struct{}
	err        error
}

// Coordinator serializes operations per resource key.
//
// Thread-safety: all methods may be called from any goroutine. The pending
// map holds only in-flight work; a key with no pending requests is removed,
// so long-lived coordinators do not accumulate dead keys.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string][]*pendingRequest
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for swallowed prior-operation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// New creates an empty coordinator. Without WithLogger it logs through
// slog.Default().
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		pending: make(map[string][]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Do runs op, guaranteeing it does not execute concurrently with another
// coordinated operation that registered earlier under the same key.
//
// If the key has pending requests, Do waits for the most recently registered
// one to settle before proceeding; a rejection of that prior request is
// logged and swallowed. Do then registers its own pending entry, runs op on
// the calling goroutine, and removes the entry on settlement. The error
// returned is op's own error, unchanged - coordination affects ordering, not
// error handling.
//
// Waiting is context-aware: if ctx is cancelled while queued behind a prior
// request, Do returns ctx.Err() without running op. name is used for
// diagnostics (Stats and log lines) only.
func (c *Coordinator) Do(ctx context.Context, key, name string, op func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	var prev *pendingRequest
	if list := c.pending[key]; len(list) > 0 {
		prev = list[len(list)-1]
	}
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-prev.done:
			if prev.err != nil {
				// Deliberately swallowed: a failed predecessor must not
				// block this operation's turn.
				c.logger.Warn("previous operation on key failed, proceeding",
					"key", key,
					"previous_operation", prev.name,
					"error", prev.err,
				)
			}
		}
	}

	req := &pendingRequest{
		id:         uuid.NewString(),
		name:       name,
		registered: time.Now(),
		done:       make(chan struct{}),
	}
	c.mu.Lock()
	c.pending[key] = append(c.pending[key], req)
	c.mu.Unlock()

	value, err := op(ctx)

	req.err = err
	close(req.done)
	c.remove(key, req)

	return value, err
}

// remove unregisters a settled request and drops the key once its list is
// empty, preventing unbounded growth for keys no longer in use.
func (c *Coordinator) remove(key string, req *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.pending[key]
	for i, r := range list {
		if r == req {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.pending, key)
	} else {
		c.pending[key] = list
	}
}

// KeyStats describes the in-flight operations for one key.
type KeyStats struct {
	Count      int       `json:"count"`
	Oldest     time.Time `json:"oldest"`
	Operations []string  `json:"operations"`
}

// Stats returns, for each key with pending operations, the pending count,
// the oldest registration time, and the operation names. Diagnostics only.
func (c *Coordinator) Stats() map[string]KeyStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]KeyStats, len(c.pending))
	for key, list := range c.pending {
		ks := KeyStats{Count: len(list)}
		for _, r := range list {
			if ks.Oldest.IsZero() || r.registered.Before(ks.Oldest) {
				ks.Oldest = r.registered
			}
			ks.Operations = append(ks.Operations, r.name)
		}
		stats[key] = ks
	}
	return stats
}
