package syncd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jensinjames/opsync/internal/coordinator"
	"github.com/Jensinjames/opsync/internal/journal"
	"github.com/Jensinjames/opsync/internal/ledger"
	"github.com/Jensinjames/opsync/internal/queue"
	"github.com/Jensinjames/opsync/internal/record"
	"github.com/Jensinjames/opsync/internal/schema"
)

// ErrSyncInProgress is returned by Sync when a drain pass is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// DefaultMaxAttempts is the retry budget per journal entry before it is
// marked failed and its ledger entry reverts.
const DefaultMaxAttempts = 3

// Remote applies one journaled mutation against the backend and returns the
// authoritative server representation of the affected row.
type Remote interface {
	Apply(ctx context.Context, e journal.Entry) (record.Record, error)
}

// Error records one failed Apply during a drain pass.
type Error struct {
	EntryID  string
	Table    string
	Resource string
	Attempts int
	Terminal bool // the entry exhausted its retry budget
	Err      error
	At       time.Time
}

// Report summarizes one drain pass.
type Report struct {
	Applied   int // entries marked done
	Failed    int // entries that failed this pass (terminal or not)
	Remaining int // entries still pending after the pass
}

// Service drives journaled mutations through the remote backend.
type Service struct {
	journal     *journal.Journal
	remote      Remote
	queue       *queue.Queue
	coord       *coordinator.Coordinator
	ledger      *ledger.Ledger
	schemas     *schema.Registry
	log         *slog.Logger
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	syncing  bool
	lastSync time.Time
	synced   bool
	errs     []Error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMaxAttempts sets the per-entry retry budget. Values below 1 are coerced
// to 1.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n < 1 {
			n = 1
		}
		s.maxAttempts = n
	}
}

// WithConcurrency sets how many entries sync simultaneously. The default of 1
// replays the journal strictly in order.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.queue = queue.New(queue.WithConcurrency(n)) }
}

// WithLedger injects a shared ledger, e.g. one with a deterministic token
// generator for scenario runs.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithSchema installs a table-schema registry. Queue then rejects payloads
// that fail validation for tables the registry declares; tables without a
// schema pass through unchecked.
func WithSchema(r *schema.Registry) Option {
	return func(s *Service) { s.schemas = r }
}

// WithNow overrides the timestamp source. Used by tests for determinism.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service on top of an open journal and a remote backend.
func New(j *journal.Journal, remote Remote, opts ...Option) *Service {
	s := &Service{
		journal:     j,
		remote:      remote,
		queue:       queue.New(),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	s.coord = coordinator.New(coordinator.WithLogger(s.log))
	return s
}

// Ledger exposes the optimistic update ledger for view-layer consumers.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Queue registers an optimistic ledger entry for the mutation and appends it
// to the durable journal. The mutation is not sent anywhere until Sync runs.
// resource is the coordination key; entries sharing it are applied serially.
func (s *Service) Queue(ctx context.Context, table, resource string, op ledger.Op, data, original record.Record) (journal.Entry, error) {
	if s.schemas != nil && op != ledger.OpDelete && s.schemas.Has(table) {
		if err := s.schemas.Validate(table, data); err != nil {
			return journal.Entry{}, fmt.Errorf("queue mutation: %w", err)
		}
	}

	snap := s.ledger.Register(op, table, "", data, original)

	e := journal.Entry{
		ID:       snap.ID,
		Table:    table,
		Op:       op,
		Resource: resource,
		Payload:  data,
		Seq:      snap.Seq,
		Status:   journal.StatusPending,
	}
	if _, err := s.journal.Append(ctx, e); err != nil {
		// The optimistic entry must not outlive a failed journal write.
		s.ledger.Forget(snap.ID)
		return journal.Entry{}, fmt.Errorf("queue mutation: %w", err)
	}

	s.log.Debug("queued mutation",
		"id", e.ID, "table", table, "op", op.String(), "resource", resource, "seq", e.Seq)
	return e, nil
}

// Restore re-registers ledger entries for every pending journal entry, in
// drain order. Call once after Open, before the first Queue or Sync, so
// optimistic state survives a restart. Returns the number restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	pending, err := s.journal.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}

	for _, e := range pending {
		payload := e.Payload
		if e.Op == ledger.OpDelete {
			payload = nil
		}
		s.ledger.Register(e.Op, e.Table, e.ID, payload, nil)
	}
	if len(pending) > 0 {
		s.log.Info("restored pending mutations", "count", len(pending))
	}
	return len(pending), nil
}

// Sync drains every pending journal entry through the remote backend and
// reports the outcome. Entries are started in journal drain order, bounded by
// the configured concurrency, with same-resource entries serialized by the
// coordinator. Only one drain pass runs at a time; a concurrent call returns
// ErrSyncInProgress.
func (s *Service) Sync(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return Report{}, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.lastSync = s.now()
		s.synced = true
		s.mu.Unlock()
	}()

	pending, err := s.journal.Pending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("sync: %w", err)
	}
	if len(pending) == 0 {
		return Report{}, nil
	}
	s.log.Info("sync started", "pending", len(pending))

	handles := make([]*queue.Handle, len(pending))
	for i, e := range pending {
		handles[i] = s.queue.EnqueueID(ctx, e.ID, s.applyOp(e))
	}

	var report Report
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			report.Failed++
		} else {
			report.Applied++
		}
	}

	stats, err := s.journal.Stats(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: %w", err)
	}
	report.Remaining = stats.Pending

	s.log.Info("sync finished",
		"applied", report.Applied, "failed", report.Failed, "remaining", report.Remaining)
	return report, nil
}

// applyOp builds the queue operation for one journal entry: apply through the
// coordinator, then settle journal and ledger according to the outcome.
func (s *Service) applyOp(e journal.Entry) queue.Operation {
	return func(ctx context.Context) (any, error) {
		server, err := s.coord.Do(ctx, e.Resource, e.Op.String(), func(ctx context.Context) (any, error) {
			return s.remote.Apply(ctx, e)
		})
		if err != nil {
			s.handleFailure(ctx, e, err)
			return nil, err
		}

		rec, _ := server.(record.Record)
		s.handleSuccess(ctx, e, rec)
		return rec, nil
	}
}

func (s *Service) handleSuccess(ctx context.Context, e journal.Entry, server record.Record) {
	if _, err := s.journal.MarkDone(ctx, e.ID); err != nil {
		s.log.Error("mark done failed", "id", e.ID, "error", err)
	}
	s.ledger.Confirm(e.ID, server)
	s.log.Debug("mutation applied", "id", e.ID, "table", e.Table, "op", e.Op.String())
}

func (s *Service) handleFailure(ctx context.Context, e journal.Entry, applyErr error) {
	attempts, err := s.journal.RecordFailure(ctx, e.ID, applyErr.Error())
	if err != nil {
		s.log.Error("record failure failed", "id", e.ID, "error", err)
		attempts = e.Attempts + 1
	}

	terminal := attempts >= s.maxAttempts
	if terminal {
		if _, err := s.journal.MarkFailed(ctx, e.ID, applyErr.Error()); err != nil {
			s.log.Error("mark failed failed", "id", e.ID, "error", err)
		}
		s.ledger.Fail(e.ID, applyErr)
		s.log.Warn("mutation failed permanently",
			"id", e.ID, "table", e.Table, "attempts", attempts, "error", applyErr)
	} else {
		s.log.Warn("mutation failed, will retry",
			"id", e.ID, "table", e.Table, "attempts", attempts, "error", applyErr)
	}

	s.mu.Lock()
	s.errs = append(s.errs, Error{
		EntryID:  e.ID,
		Table:    e.Table,
		Resource: e.Resource,
		Attempts: attempts,
		Terminal: terminal,
		Err:      applyErr,
		At:       s.now(),
	})
	s.mu.Unlock()
}

// PendingCount returns the number of journal entries awaiting sync.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	stats, err := s.journal.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Pending, nil
}

// Syncing reports whether a drain pass is currently running.
func (s *Service) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// LastSync returns when the most recent drain pass finished, and false if no
// pass has run yet.
func (s *Service) LastSync() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.synced
}

// Errors returns a copy of the failures recorded since the last ClearErrors.
func (s *Service) Errors() []Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Error, len(s.errs))
	copy(out, s.errs)
	return out
}

// ClearErrors discards the recorded failure list.
func (s *Service) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = nil
}
