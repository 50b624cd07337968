package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/Jensinjames/opsync/internal/record"
)

// Append inserts an entry into the journal.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - re-appending an id that is
// already journaled is silently ignored and reported via inserted=false.
//
// The payload is serialized to canonical JSON per RFC 8785, so the stored
// bytes are stable across replays and safe to diff.
func (j *Journal) Append(ctx context.Context, e Entry) (inserted bool, err error) {
	payload := e.Payload
	if payload == nil {
		// Deletes carry no payload; store an empty object rather than NULL
		// so every row round-trips through the canonical codec.
		payload = record.Record{}
	}
	payloadJSON, err := record.MarshalCanonical(payload)
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}

	now := j.now().Format(time.RFC3339Nano)

	var affected int64
	err = retryOp(defaultRetryConfig, func() error {
		res, execErr := j.db.ExecContext(ctx, `
			INSERT INTO operations
			(id, tbl, op, resource, payload, seq, status, attempts, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			e.ID,
			e.Table,
			e.Op.String(),
			e.Resource,
			string(payloadJSON),
			e.Seq,
			string(StatusPending),
			now,
			now,
		)
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("append entry: %w", err)
	}

	return affected > 0, nil
}

// MarkDone transitions an entry to done. Returns false if no pending entry
// with the id exists - done and failed entries stay as they are.
func (j *Journal) MarkDone(ctx context.Context, id string) (bool, error) {
	return j.transition(ctx, id, StatusDone, "")
}

// MarkFailed transitions an entry to failed, recording the terminal error.
// Returns false if no pending entry with the id exists.
func (j *Journal) MarkFailed(ctx context.Context, id, msg string) (bool, error) {
	return j.transition(ctx, id, StatusFailed, msg)
}

// RecordFailure increments the attempt counter and records the error while
// keeping the entry pending, so a later drain pass picks it up again.
// Returns the new attempt count.
func (j *Journal) RecordFailure(ctx context.Context, id, msg string) (int, error) {
	now := j.now().Format(time.RFC3339Nano)

	err := retryOp(defaultRetryConfig, func() error {
		_, execErr := j.db.ExecContext(ctx, `
			UPDATE operations
			SET attempts = attempts + 1, last_error = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, msg, now, id, string(StatusPending))
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}

	var attempts int
	err = j.db.QueryRowContext(ctx,
		`SELECT attempts FROM operations WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return attempts, nil
}

// transition moves a pending entry to a terminal status.
func (j *Journal) transition(ctx context.Context, id string, to Status, msg string) (bool, error) {
	now := j.now().Format(time.RFC3339Nano)

	var affected int64
	err := retryOp(defaultRetryConfig, func() error {
		res, execErr := j.db.ExecContext(ctx, `
			UPDATE operations
			SET status = ?, last_error = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(to), msg, now, id, string(StatusPending))
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", to, err)
	}

	return affected > 0, nil
}

// Purge deletes settled (done or failed) entries, returning the number removed.
// Pending entries are never purged.
func (j *Journal) Purge(ctx context.Context) (int64, error) {
	var affected int64
	err := retryOp(defaultRetryConfig, func() error {
		res, execErr := j.db.ExecContext(ctx, `
			DELETE FROM operations WHERE status != ?
		`, string(StatusPending))
		if execErr != nil {
			return execErr
		}
		affected, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return affected, nil
}
