package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Jensinjames/opsync/internal/ledger"
	"github.com/Jensinjames/opsync/internal/record"
)

const entryColumns = `id, tbl, op, resource, payload, seq, status, attempts, last_error, created_at, updated_at`

// Pending returns entries awaiting replay in deterministic drain order:
// seq ASC with id (binary collation) as tiebreaker. Two processes draining
// the same journal observe the same sequence.
func (j *Journal) Pending(ctx context.Context) ([]Entry, error) {
	return j.list(ctx, `
		SELECT `+entryColumns+`
		FROM operations
		WHERE status = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(StatusPending))
}

// List returns every entry regardless of status, in drain order.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	return j.list(ctx, `
		SELECT `+entryColumns+`
		FROM operations
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// Get returns the entry with the given id, reporting whether it exists.
func (j *Journal) Get(ctx context.Context, id string) (Entry, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM operations
		WHERE id = ?
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get entry: %w", err)
	}
	return e, true, nil
}

// Stats summarizes the journal by status.
type Stats struct {
	Pending int
	Done    int
	Failed  int
	Total   int
}

// Stats counts entries per status.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM operations GROUP BY status
	`)
	if err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("journal stats: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusDone:
			stats.Done = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("journal stats: %w", err)
	}
	return stats, nil
}

func (j *Journal) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                    Entry
		op, status           string
		payload              string
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&e.ID, &e.Table, &op, &e.Resource, &payload, &e.Seq,
		&status, &e.Attempts, &e.LastError, &createdAt, &updatedAt,
	); err != nil {
		return Entry{}, err
	}

	parsedOp, err := ledger.ParseOp(op)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	e.Op = parsedOp
	e.Status = Status(status)

	e.Payload, err = record.UnmarshalCanonical([]byte(payload))
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}

	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("entry %s: created_at: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Entry{}, fmt.Errorf("entry %s: updated_at: %w", e.ID, err)
	}
	return e, nil
}
