// Package ledger records speculative local mutations against named logical
// tables and reconciles them with server-confirmed state.
//
// A UI action registers an optimistic update (insert, update, delete, or
// upsert) synchronously, renders it immediately, and later confirms it with
// the authoritative server response or fails it, reverting to the original
// data. Update state is a tagged variant - Pending, Confirmed (with server
// data), or Failed (with the action's error) - and terminal states are never
// reused: confirming or failing an unknown or already-settled id is a safe
// no-op, not an error.
//
// Execute is the orchestration entry point: it centralizes the
// register/confirm/fail bookkeeping around a network action so call sites
// cannot get the revert logic wrong.
package ledger
