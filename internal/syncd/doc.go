// Package syncd is the composition root of the offline sync pipeline. A
// Service owns the durable journal, the bounded-concurrency operation queue,
// the per-resource request coordinator, and the optimistic update ledger, and
// drives journaled mutations through the remote backend.
//
// Lifecycle of one mutation:
//
//	Queue     - register an optimistic ledger entry, append to the journal
//	Sync      - drain pending journal entries through queue + coordinator
//	            into Remote.Apply
//	on success - journal entry marked done, ledger entry confirmed with the
//	            server response
//	on failure - attempt recorded; after MaxAttempts the entry is marked
//	            failed and the ledger entry fails (consumers revert)
//
// Restore rebuilds ledger state from pending journal entries after a process
// restart, so optimistic rows survive crashes.
package syncd
