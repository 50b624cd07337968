// Package coordinator serializes operations that target the same logical
// resource, identified by an application-chosen key string such as
// "profile-<userID>".
//
// A new operation for a key first waits for the most recently registered
// in-flight operation on that key to settle, then runs. A failure of the
// prior operation is logged and swallowed - it delays the new operation but
// never blocks it and never propagates to its caller. This is deliberately
// best-effort serialization, not a lock: two operations that both observe an
// empty key before either registers may still interleave. The policy targets
// the rapid re-submit pattern (double-clicked save) without the latency cost
// of a strict per-key FIFO.
package coordinator
