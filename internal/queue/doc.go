// Package queue serializes asynchronous operations behind a configurable
// concurrency limit.
//
// The default limit is 1, which gives strict FIFO execution: each operation
// starts only after the previous one has settled. Operations enqueued with an
// explicit id are deduplicated while still queued - a second enqueue for the
// same id attaches to the first operation's handle instead of scheduling the
// function again, so every caller observes the single shared outcome.
//
// The queue never retries and never transforms errors: an operation's failure
// reaches exactly the callers waiting on its handle. Clear rejects operations
// that have not started with ErrCancelled; operations already executing run
// to completion.
package queue
