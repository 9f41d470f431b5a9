// Package dispatch runs engine work on a bounded pool of worker goroutines
// and hands results back to host code through futures.
//
// Submitting never blocks the caller: when the pool is stopped or its queue is
// full, the returned Future is already rejected with a scheduling error.
// Every Future settles exactly once. Completion callbacks registered with
// OnComplete run on the host loop when the dispatcher has one, always in a
// later turn than the one that submitted the task.
//
// Cancellation is not preemptive. A cancelled context rejects a task that has
// not started yet; a running task only observes cancellation where the work
// it runs checks its context.
package dispatch
