package dispatch

import "github.com/go-git/go-git-bridge/errors"

// Sentinel errors for the dispatch package. Submit wraps the first two in a
// scheduling error.
var (
	// ErrNotRunning is returned when tasks are submitted to a closed dispatcher.
	ErrNotRunning = errors.New("dispatcher is not running")

	// ErrQueueFull is returned when the queue cannot accept more tasks.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPending is returned by Future.Result before the future settles.
	ErrPending = errors.New("future is pending")
)
