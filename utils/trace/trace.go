package trace

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

var (
	// logger is the logger to use for tracing.
	logger atomic.Pointer[log.Logger]

	// current is the targets that are enabled for tracing.
	current atomic.Int32
)

func init() {
	logger.Store(newLogger())
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds|log.Lshortfile)
}

// Target is a tracing target.
type Target int

const (
	// General traces general operations.
	General Target = 1 << iota

	// Lock traces acquisition and release of repository locks.
	Lock

	// Task traces dispatcher task scheduling and settlement.
	Task

	// Callback traces host callback invocations. Credentials are never
	// printed.
	Callback
)

// SetTarget sets the tracing targets.
func SetTarget(target Target) {
	current.Store(int32(target))
}

// Enabled reports whether any of the given targets is being traced.
func Enabled(target Target) bool {
	return int32(target)&current.Load() != 0
}

// SetLogger sets the logger to use for tracing. A *zap.Logger can be plugged
// in through zap.NewStdLog.
func SetLogger(l *log.Logger) {
	logger.Store(l)
}

// Print prints the given message if tracing is enabled.
func (t Target) Print(args ...interface{}) {
	if Enabled(t) {
		logger.Load().Output(2, fmt.Sprint(args...)) // nolint: errcheck
	}
}

// Printf prints the given message if tracing is enabled.
func (t Target) Printf(format string, args ...interface{}) {
	if Enabled(t) {
		logger.Load().Output(2, fmt.Sprintf(format, args...)) // nolint: errcheck
	}
}
