package dispatch

import (
	"fmt"
	"runtime"

	"dario.cat/mergo"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/host"
)

const (
	// DefaultQueueSize is the queue size used when Options.QueueSize is zero.
	DefaultQueueSize = 1024
)

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of worker goroutines. Defaults to GOMAXPROCS.
	Workers int
	// QueueSize bounds the number of tasks waiting for a worker.
	QueueSize int
	// Logger receives task failures and recovered panics.
	Logger *zap.Logger
	// Host, when set, is the loop on which completion callbacks run and on
	// which host callbacks captured by tasks are invoked.
	Host *host.Loop
}

func defaultOptions() Options {
	return Options{
		Workers:   runtime.GOMAXPROCS(0),
		QueueSize: DefaultQueueSize,
	}
}

// Validate validates the fields and sets the default values.
func (o *Options) Validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("invalid worker count %d", o.Workers)
	}

	if o.QueueSize < 0 {
		return fmt.Errorf("invalid queue size %d", o.QueueSize)
	}

	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	return mergo.Merge(o, defaultOptions())
}
