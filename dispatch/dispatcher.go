package dispatch

import (
	"container/list"
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-git/go-git-bridge/errors"
	"github.com/go-git/go-git-bridge/host"
	"github.com/go-git/go-git-bridge/internal/logger"
	"github.com/go-git/go-git-bridge/utils/trace"
)

// Dispatcher executes tasks on a bounded worker pool.
type Dispatcher struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex // guards queue against close while sending
	queue   chan *task
	running bool
	wg      sync.WaitGroup

	enqueued    atomic.Uint64
	processed   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	cancelled   atomic.Uint64
	dropped     atomic.Uint64
	inflight    atomic.Int64
	totalTimeNs atomic.Int64
}

// task is one unit of work. Its inputs are captured by run before submission.
type task struct {
	id     string
	name   string
	ctx    context.Context
	run    func(ctx context.Context) error
	reject func(err error)
	// finally, when set, runs once the task is settled by any path.
	finally func()

	// serial is the line the task waits in, if any. elem and stop are
	// guarded by serial.mu.
	serial *Serial
	elem   *list.Element
	stop   func() bool
}

// abort settles t without running it.
func (t *task) abort(err error) {
	t.reject(err)
	if t.finally != nil {
		t.finally()
	}
}

// New creates a Dispatcher and starts its workers.
func New(opts *Options) (*Dispatcher, error) {
	if opts == nil {
		opts = &Options{}
	}

	o := *opts
	if err := o.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		opts:    o,
		log:     o.Logger.With(zap.String("component", "dispatch")),
		queue:   make(chan *task, o.QueueSize),
		running: true,
	}

	for i := 0; i < o.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d, nil
}

var (
	defaultOnce       sync.Once
	defaultDispatcher *Dispatcher
)

// Default returns a process-wide dispatcher, created on first use with the
// default options and a logger configured from GIT_BRIDGE_LOG_LEVEL.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		d, err := New(&Options{Logger: logger.FromEnv()})
		if err != nil {
			panic(err)
		}

		defaultDispatcher = d
	})

	return defaultDispatcher
}

// Host returns the host loop completion callbacks run on, possibly nil.
func (d *Dispatcher) Host() *host.Loop {
	return d.opts.Host
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *zap.Logger {
	return d.log
}

// Submit queues fn for execution and returns its Future. It never blocks: if
// the task cannot be queued the Future is already rejected with an error of
// kind errors.KindScheduling.
func Submit[T any](ctx context.Context, d *Dispatcher, name string, fn func(ctx context.Context) (T, error)) *Future[T] {
	return SubmitFinally(ctx, d, name, fn, nil)
}

// SubmitFinally is Submit with a hook that runs exactly once after the task
// settles, whether it ran, panicked, was cancelled before start or could not
// be queued at all. It runs on the worker, or on the caller when queuing
// failed.
func SubmitFinally[T any](ctx context.Context, d *Dispatcher, name string, fn func(ctx context.Context) (T, error), finally func()) *Future[T] {
	f, t := newTask(ctx, d, name, fn, finally)
	if err := d.enqueue(t); err != nil {
		t.abort(errors.Scheduling(name, err))
	}

	return f
}

func newTask[T any](ctx context.Context, d *Dispatcher, name string, fn func(ctx context.Context) (T, error), finally func()) (*Future[T], *task) {
	f := newFuture[T](d.Host())
	t := &task{
		id:   uuid.NewString(),
		name: name,
		ctx:  ctx,
		run: func(ctx context.Context) error {
			v, err := fn(ctx)
			f.settle(v, err)
			return err
		},
		reject:  func(err error) { f.reject(err) },
		finally: finally,
	}

	return f, t
}

func (d *Dispatcher) enqueue(t *task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		return ErrNotRunning
	}

	select {
	case d.queue <- t:
		d.enqueued.Add(1)
		trace.Task.Printf("dispatch: queued %s %s", t.name, t.id)
		return nil
	default:
		d.dropped.Add(1)
		d.log.Warn("task dropped, queue is full", zap.String("task", t.name))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for t := range d.queue {
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t *task) {
	d.processed.Add(1)
	d.inflight.Add(1)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.log.Error("task panicked",
				zap.String("task", t.name),
				zap.String("id", t.id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)

			t.reject(errors.Fault(t.name, r))
		}

		d.inflight.Add(-1)
		d.totalTimeNs.Add(time.Since(start).Nanoseconds())

		if t.finally != nil {
			t.finally()
		}

		if t.serial != nil {
			t.serial.next(d)
		}
	}()

	if err := t.ctx.Err(); err != nil {
		d.cancelled.Add(1)
		trace.Task.Printf("dispatch: %s %s cancelled before start", t.name, t.id)
		t.reject(err)
		return
	}

	err := t.run(t.ctx)
	if err != nil {
		d.failed.Add(1)
		d.log.Debug("task failed", zap.String("task", t.name), zap.String("id", t.id), zap.Error(err))
	} else {
		d.succeeded.Add(1)
	}

	trace.Task.Printf("dispatch: %s %s settled in %s", t.name, t.id, time.Since(start))
}

// Close stops accepting tasks, lets the workers drain the queue and waits for
// them or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}

	d.running = false
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true until Close is called.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.running
}

// QueueDepth returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Stats contains dispatcher statistics.
type Stats struct {
	// Enqueued is the total number of tasks accepted.
	Enqueued uint64
	// Processed is the number of tasks picked up by a worker.
	Processed uint64
	// Succeeded is the number of tasks that resolved.
	Succeeded uint64
	// Failed is the number of tasks that rejected with an error.
	Failed uint64
	// Panicked is the number of tasks whose panic was recovered.
	Panicked uint64
	// Cancelled is the number of tasks whose context ended before start.
	Cancelled uint64
	// Dropped is the number of tasks refused because the queue was full.
	Dropped uint64
	// InFlight is the number of tasks currently running.
	InFlight int64
	// QueueDepth is the number of tasks waiting for a worker.
	QueueDepth int
	// TotalDuration is the cumulative time spent running tasks.
	TotalDuration time.Duration
	// AvgDuration is the average task running time.
	AvgDuration time.Duration
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	processed := d.processed.Load()
	totalNs := d.totalTimeNs.Load()

	var avgNs int64
	if processed > 0 {
		avgNs = totalNs / int64(processed)
	}

	return Stats{
		Enqueued:      d.enqueued.Load(),
		Processed:     processed,
		Succeeded:     d.succeeded.Load(),
		Failed:        d.failed.Load(),
		Panicked:      d.panicked.Load(),
		Cancelled:     d.cancelled.Load(),
		Dropped:       d.dropped.Load(),
		InFlight:      d.inflight.Load(),
		QueueDepth:    d.QueueDepth(),
		TotalDuration: time.Duration(totalNs),
		AvgDuration:   time.Duration(avgNs),
	}
}
