package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	// ErrStopped is returned when a task is submitted to a stopped worker,
	// or delivered on handles of tasks still pending when the worker stopped.
	ErrStopped = errors.New("worker: stopped")

	// ErrNilOperation is returned by Submit for a task without an operation.
	ErrNilOperation = errors.New("worker: task has no operation")
)

// TaskError wraps an error raised by a task's operation. It is delivered on
// the task's handle; the worker itself keeps processing subsequent tasks.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string { return "worker: task failed: " + e.Err.Error() }

func (e *TaskError) Unwrap() error { return e.Err }

// Task is one unit of work. Op receives a context that is cancelled when the
// worker begins shutting down, so long-running operations can bail out early.
// OnDone, if set, is called after the task resolves: on the worker goroutine
// for executed tasks, on the goroutine performing the shutdown for tasks
// discarded at stop.
type Task struct {
	Op     func(ctx context.Context) (any, error)
	OnDone func(output any, err error)
}

// Handle represents the eventual outcome of a submitted task.
type Handle struct {
	done   chan struct{}
	output any
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed once the task has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Output blocks until the task resolves or ctx is cancelled. A failed
// operation yields a *TaskError; a task discarded at shutdown yields
// ErrStopped.
func (h *Handle) Output(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.output, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(output any, err error) {
	h.output = output
	h.err = err
	close(h.done)
}

type item struct {
	task   Task
	handle *Handle
}

// Worker executes submitted tasks one at a time on a dedicated goroutine, in
// submission order. Submissions go through a buffered queue, so Submit only
// blocks when the queue is full.
type Worker struct {
	queue  chan *item
	quit   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

type options struct {
	queueSize int
}

// Option configures a Worker.
type Option func(*options)

// WithQueueSize sets the capacity of the pending-task queue. Values below 1
// are ignored.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// DefaultQueueSize is the pending-task queue capacity unless overridden.
const DefaultQueueSize = 100

// New creates a Worker. It does not process tasks until Start is called,
// though tasks may already be submitted.
func New(opts ...Option) *Worker {
	o := options{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queue:  make(chan *item, o.queueSize),
		quit:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start acquires the worker goroutine. Calling Start again, or after Stop,
// is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

// Submit enqueues a task and returns a handle for its eventual outcome. A
// Submit waiting on a full queue is woken by Stop and returns ErrStopped.
func (w *Worker) Submit(t Task) (*Handle, error) {
	if t.Op == nil {
		return nil, ErrNilOperation
	}
	if w.isStopped() {
		return nil, ErrStopped
	}

	// The enqueue must not happen under the lock: a send blocked on a full
	// queue would hold the lock and Stop could never take it.
	h := newHandle()
	select {
	case w.queue <- &item{task: t, handle: h}:
	case <-w.quit:
		return nil, ErrStopped
	}

	// Stop may have begun between the check above and the enqueue, and its
	// drain can miss an item that lands after the drain finished. Re-check
	// and drain again so no handle is left pending.
	if w.isStopped() {
		w.discardPending()
	}
	return h, nil
}

func (w *Worker) isStopped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// Stop shuts the worker down cooperatively: the in-flight task (if any)
// finishes, every still-queued task resolves to ErrStopped, and the worker
// goroutine is joined before Stop returns. Stop is idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	already := w.stopped
	w.stopped = true
	w.mu.Unlock()

	if !already {
		w.cancel()
		close(w.quit)
	}
	w.wg.Wait()
	w.discardPending()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		// Shutdown wins over further queue consumption.
		select {
		case <-w.quit:
			return
		default:
		}

		select {
		case <-w.quit:
			return
		case it := <-w.queue:
			w.execute(it)
		}
	}
}

func (w *Worker) execute(it *item) {
	output, err := runOp(w.ctx, it.task.Op)
	it.handle.resolve(output, err)
	if it.task.OnDone != nil {
		it.task.OnDone(output, err)
	}
}

// runOp shields the worker goroutine from the operation: errors and panics
// both come back as a *TaskError.
func runOp(ctx context.Context, op func(context.Context) (any, error)) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: recovered panic in task: %v", r)
			output = nil
			err = &TaskError{Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()

	output, err = op(ctx)
	if err != nil {
		return nil, &TaskError{Err: err}
	}
	return output, nil
}

// discardPending fails everything still queued. It may run concurrently
// with other consumers; each item is received, and therefore resolved, by
// exactly one of them.
func (w *Worker) discardPending() {
	for {
		select {
		case it := <-w.queue:
			it.handle.resolve(nil, ErrStopped)
			if it.task.OnDone != nil {
				it.task.OnDone(nil, ErrStopped)
			}
		default:
			return
		}
	}
}
