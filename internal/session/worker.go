package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWorkerStopped is returned by Start after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// Task is a handle to a posted task.
type Task interface {
	// Cancel prevents the task from running if it has not started yet.
	Cancel()
}

// Scheduler runs tasks off the caller's goroutine.
type Scheduler interface {
	Post(fn func(ctx context.Context)) Task
	PostDelayed(delay time.Duration, fn func(ctx context.Context)) Task
}

type workerTask struct {
	worker    *Worker
	fn        func(ctx context.Context)
	cancelled atomic.Bool
	timer     atomic.Pointer[time.Timer]
}

func (t *workerTask) Cancel() {
	if t.stop() {
		t.worker.mu.Lock()
		delete(t.worker.timers, t)
		t.worker.mu.Unlock()
	}
}

// stop marks the task cancelled and reports whether it had a timer.
func (t *workerTask) stop() bool {
	t.cancelled.Store(true)
	timer := t.timer.Load()
	if timer == nil {
		return false
	}
	timer.Stop()
	return true
}

// Worker is a serial task queue backed by a single goroutine. Tasks run one
// at a time in post order; delayed tasks join the queue when their delay
// expires.
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*workerTask
	timers  map[*workerTask]struct{}
	started bool
	stopped bool

	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker. Tasks posted before Start are queued.
func NewWorker() *Worker {
	w := &Worker{
		timers: make(map[*workerTask]struct{}),
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.cancel = func() {}
	return w
}

// WithLogger sets the logger.
func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	w.logger = logger
	return w
}

// Start launches the worker goroutine. Tasks see a context derived from
// ctx that is cancelled on Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return fmt.Errorf("worker already started")
	}
	w.started = true

	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.run()
	return nil
}

// Stop drops queued tasks, cancels the running task's context and waits
// for the worker goroutine to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	for t := range w.timers {
		t.stop()
	}
	clear(w.timers)
	w.queue = nil
	w.cond.Broadcast()
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	if started {
		<-w.done
	}
}

// Post queues fn to run after the tasks already queued.
func (w *Worker) Post(fn func(ctx context.Context)) Task {
	t := &workerTask{worker: w, fn: fn}
	w.enqueue(t)
	return t
}

// PostDelayed queues fn once delay has elapsed. A non-positive delay is the
// same as Post.
func (w *Worker) PostDelayed(delay time.Duration, fn func(ctx context.Context)) Task {
	if delay <= 0 {
		return w.Post(fn)
	}

	t := &workerTask{worker: w, fn: fn}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		t.cancelled.Store(true)
		return t
	}
	w.timers[t] = struct{}{}
	t.timer.Store(time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, t)
		w.mu.Unlock()
		w.enqueue(t)
	}))
	return t
}

func (w *Worker) enqueue(t *workerTask) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || t.cancelled.Load() {
		return
	}
	w.queue = append(w.queue, t)
	w.cond.Signal()
}

func (w *Worker) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		ctx := w.ctx
		w.mu.Unlock()

		if t.cancelled.Load() {
			continue
		}
		w.execute(ctx, t)
	}
}

func (w *Worker) execute(ctx context.Context, t *workerTask) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker task panicked", slog.Any("panic", r))
		}
	}()
	t.fn(ctx)
}

// Pending returns the number of queued and delayed tasks that have not
// been cancelled.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.timers)
	for _, t := range w.queue {
		if !t.cancelled.Load() {
			n++
		}
	}
	return n
}
