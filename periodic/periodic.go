// Package periodic runs a closure on a fixed cadence with prompt,
// cooperative cancellation. It is the scheduling primitive behind the
// push exporters and is usable by embedders directly.
package periodic

import (
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Task is a running periodic worker. Iterations of one task are
// strictly serialized; iterations of different tasks run on whatever
// threads the runtime gives them.
type Task struct {
	name   string
	period time.Duration
	fn     func()
	logger log.Logger

	stopc    chan struct{}
	donec    chan struct{}
	stopOnce sync.Once
}

// Start launches a task that sleeps for period, wakes, runs fn, and
// repeats, so consecutive iterations are at least period apart. A panic
// in fn is caught and logged with its stack; the task keeps running. A
// nil logger gets a logfmt logger on stderr.
func Start(name string, period time.Duration, fn func(), logger log.Logger) *Task {
	return start(name, period, fn, logger, false)
}

// StartSticky is Start, but the task runs on a dedicated OS thread.
// Use it when the closure touches thread-local state; it changes
// nothing about the task's semantics.
func StartSticky(name string, period time.Duration, fn func(), logger log.Logger) *Task {
	return start(name, period, fn, logger, true)
}

func start(name string, period time.Duration, fn func(), logger log.Logger, sticky bool) *Task {
	if logger == nil {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	t := &Task{
		name:   name,
		period: period,
		fn:     fn,
		logger: log.With(logger, "task", name),
		stopc:  make(chan struct{}),
		donec:  make(chan struct{}),
	}
	go t.run(sticky)
	return t
}

// Name returns the name the task was started with.
func (t *Task) Name() string { return t.name }

// Stop requests termination, wakes the task if it is sleeping, and
// joins it: it returns only after the in-flight iteration, if any, has
// completed. An iteration that is merely pending is skipped. Stop may
// be called more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(func() { close(t.stopc) })
	<-t.donec
}

// Done is closed when the task's goroutine has exited. Callers that do
// not want to block in Stop can watch it instead.
func (t *Task) Done() <-chan struct{} { return t.donec }

func (t *Task) run(sticky bool) {
	defer close(t.donec)
	if sticky {
		// The lock is never released; the thread retires with the
		// goroutine.
		runtime.LockOSThread()
	}
	timer := time.NewTimer(t.period)
	defer timer.Stop()
	for {
		select {
		case <-t.stopc:
			return
		case <-timer.C:
		}
		t.runOnce()
		timer.Reset(t.period)
	}
}

func (t *Task) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			level.Error(t.logger).Log(
				"msg", "periodic task iteration panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	t.fn()
}
