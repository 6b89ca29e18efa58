package demandtex

import (
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// Ticket tracks completion of one asynchronously scheduled
// request-processing task. The zero Ticket is empty: it carries no task
// and Wait returns immediately.
type Ticket struct {
	impl *ticketImpl
}

type ticketImpl struct {
	stream gpu.Stream
	done   chan struct{}
}

// NumTasksTotal returns the task count behind the ticket: 1 for a started
// ticket, -1 for an empty one.
func (t Ticket) NumTasksTotal() int {
	if t.impl == nil {
		return -1
	}
	return 1
}

// NumTasksRemaining returns how many tasks have not finished (1 or 0), or
// -1 for an empty ticket.
func (t Ticket) NumTasksRemaining() int {
	if t.impl == nil {
		return -1
	}
	select {
	case <-t.impl.done:
		return 0
	default:
		return 1
	}
}

// Wait blocks until the ticket's task finishes. If event is non-nil, it is
// recorded on the stream the ticket was issued against after host work
// completes, so GPU consumers can chain on it.
func (t Ticket) Wait(event gpu.Event) error {
	if t.impl == nil {
		return nil
	}
	<-t.impl.done
	if event != nil && t.impl.stream != nil {
		return event.Record(t.impl.stream)
	}
	return nil
}

// markDone publishes completion to waiters.
func (t *ticketImpl) markDone() {
	close(t.done)
}

// asyncWorker serially executes deferred request-processing tasks on one
// goroutine. Serialization matters: the tasks mutate loader state and the
// drain protocol assumes they never overlap.
type asyncWorker struct {
	mu     sync.Mutex
	tasks  chan func()
	closed bool
	done   chan struct{}
}

func newAsyncWorker() *asyncWorker {
	w := &asyncWorker{
		tasks: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *asyncWorker) loop() {
	for task := range w.tasks {
		w.run(task)
	}
	close(w.done)
}

// run executes one task, swallowing panics: failures surface through the
// loader's error fields, never through the worker.
func (w *asyncWorker) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("asyncWorker: task panicked", "panic", r)
		}
	}()
	task()
}

// submit enqueues a task. Returns false once the worker is closed.
func (w *asyncWorker) submit(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.tasks <- task
	return true
}

// close drains queued tasks and joins the worker goroutine. Safe to call
// multiple times.
func (w *asyncWorker) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.tasks)
	<-w.done
}
