package optout

import (
	"log/slog"
	"sync"
)

// Scheduler runs a task once, off the calling goroutine, with no ordering
// guarantee relative to other tasks.
type Scheduler interface {
	Go(task func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(task func())

func (f SchedulerFunc) Go(task func()) {
	f(task)
}

// Runner is a Scheduler backed by a fixed set of workers reading a bounded
// queue. Go never blocks: when the queue is full the task gets its own
// goroutine.
type Runner struct {
	logger *slog.Logger
	tasks  chan func()

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	idleMu   sync.Mutex
	idle     *sync.Cond
	inflight int
}

// NewRunner starts workers goroutines draining a queue of queueSize tasks.
func NewRunner(workers, queueSize int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	r := &Runner{
		logger: logger,
		tasks:  make(chan func(), queueSize),
	}
	r.idle = sync.NewCond(&r.idleMu)
	r.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

// Go schedules task. Tasks submitted after Close are dropped.
func (r *Runner) Go(task func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("runner closed, dropping task")
		return
	}

	r.begin()
	select {
	case r.tasks <- task:
	default:
		r.logger.Debug("runner queue full, spawning overflow goroutine")
		go func() {
			defer r.done()
			r.run(task)
		}()
	}
}

// Wait blocks until no submitted task is queued or running.
func (r *Runner) Wait() {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()
	for r.inflight > 0 {
		r.idle.Wait()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
// Calling it again is a no-op.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.tasks)
	r.mu.Unlock()

	r.workers.Wait()
	r.Wait()
}

func (r *Runner) work() {
	defer r.workers.Done()
	for task := range r.tasks {
		r.run(task)
		r.done()
	}
}

func (r *Runner) begin() {
	r.idleMu.Lock()
	r.inflight++
	r.idleMu.Unlock()
}

func (r *Runner) done() {
	r.idleMu.Lock()
	r.inflight--
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.idleMu.Unlock()
}

func (r *Runner) run(task func()) {
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("panic recovered in scheduled task", "error", err)
		}
	}()
	task()
}
