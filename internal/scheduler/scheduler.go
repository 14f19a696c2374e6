package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/latticerun/dagsched/internal/events"
)

// Scheduler is the front door of the coordination substrate: callers
// Submit a Task, the Scheduler wires its completion hook and either hands
// it straight to the worker pool (if it is already ready) or holds it until
// its predecessors complete, and WaitAll blocks until every submitted task
// has reached TaskCompleted.
//
// Submission order does not imply execution order beyond what the
// dependency graph already implies: a dependent may legally be submitted
// before its predecessor, since AddDependency already incremented its
// pending-dependency counter before either task reached the scheduler.
type Scheduler struct {
	pool *WorkerPool
	bus  *events.EventBus

	mu          sync.Mutex
	allTasks    []*Task
	outstanding int
	done        *sync.Cond
	startTimes  map[uint64]time.Time
}

// New creates a Scheduler backed by a worker pool of nWorkers goroutines.
// nWorkers must be at least 1. The scheduler publishes no events unless
// WithEventBus is used.
func New(nWorkers int) *Scheduler {
	s := &Scheduler{
		pool: NewWorkerPool(nWorkers),
	}
	s.done = sync.NewCond(&s.mu)
	return s
}

// WithEventBus attaches an EventBus that the scheduler publishes
// TaskStartedEvent, TaskCompletedEvent, and PoolDrainedEvent to. Purely an
// observability side channel: nothing in the scheduler's correctness
// depends on a bus being attached or on anyone consuming it.
func (s *Scheduler) WithEventBus(bus *events.EventBus) *Scheduler {
	s.bus = bus
	return s
}

// Submit takes ownership of task: registers it, wires its completion hook,
// then either enqueues it (if already ready) or parks it until its
// predecessors complete. Submitting the same task twice is a programmer
// error and returns an error rather than corrupting scheduler state.
//
// A predecessor may complete — and drive task's pendingDeps to zero — in
// the window between AddDependency returning and this call, since wiring
// happens before submission by contract. task.registered and
// task.dispatched, both guarded by s.mu, are what let this method and
// onTaskCompleted agree on which one of them gets to dispatch task: only
// the side that observes both "ready" and "registered" true may flip
// dispatched from false to true, and only the side that flips it actually
// calls s.dispatch. Whichever of the two events — this Submit call, or the
// predecessor's completion — happens last is the one that wins that race;
// the other finds registered or dispatched already set and does nothing.
func (s *Scheduler) Submit(task *Task) error {
	if task.submitted.Load() {
		return fmt.Errorf("task %d already submitted", task.GetID())
	}

	task.setOnComplete(s.onTaskCompleted)
	task.markSubmitted()

	s.mu.Lock()
	s.allTasks = append(s.allTasks, task)
	s.outstanding++
	task.registered = true
	dispatchNow := task.IsReady() && !task.dispatched
	if dispatchNow {
		task.dispatched = true
	}
	s.mu.Unlock()

	if dispatchNow {
		s.dispatch(task)
	}

	return nil
}

// onTaskCompleted runs on whichever worker goroutine just finished
// completed's work closure, from inside Task.execute's completion
// protocol. readyDependents names exactly the dependents whose
// pending-dependency counter this completion brought to zero — candidates
// for dispatch, not guaranteed dispatches: a candidate that has not yet
// been registered by its own Submit call is left alone here, since
// claiming it before Submit runs would hand it to the pool before this
// scheduler's own bookkeeping (allTasks, outstanding) knows about it.
// Submit performs the matching check on its side (see its comment), so
// between the two, each task is dispatched exactly once, never zero or
// twice.
func (s *Scheduler) onTaskCompleted(completed *Task, readyDependents []*Task) {
	if s.bus != nil {
		s.mu.Lock()
		started, ok := s.startTimes[completed.GetID()]
		s.mu.Unlock()
		var dur time.Duration
		if ok {
			dur = time.Since(started)
		}
		s.bus.PublishTaskCompleted(completed.GetID(), dur)
	}

	s.mu.Lock()
	var toDispatch []*Task
	for _, d := range readyDependents {
		if d.registered && !d.dispatched {
			d.dispatched = true
			toDispatch = append(toDispatch, d)
		}
	}

	s.outstanding--
	drained := s.outstanding == 0
	total := len(s.allTasks)
	if drained {
		s.done.Broadcast()
	}
	s.mu.Unlock()

	for _, d := range toDispatch {
		s.dispatch(d)
	}

	if drained && s.bus != nil {
		s.bus.PublishPoolDrained(total)
	}
}

// dispatch records the task's dispatch time (for TaskCompletedEvent
// duration) if a bus is attached, publishes TaskStartedEvent, and hands the
// task to the worker pool.
func (s *Scheduler) dispatch(t *Task) {
	if s.bus != nil {
		s.mu.Lock()
		if s.startTimes == nil {
			s.startTimes = make(map[uint64]time.Time)
		}
		s.startTimes[t.GetID()] = time.Now()
		s.mu.Unlock()

		s.bus.PublishTaskStarted(t.GetID())
	}
	s.pool.Submit(t)
}

// WaitAll blocks until every task submitted so far has reached
// TaskCompleted. It is driven by an outstanding-task counter signaled
// through a condition variable rather than polling, so there is no busy
// wait and no CPU floor while tasks are in flight.
func (s *Scheduler) WaitAll() {
	s.mu.Lock()
	for s.outstanding > 0 {
		s.done.Wait()
	}
	s.mu.Unlock()
}

// Tasks returns every task submitted to the scheduler so far, in
// submission order. The returned slice is a snapshot; submitting further
// tasks does not retroactively extend it.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, len(s.allTasks))
	copy(out, s.allTasks)
	return out
}

// Shutdown waits for every submitted task to complete and then tears down
// the worker pool, joining every worker goroutine. Equivalent to calling
// WaitAll followed by pool shutdown, matching the original implementation's
// destructor semantics.
func (s *Scheduler) Shutdown() {
	s.WaitAll()
	s.pool.Shutdown()
}
