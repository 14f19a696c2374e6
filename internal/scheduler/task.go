package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// TaskState is the lifecycle state of a Task. Transitions are strictly
// Pending -> Running -> Completed and never move backward.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Task is a unit of work with a caller-supplied identifier, a single-shot
// work closure, and dependency metadata. Submitting a Task to a Scheduler
// freezes its dependency graph: AddDependency must not be called once the
// task, or the predecessor it names, has been submitted.
type Task struct {
	id          uint64
	state       atomic.Int32
	work        func()
	pendingDeps atomic.Int64

	mu         sync.Mutex
	dependents []*Task

	onComplete func(completed *Task, readyDependents []*Task)
	submitted  atomic.Bool

	// registered and dispatched are owned by the Scheduler this task is
	// submitted to, guarded by its mutex rather than mu above. A
	// predecessor's completion can drive pendingDeps to zero before this
	// task's own Submit call has run — AddDependency wires the edge (and
	// bumps pendingDeps) before either task is submitted, so "ready" and
	// "submitted" become true in whichever order the caller and the
	// workers happen to race. registered marks the moment Submit recorded
	// this task; dispatched marks the moment it was actually handed to the
	// pool, set at most once so the two code paths that can trigger a
	// dispatch never both win.
	registered bool
	dispatched bool
}

// NewTask constructs a Task in TaskPending with zero pending dependencies.
// work is invoked at most once, when the task executes; it takes no
// arguments and returns nothing — side effects flow through captured state,
// which must outlive the task.
func NewTask(id uint64, work func()) *Task {
	return &Task{
		id:   id,
		work: work,
	}
}

// GetID returns the task's caller-supplied identifier.
func (t *Task) GetID() uint64 {
	return t.id
}

// GetState returns the current lifecycle state under acquire ordering.
func (t *Task) GetState() TaskState {
	return TaskState(t.state.Load())
}

// IsReady reports whether every declared predecessor has completed.
func (t *Task) IsReady() bool {
	return t.pendingDeps.Load() == 0
}

// AddDependency registers pred as a predecessor of t: t will not become
// ready until pred (and every other declared predecessor) has completed.
//
// Both t and pred must still be TaskPending and neither may have been
// submitted to a Scheduler yet — submission freezes the graph reachable
// from a task. Violating this is a programming error; AddDependency
// returns an error rather than silently wiring a stale edge.
func (t *Task) AddDependency(pred *Task) error {
	if t.submitted.Load() {
		return fmt.Errorf("task %d: cannot add dependency after submission", t.id)
	}
	if pred.submitted.Load() {
		return fmt.Errorf("task %d: predecessor %d already submitted", t.id, pred.id)
	}
	if t.GetState() != TaskPending {
		return fmt.Errorf("task %d: cannot add dependency while state is %s", t.id, t.GetState())
	}
	if pred.GetState() != TaskPending {
		return fmt.Errorf("task %d: predecessor %d is not pending (state %s)", t.id, pred.id, pred.GetState())
	}

	// Increment first: t has not been submitted, so no other goroutine
	// observes pendingDeps yet. This pairs with the decrement pred issues
	// from its own completion protocol.
	t.pendingDeps.Add(1)

	pred.mu.Lock()
	pred.dependents = append(pred.dependents, t)
	pred.mu.Unlock()

	return nil
}

// setOnComplete installs the notification hook invoked exactly once, after
// the state transition to Completed and after every dependent's counter has
// been decremented. readyDependents lists, of completed's dependents,
// exactly those whose pending-dependency counter this decrement brought to
// zero — computed from the atomic decrement's own return value so that when
// two predecessors of the same dependent finish concurrently, exactly one
// of them reports it as newly ready. These are candidates, not guaranteed
// dispatches: a dependent can reach zero before its own Submit call has
// run, so the callback must still confirm it has been registered before
// handing it to the pool.
func (t *Task) setOnComplete(cb func(completed *Task, readyDependents []*Task)) {
	t.onComplete = cb
}

// markSubmitted freezes the dependency graph reachable from t: after this,
// AddDependency calls naming t (as dependent or predecessor) are rejected.
func (t *Task) markSubmitted() {
	t.submitted.Store(true)
}

// execute runs the work closure and then the completion protocol: state to
// Completed, decrement every dependent's pending-dependency counter, then
// invoke the completion hook. The caller (the worker pool) must only call
// this when IsReady() is true; execute does not check readiness itself —
// that invariant is the scheduler's responsibility, not the task's.
func (t *Task) execute() {
	t.state.Store(int32(TaskRunning))

	t.work()

	t.state.Store(int32(TaskCompleted))

	t.mu.Lock()
	dependents := t.dependents
	t.mu.Unlock()

	var readyNow []*Task
	for _, d := range dependents {
		// The atomic decrement's return value is the only safe way to
		// detect "this decrement was the one that reached zero": a
		// separate IsReady() load afterward could observe a zero written
		// by a concurrent predecessor's decrement and cause the same
		// dependent to be reported ready twice.
		if d.pendingDeps.Add(-1) == 0 {
			readyNow = append(readyNow, d)
		}
	}

	if t.onComplete != nil {
		t.onComplete(t, readyNow)
	}
}
