package events

import (
	"time"
)

// Event is the base interface for all events published on an EventBus.
type Event interface {
	EventType() string
	TaskID() uint64
}

// Topic constants.
const (
	TopicTask = "task"
	TopicPool = "pool"
)

// Event type constants.
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypePoolDrained   = "pool.drained"
)

// TaskStartedEvent is published when a scheduler hands a ready task to its
// worker pool, which can be before a worker pops the task and its state
// transitions to Running.
type TaskStartedEvent struct {
	ID        uint64
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() uint64    { return e.ID }

// TaskCompletedEvent is published from a task's completion hook: state is
// Completed and dependents have had their counters decremented, but the
// newly-ready dependents have not yet been handed to the pool.
type TaskCompletedEvent struct {
	ID        uint64
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() uint64    { return e.ID }

// PoolDrainedEvent is published once a scheduler's outstanding-task
// counter reaches zero, i.e. the moment WaitAll would unblock.
type PoolDrainedEvent struct {
	TotalTasks int
	Timestamp  time.Time
}

func (e PoolDrainedEvent) EventType() string { return EventTypePoolDrained }
func (e PoolDrainedEvent) TaskID() uint64    { return 0 }
