package events

import (
	"sync"
	"time"
)

// EventBus carries scheduler lifecycle events — a task starting, a task
// completing, the pool draining — out of the coordination core, which by
// design never logs or prints anything itself. It is an optional
// observability side channel: a Scheduler with no bus attached behaves
// identically, just silently. Supports topic-based subscriptions and
// SubscribeAll for cross-topic consumption.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[string][]chan Event),
		allSubs: make([]chan Event, 0),
	}
}

// Subscribe creates a subscription to a specific topic.
// Returns a read-only channel that receives events published to that topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)

	return ch
}

// SubscribeAll creates a subscription to ALL topics.
// Returns a single read-only channel that receives events from every topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.allSubs = append(b.allSubs, ch)

	return ch
}

// Publish sends an event to all subscribers of the given topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that subscriber.
// Also sends to all SubscribeAll channels.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Don't publish if bus is closed
	if b.closed {
		return
	}

	// Send to topic-specific subscribers
	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			// Channel full, drop event (non-blocking)
		}
	}

	// Send to all-topic subscribers
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
			// Channel full, drop event (non-blocking)
		}
	}
}

// PublishTaskStarted publishes a TaskStartedEvent for id, timestamped now.
// Called by a Scheduler the moment it hands a ready task to the pool.
func (b *EventBus) PublishTaskStarted(id uint64) {
	b.Publish(TopicTask, TaskStartedEvent{ID: id, Timestamp: time.Now()})
}

// PublishTaskCompleted publishes a TaskCompletedEvent for id, reporting how
// long it ran, timestamped now. Called by a Scheduler from inside the
// completed task's completion protocol.
func (b *EventBus) PublishTaskCompleted(id uint64, duration time.Duration) {
	b.Publish(TopicTask, TaskCompletedEvent{ID: id, Duration: duration, Timestamp: time.Now()})
}

// PublishPoolDrained publishes a PoolDrainedEvent reporting how many tasks
// ran, timestamped now. Called by a Scheduler the instant its
// outstanding-task count reaches zero — the same moment WaitAll unblocks.
func (b *EventBus) PublishPoolDrained(totalTasks int) {
	b.Publish(TopicPool, PoolDrainedEvent{TotalTasks: totalTasks, Timestamp: time.Now()})
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times (idempotent).
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	// Close all topic-specific subscribers
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}

	// Close all-topic subscribers
	for _, ch := range b.allSubs {
		close(ch)
	}
}
