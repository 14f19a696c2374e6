package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskStartedEvent{
		ID:        1,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.TaskID() != 1 {
			t.Errorf("expected task ID 1, got %d", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskCompletedEvent{
		ID:        2,
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != 2 {
				t.Errorf("subscriber %d: expected task ID 2, got %d", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskStartedEvent{
				ID:        uint64(i),
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTask, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskStartedEvent{
		ID:        1,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	poolCh := bus.Subscribe(TopicPool, 10)

	taskEvent := TaskStartedEvent{
		ID:        1,
		Timestamp: time.Now(),
	}

	poolEvent := PoolDrainedEvent{
		TotalTasks: 10,
		Timestamp:  time.Now(),
	}

	bus.Publish(TopicTask, taskEvent)
	bus.Publish(TopicPool, poolEvent)

	// Task channel should receive task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Pool channel should receive pool event
	select {
	case received := <-poolCh:
		if received.EventType() != EventTypePoolDrained {
			t.Errorf("pool channel: expected pool event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("pool channel: timeout waiting for event")
	}

	// Task channel should NOT have the pool event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Pool channel should NOT have the task event
	select {
	case <-poolCh:
		t.Error("pool channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	taskEvent := TaskStartedEvent{
		ID:        1,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, taskEvent)

	poolEvent := PoolDrainedEvent{
		TotalTasks: 10,
		Timestamp:  time.Now(),
	}
	bus.Publish(TopicPool, poolEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskStarted] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypePoolDrained] {
		t.Error("SubscribeAll did not receive pool event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}

// TestPublishTaskStartedAndCompleted verifies the typed convenience
// publishers route to the right topic with the right fields, the way a
// Scheduler calls them rather than building events by hand.
func TestPublishTaskStartedAndCompleted(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.PublishTaskStarted(7)
	bus.PublishTaskCompleted(7, 50*time.Millisecond)

	started, ok := (<-ch).(TaskStartedEvent)
	if !ok {
		t.Fatal("expected a TaskStartedEvent first")
	}
	if started.TaskID() != 7 {
		t.Errorf("expected task ID 7, got %d", started.TaskID())
	}

	completed, ok := (<-ch).(TaskCompletedEvent)
	if !ok {
		t.Fatal("expected a TaskCompletedEvent second")
	}
	if completed.TaskID() != 7 {
		t.Errorf("expected task ID 7, got %d", completed.TaskID())
	}
	if completed.Duration != 50*time.Millisecond {
		t.Errorf("expected duration 50ms, got %v", completed.Duration)
	}
}

// TestPublishPoolDrained verifies the typed pool-drained publisher routes
// to the pool topic.
func TestPublishPoolDrained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicPool, 10)

	bus.PublishPoolDrained(42)

	drained, ok := (<-ch).(PoolDrainedEvent)
	if !ok {
		t.Fatal("expected a PoolDrainedEvent")
	}
	if drained.TotalTasks != 42 {
		t.Errorf("expected 42 total tasks, got %d", drained.TotalTasks)
	}
}
