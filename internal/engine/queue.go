package engine

import (
	"sync"

	"github.com/wardenhq/warden/internal/envelope"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeSignal carries one raw signal from a feed adapter.
	EventTypeSignal EventType = iota + 1
	// EventTypeCommand carries an inbound remote intent.
	EventTypeCommand
	// EventTypeRulePush carries a rule registry push payload.
	EventTypeRulePush
)

// Event wraps the inputs the run loop processes in FIFO order.
type Event struct {
	Type    EventType
	Signal  *envelope.Signal
	Command *Command
	Push    []byte
}

// eventQueue is a thread-safe FIFO for events.
//
// Unbounded: backpressure is handled by the noise controller degrading
// admission, never by blocking feed adapters. Thread safety covers
// external enqueuing (feed adapters, command handlers) while the run
// loop dequeues; a buffered signal channel enables context-aware
// waiting.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // coalesced availability signal, buffer 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. Safe from any
// goroutine. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]

	// Nil out the slot so the Event's pointers are collectable; the
	// backing array otherwise pins them until reallocation.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel closes when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue depth. The noise controller samples
// this as its pressure input.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued and wakes all
// waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
