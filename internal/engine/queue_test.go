package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.Enqueue(Event{Type: EventTypeSignal, Signal: fireSignal("a", 1)}))
	require.True(t, q.Enqueue(Event{Type: EventTypeSignal, Signal: fireSignal("b", 2)}))

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", ev.Signal.ID)
	ev, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", ev.Signal.ID)
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	assert.False(t, q.Enqueue(Event{Type: EventTypeSignal, Signal: fireSignal("a", 1)}))
}

func TestQueueDrainsBacklogAfterClose(t *testing.T) {
	q := newEventQueue()
	require.True(t, q.Enqueue(Event{Type: EventTypeSignal, Signal: fireSignal("a", 1)}))
	q.Close()

	ev, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", ev.Signal.ID)
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueWaitSignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()
	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()
	require.True(t, q.Enqueue(Event{Type: EventTypeSignal, Signal: fireSignal("a", 1)}))
	<-done
	assert.Equal(t, 1, q.Len())
}
