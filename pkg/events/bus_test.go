package events

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus(t *testing.T) {
	t.Run("should deliver sync events on the caller goroutine", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		var got Event
		bus.Subscribe(EventPathChanged, func(e Event) { got = e })

		bus.PublishSync(EventPathChanged, "t1:n1", PathChangedPayload{MessageCount: 3}, "cache")

		assert.Equal(t, EventPathChanged, got.Type)
		assert.Equal(t, "t1:n1", got.Key)
		assert.Equal(t, PathChangedPayload{MessageCount: 3}, got.Payload)
	})

	t.Run("should deliver to wildcard subscribers", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		var count atomic.Int32
		bus.Subscribe("*", func(e Event) { count.Add(1) })

		bus.PublishSync(EventStreamStarted, "k", nil, "session")
		bus.PublishSync(EventStreamCompleted, "k", nil, "session")

		assert.Equal(t, int32(2), count.Load())
	})

	t.Run("should survive a panicking handler", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		var delivered bool
		bus.Subscribe(EventSendFailed, func(e Event) { panic("boom") })
		bus.Subscribe(EventSendFailed, func(e Event) { delivered = true })

		assert.NotPanics(t, func() {
			bus.PublishSync(EventSendFailed, "k", nil, "orchestrator")
		})
		assert.True(t, delivered)
	})

	t.Run("should drop handlers on unsubscribe", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()

		var count int
		bus.Subscribe(EventUnreadChanged, func(e Event) { count++ })
		bus.Unsubscribe(EventUnreadChanged)

		bus.PublishSync(EventUnreadChanged, "t1", nil, "unread")
		assert.Zero(t, count)
	})
}
