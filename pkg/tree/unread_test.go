package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grovechat/grove/pkg/events"
)

func TestUnread(t *testing.T) {
	t.Run("should mark and clear unread nodes", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		u.MarkUnread("t1", "n1")
		assert.True(t, u.IsUnread("t1", "n1"))
		assert.Equal(t, 1, u.Count("t1"))

		u.MarkRead("t1", "n1")
		assert.False(t, u.IsUnread("t1", "n1"))
		assert.Zero(t, u.Count("t1"))
	})

	t.Run("should be idempotent in both directions", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		var changes int
		bus.Subscribe(events.EventUnreadChanged, func(e events.Event) { changes++ })

		u.MarkUnread("t1", "n1")
		u.MarkUnread("t1", "n1")
		assert.Equal(t, 1, u.Count("t1"))
		assert.Equal(t, 1, changes)

		u.MarkRead("t1", "n1")
		u.MarkRead("t1", "n1")
		assert.Zero(t, u.Count("t1"))
		assert.Equal(t, 2, changes)
	})

	t.Run("should mark read only when scroll settles at the bottom", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		u.MarkUnread("t1", "n1")

		u.ScrollSettled("t1", "n1", 120.0)
		assert.True(t, u.IsUnread("t1", "n1"))

		u.ScrollSettled("t1", "n1", 3.5)
		assert.False(t, u.IsUnread("t1", "n1"))
	})

	t.Run("should not cross-contaminate trees", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		u.MarkUnread("t1", "n1")
		u.MarkUnread("t2", "n1")

		u.MarkRead("t1", "n1")
		assert.False(t, u.IsUnread("t1", "n1"))
		assert.True(t, u.IsUnread("t2", "n1"))
	})

	t.Run("should prune stale ids after a refresh", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		u.MarkUnread("t1", "gone")
		u.MarkUnread("t1", "kept")

		u.Prune("t1", map[string]struct{}{"kept": {}})
		assert.False(t, u.IsUnread("t1", "gone"))
		assert.True(t, u.IsUnread("t1", "kept"))
	})

	t.Run("should clear a whole tree", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		u := NewUnread(bus, 4.0)

		u.MarkUnread("t1", "n1")
		u.MarkUnread("t1", "n2")
		u.Clear("t1")
		assert.Zero(t, u.Count("t1"))
	})
}
