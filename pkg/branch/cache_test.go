package branch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/events"
)

type fakeFetcher struct {
	mu    sync.Mutex
	paths map[string][]api.PathMessage
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeFetcher) Path(ctx context.Context, nodeID string) ([]api.PathMessage, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[nodeID], nil
}

func confirmedPath() []api.PathMessage {
	return []api.PathMessage{
		{Role: "system", Content: "(root)"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
}

func TestCacheGet(t *testing.T) {
	t.Run("should return an empty path for keys without a node", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		fetcher := &fakeFetcher{}
		cache := NewCache(fetcher, bus)

		path := cache.Get(context.Background(), NewKey("t1", ""))
		assert.Empty(t, path)
		assert.Zero(t, fetcher.calls.Load())
	})

	t.Run("should not block on a miss and populate asynchronously", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		fetcher := &fakeFetcher{paths: map[string][]api.PathMessage{"n2": confirmedPath()}}
		cache := NewCache(fetcher, bus)
		key := NewKey("t1", "n2")

		populated := make(chan struct{})
		bus.Subscribe(events.EventPathChanged, func(e events.Event) {
			if e.Key == key.String() {
				close(populated)
			}
		})

		first := cache.Get(context.Background(), key)
		assert.Empty(t, first)

		select {
		case <-populated:
		case <-time.After(5 * time.Second):
			t.Fatal("cache never populated")
		}

		second := cache.Get(context.Background(), key)
		require.Len(t, second, 3)
		assert.False(t, second[0].Pending)
	})
}

func TestCacheEnsure(t *testing.T) {
	t.Run("should fetch synchronously on a miss", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		fetcher := &fakeFetcher{paths: map[string][]api.PathMessage{"n2": confirmedPath()}}
		cache := NewCache(fetcher, bus)

		path, err := cache.Ensure(context.Background(), NewKey("t1", "n2"))
		require.NoError(t, err)
		assert.Len(t, path, 3)
		assert.Equal(t, int32(1), fetcher.calls.Load())

		// Second call hits the cache.
		_, err = cache.Ensure(context.Background(), NewKey("t1", "n2"))
		require.NoError(t, err)
		assert.Equal(t, int32(1), fetcher.calls.Load())
	})

	t.Run("should deduplicate concurrent fetches for the same key", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		fetcher := &fakeFetcher{
			paths: map[string][]api.PathMessage{"n2": confirmedPath()},
			delay: 50 * time.Millisecond,
		}
		cache := NewCache(fetcher, bus)
		key := NewKey("t1", "n2")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.Ensure(context.Background(), key)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), fetcher.calls.Load())
	})

	t.Run("should propagate fetch errors", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		fetcher := &fakeFetcher{err: errors.New("boom")}
		cache := NewCache(fetcher, bus)

		_, err := cache.Ensure(context.Background(), NewKey("t1", "n2"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "t1:n2")
	})
}

func TestCacheMutate(t *testing.T) {
	t.Run("should apply the transform and publish in the same turn", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)
		key := NewKey("t1", "tmp")

		cache.SetOptimistic(key, []Message{
			NewUserMessage("hello"),
			NewAssistantPlaceholder(),
		})

		var observedLen int
		bus.Subscribe(events.EventPathChanged, func(e events.Event) {
			// The mutated value is already readable when the event fires.
			if snapshot, ok := cache.Snapshot(key); ok {
				observedLen = len(snapshot)
			}
		})

		ok := cache.Mutate(key, func(path []Message) []Message {
			return replacePendingAssistant(path, "Hi")
		})
		require.True(t, ok)
		assert.Equal(t, 2, observedLen)

		snapshot, _ := cache.Snapshot(key)
		assert.Equal(t, "Hi", snapshot[1].Content)
		assert.True(t, snapshot[1].Pending)
	})

	t.Run("should report a miss without mutating", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)

		ok := cache.Mutate(NewKey("t1", "missing"), func(p []Message) []Message { return p })
		assert.False(t, ok)
	})
}

func TestCacheMigrateKey(t *testing.T) {
	t.Run("should move an entry without data loss", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)

		oldKey := ProvisionalKey("t1", "pending-user-x")
		newKey := NewKey("t1", "a1")
		cache.SetOptimistic(oldKey, []Message{NewUserMessage("hello")})

		cache.MigrateKey(oldKey, newKey)

		_, ok := cache.Snapshot(oldKey)
		assert.False(t, ok)
		moved, ok := cache.Snapshot(newKey)
		require.True(t, ok)
		assert.Equal(t, "hello", moved[0].Content)
	})

	t.Run("should no-op for equal keys", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)
		key := NewKey("t1", "n1")
		cache.SetOptimistic(key, []Message{NewUserMessage("x")})

		var migrations int
		bus.Subscribe(events.EventPathMigrated, func(e events.Event) { migrations++ })
		cache.MigrateKey(key, key)

		assert.Zero(t, migrations)
		_, ok := cache.Snapshot(key)
		assert.True(t, ok)
	})

	t.Run("should no-op when the old key has no entry", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)

		cache.MigrateKey(NewKey("t1", "missing"), NewKey("t1", "a1"))
		_, ok := cache.Snapshot(NewKey("t1", "a1"))
		assert.False(t, ok)
	})
}

func TestCacheInvalidate(t *testing.T) {
	t.Run("should drop a single key", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)
		key := NewKey("t1", "n1")
		cache.SetOptimistic(key, []Message{NewUserMessage("x")})

		cache.Invalidate(key)
		_, ok := cache.Snapshot(key)
		assert.False(t, ok)
	})

	t.Run("should drop every key of one tree only", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)
		cache.SetOptimistic(NewKey("t1", "n1"), []Message{NewUserMessage("x")})
		cache.SetOptimistic(NewKey("t1", "n2"), []Message{NewUserMessage("y")})
		cache.SetOptimistic(NewKey("t2", "n1"), []Message{NewUserMessage("z")})

		cache.InvalidateTree("t1")

		_, ok := cache.Snapshot(NewKey("t1", "n1"))
		assert.False(t, ok)
		_, ok = cache.Snapshot(NewKey("t1", "n2"))
		assert.False(t, ok)
		_, ok = cache.Snapshot(NewKey("t2", "n1"))
		assert.True(t, ok)
	})

	t.Run("should drop stale keys but keep survivors and provisional entries", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close()
		cache := NewCache(&fakeFetcher{}, bus)
		cache.SetOptimistic(NewKey("t1", "n1"), []Message{NewUserMessage("x")})
		cache.SetOptimistic(NewKey("t1", "gone"), []Message{NewUserMessage("y")})
		cache.SetOptimistic(ProvisionalKey("t1", "pending-user-01"), []Message{NewUserMessage("p")})
		cache.SetOptimistic(NewKey("t2", "gone"), []Message{NewUserMessage("z")})

		cache.InvalidateStale("t1", map[string]struct{}{"n1": {}})

		_, ok := cache.Snapshot(NewKey("t1", "n1"))
		assert.True(t, ok)
		_, ok = cache.Snapshot(NewKey("t1", "gone"))
		assert.False(t, ok)
		_, ok = cache.Snapshot(ProvisionalKey("t1", "pending-user-01"))
		assert.True(t, ok)
		_, ok = cache.Snapshot(NewKey("t2", "gone"))
		assert.True(t, ok)
	})
}

func TestKey(t *testing.T) {
	t.Run("should substitute sentinels for empty parts", func(t *testing.T) {
		key := NewKey("", "")
		assert.Equal(t, NoTree, key.TreeID)
		assert.Equal(t, RootNode, key.NodeID)
		assert.False(t, key.HasNode())
	})

	t.Run("should distinguish branches of the same tree", func(t *testing.T) {
		assert.NotEqual(t, NewKey("t1", "n1"), NewKey("t1", "n2"))
	})
}
