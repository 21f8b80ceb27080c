package branch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/logger"
)

// PathFetcher is the slice of the collaborator API the cache consumes.
type PathFetcher interface {
	Path(ctx context.Context, nodeID string) ([]api.PathMessage, error)
}

// Cache maps synchronization keys to the ordered ancestor path of display
// messages for that branch. It is a rebuildable projection: it may diverge
// from the Tree Store during an in-flight send and is reconciled or
// discarded when the authoritative graph refreshes.
//
// Reads never block; a miss returns an empty path immediately and populates
// the entry asynchronously, announcing arrival on the bus.
type Cache struct {
	mu      sync.Mutex
	entries map[Key][]Message
	fetcher PathFetcher
	bus     *events.Bus
	group   singleflight.Group
	log     *logger.Logger
}

// NewCache creates an empty path cache.
func NewCache(fetcher PathFetcher, bus *events.Bus) *Cache {
	return &Cache{
		entries: make(map[Key][]Message),
		fetcher: fetcher,
		bus:     bus,
		log:     logger.WithComponent("path_cache"),
	}
}

// Get returns the cached path for a key. On a miss it returns an empty path
// immediately and fetches the ancestor chain in the background; a
// path_changed event fires once the entry is populated. Keys without a real
// node resolve to an empty path with no fetch.
func (c *Cache) Get(ctx context.Context, key Key) []Message {
	if !key.HasNode() {
		return nil
	}

	c.mu.Lock()
	if path, ok := c.entries[key]; ok {
		out := append([]Message(nil), path...)
		c.mu.Unlock()
		return out
	}
	c.mu.Unlock()

	go c.fill(ctx, key)
	return nil
}

// Ensure returns the path for a key, fetching synchronously on a miss.
// Used where the caller needs the confirmed path before proceeding.
func (c *Cache) Ensure(ctx context.Context, key Key) ([]Message, error) {
	if !key.HasNode() {
		return nil, nil
	}

	c.mu.Lock()
	if path, ok := c.entries[key]; ok {
		out := append([]Message(nil), path...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	if err := c.fill(ctx, key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.entries[key]...), nil
}

// fill fetches a key's ancestor path once, deduplicating concurrent misses.
func (c *Cache) fill(ctx context.Context, key Key) error {
	_, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		path, err := c.fetcher.Path(ctx, key.NodeID)
		if err != nil {
			c.log.Warn("path fetch failed key=%s err=%v", key, err)
			return nil, fmt.Errorf("failed to fetch path for %s: %w", key, err)
		}

		msgs := fromPathMessages(path)
		c.mu.Lock()
		// An optimistic write that landed while the fetch was in flight
		// wins; the fetched chain cannot include pending entries.
		_, exists := c.entries[key]
		if !exists {
			c.entries[key] = msgs
		}
		c.mu.Unlock()

		if !exists {
			c.publishChanged(key, len(msgs))
		}
		return nil, nil
	})
	return err
}

// SetOptimistic replaces a key's entry, used when the pending user and
// assistant pair is appended before server confirmation.
func (c *Cache) SetOptimistic(key Key, path []Message) {
	c.mu.Lock()
	c.entries[key] = append([]Message(nil), path...)
	c.mu.Unlock()

	c.publishChanged(key, len(path))
}

// Mutate applies a pure transform to a key's cached path. The visible path
// updates within the same turn as the mutation; no extra render pass.
// Returns false when the key has no entry.
func (c *Cache) Mutate(key Key, fn func([]Message) []Message) bool {
	c.mu.Lock()
	path, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	next := fn(path)
	c.entries[key] = next
	c.mu.Unlock()

	c.publishChanged(key, len(next))
	return true
}

// MigrateKey moves a cache entry from a provisional key to the key built
// from server-confirmed ids. No-op when the keys are equal or the old key
// has no entry.
func (c *Cache) MigrateKey(oldKey, newKey Key) {
	if oldKey == newKey {
		return
	}

	c.mu.Lock()
	path, ok := c.entries[oldKey]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, oldKey)
	c.entries[newKey] = path
	c.mu.Unlock()

	c.bus.PublishSync(events.EventPathMigrated, newKey.String(), events.MigratedPayload{
		OldKey: oldKey.String(),
		NewKey: newKey.String(),
	}, "path_cache")
	c.publishChanged(newKey, len(path))
}

// Invalidate drops a key's entry.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateTree drops every entry belonging to one tree, used when the
// tree is deleted or its graph shrank after a refresh.
func (c *Cache) InvalidateTree(treeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.TreeID == treeID {
			delete(c.entries, key)
		}
	}
}

// InvalidateStale drops entries in one tree whose node vanished from the
// authoritative graph. Provisional keys are kept; their nodes are never in
// the confirmed set while a send is in flight.
func (c *Cache) InvalidateStale(treeID string, valid map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.TreeID != treeID || key.Provisional() {
			continue
		}
		if _, ok := valid[key.NodeID]; !ok {
			delete(c.entries, key)
		}
	}
}

// Snapshot returns a key's entry without triggering any fetch.
func (c *Cache) Snapshot(key Key) ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return append([]Message(nil), path...), true
}

func (c *Cache) publishChanged(key Key, count int) {
	c.bus.PublishSync(events.EventPathChanged, key.String(), events.PathChangedPayload{
		MessageCount: count,
	}, "path_cache")
}
