package tree

import (
	"sync"

	"github.com/grovechat/grove/pkg/events"
)

// Unread tracks, per tree, the replies that finished streaming while the
// user was viewing some other tree. A node leaves the set only when the
// user's scroll position for that exact (tree, node) key settles at the
// bottom.
type Unread struct {
	mu      sync.Mutex
	bus     *events.Bus
	sets    map[string]map[string]struct{}
	epsilon float64
}

// NewUnread creates a tracker. epsilon is the max distance-from-bottom that
// still counts as the read position.
func NewUnread(bus *events.Bus, epsilon float64) *Unread {
	return &Unread{
		bus:     bus,
		sets:    make(map[string]map[string]struct{}),
		epsilon: epsilon,
	}
}

// MarkUnread adds a node to a tree's unread set. Idempotent.
func (u *Unread) MarkUnread(treeID, nodeID string) {
	u.mu.Lock()
	set := u.sets[treeID]
	if set == nil {
		set = make(map[string]struct{})
		u.sets[treeID] = set
	}
	if _, ok := set[nodeID]; ok {
		u.mu.Unlock()
		return
	}
	set[nodeID] = struct{}{}
	u.mu.Unlock()

	u.bus.PublishSync(events.EventUnreadChanged, treeID, events.UnreadPayload{
		TreeID: treeID,
		NodeID: nodeID,
		Unread: true,
	}, "unread_tracker")
}

// MarkRead removes a node from a tree's unread set. Idempotent.
func (u *Unread) MarkRead(treeID, nodeID string) {
	u.mu.Lock()
	changed := u.removeLocked(treeID, nodeID)
	u.mu.Unlock()

	if changed {
		u.publishRead(treeID, nodeID)
	}
}

func (u *Unread) removeLocked(treeID, nodeID string) bool {
	set := u.sets[treeID]
	if set == nil {
		return false
	}
	if _, ok := set[nodeID]; !ok {
		return false
	}
	delete(set, nodeID)
	if len(set) == 0 {
		delete(u.sets, treeID)
	}
	return true
}

func (u *Unread) publishRead(treeID, nodeID string) {
	u.bus.PublishSync(events.EventUnreadChanged, treeID, events.UnreadPayload{
		TreeID: treeID,
		NodeID: nodeID,
		Unread: false,
	}, "unread_tracker")
}

// ScrollSettled reports the user's settled scroll position for the viewed
// (tree, node) key; the node is marked read once the distance from the
// bottom is within epsilon.
func (u *Unread) ScrollSettled(treeID, nodeID string, distanceFromBottom float64) {
	if distanceFromBottom > u.epsilon {
		return
	}
	u.MarkRead(treeID, nodeID)
}

// Prune drops unread ids that no longer exist after a full graph refresh.
func (u *Unread) Prune(treeID string, validIDs map[string]struct{}) {
	u.mu.Lock()
	var dropped []string
	for nodeID := range u.sets[treeID] {
		if _, ok := validIDs[nodeID]; !ok {
			dropped = append(dropped, nodeID)
		}
	}
	for _, nodeID := range dropped {
		u.removeLocked(treeID, nodeID)
	}
	u.mu.Unlock()

	for _, nodeID := range dropped {
		u.publishRead(treeID, nodeID)
	}
}

// Clear drops all unread state for a tree.
func (u *Unread) Clear(treeID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sets, treeID)
}

// IsUnread reports whether a node is unread.
func (u *Unread) IsUnread(treeID, nodeID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.sets[treeID][nodeID]
	return ok
}

// Count returns the number of unread nodes in one tree.
func (u *Unread) Count(treeID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sets[treeID])
}
