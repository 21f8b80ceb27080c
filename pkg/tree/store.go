package tree

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/grovechat/grove/pkg/api"
	"github.com/grovechat/grove/pkg/events"
	"github.com/grovechat/grove/pkg/logger"
)

// labelRunes is the server's label truncation width.
const labelRunes = 48

// Node is one message node. Confirmed nodes are immutable; a pending node
// carries a client-generated temporary id until the server confirms it.
type Node struct {
	ID        string
	Role      string
	Label     string
	ParentID  *string
	CreatedAt string
	Pending   bool
}

// Edge is derived from a node's parent pointer, never stored.
type Edge struct {
	ID     string
	Source string
	Target string
}

// Graph is a snapshot of one tree's nodes with recomputed edges.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Service is the slice of the collaborator API the store consumes.
type Service interface {
	ListTrees(ctx context.Context) ([]api.Tree, error)
	CreateTree(ctx context.Context, title *string) (api.Tree, error)
	DeleteTree(ctx context.Context, treeID string) error
	DeleteMessage(ctx context.Context, nodeID string) error
	Graph(ctx context.Context, treeID string) (api.Graph, error)
}

// Store owns the in-memory set of trees and their node graphs. Confirmed
// nodes come from graph refreshes; pending nodes are registered by the send
// orchestrator and live alongside them until rolled back or confirmed.
// Every mutation publishes its change notification synchronously on the
// mutating goroutine after the state settles, so a subscriber reading back
// never sees a torn state.
type Store struct {
	mu      sync.Mutex
	svc     Service
	bus     *events.Bus
	trees   map[string]api.Tree
	nodes   map[string][]Node // per tree, insertion order
	pending map[string]map[string]struct{}
	log     *logger.Logger
}

// NewStore creates an empty store backed by the given service.
func NewStore(svc Service, bus *events.Bus) *Store {
	return &Store{
		svc:     svc,
		bus:     bus,
		trees:   make(map[string]api.Tree),
		nodes:   make(map[string][]Node),
		pending: make(map[string]map[string]struct{}),
		log:     logger.WithComponent("tree_store"),
	}
}

// LoadTrees replaces the known tree set from the server.
func (s *Store) LoadTrees(ctx context.Context) ([]api.Tree, error) {
	trees, err := s.svc.ListTrees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list trees: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees = make(map[string]api.Tree, len(trees))
	for _, t := range trees {
		s.trees[t.ID] = t
	}
	return trees, nil
}

// CreateTree creates a tree on the server and registers it locally.
func (s *Store) CreateTree(ctx context.Context, title *string) (api.Tree, error) {
	t, err := s.svc.CreateTree(ctx, title)
	if err != nil {
		return api.Tree{}, fmt.Errorf("failed to create tree: %w", err)
	}

	s.mu.Lock()
	s.trees[t.ID] = t
	s.mu.Unlock()

	s.log.Info("tree created id=%s", t.ID)
	return t, nil
}

// DeleteTree removes a tree on the server and drops all local state for it,
// including the pending-node registry.
func (s *Store) DeleteTree(ctx context.Context, treeID string) error {
	if err := s.svc.DeleteTree(ctx, treeID); err != nil {
		return fmt.Errorf("failed to delete tree: %w", err)
	}

	s.mu.Lock()
	delete(s.trees, treeID)
	delete(s.nodes, treeID)
	delete(s.pending, treeID)
	s.mu.Unlock()

	s.bus.PublishSync(events.EventTreeDeleted, treeID, nil, "tree_store")

	s.log.Info("tree deleted id=%s", treeID)
	return nil
}

// DeleteNode removes a node on the server, which cascades to its
// descendants, then refreshes the tree's graph. Returns the surviving node
// id set so callers can prune their own projections.
func (s *Store) DeleteNode(ctx context.Context, treeID, nodeID string) (map[string]struct{}, error) {
	if err := s.svc.DeleteMessage(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}

	s.log.Info("node deleted tree=%s id=%s", treeID, nodeID)
	return s.Refresh(ctx, treeID)
}

// Tree returns a known tree by id.
func (s *Store) Tree(treeID string) (api.Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trees[treeID]
	return t, ok
}

// Refresh replaces a tree's confirmed nodes with the server's authoritative
// graph. Pending nodes whose parents survived the refresh are re-appended;
// the rest are dropped. Returns the confirmed node id set for unread pruning.
func (s *Store) Refresh(ctx context.Context, treeID string) (map[string]struct{}, error) {
	graph, err := s.svc.Graph(ctx, treeID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh graph for tree %s: %w", treeID, err)
	}

	s.mu.Lock()

	confirmed := make([]Node, 0, len(graph.Nodes))
	valid := make(map[string]struct{}, len(graph.Nodes))
	for _, n := range graph.Nodes {
		confirmed = append(confirmed, Node{
			ID:        n.ID,
			Role:      n.Role,
			Label:     n.Label,
			ParentID:  n.ParentID,
			CreatedAt: n.CreatedAt,
		})
		valid[n.ID] = struct{}{}
	}

	// Carry over surviving pending nodes in their original order.
	stillPending := make(map[string]struct{})
	for _, n := range s.nodes[treeID] {
		if !n.Pending {
			continue
		}
		if _, registered := s.pending[treeID][n.ID]; !registered {
			continue
		}
		if n.ParentID != nil {
			if _, ok := valid[*n.ParentID]; !ok {
				if _, pendingParent := stillPending[*n.ParentID]; !pendingParent {
					continue
				}
			}
		}
		confirmed = append(confirmed, n)
		stillPending[n.ID] = struct{}{}
	}
	if len(stillPending) == 0 {
		delete(s.pending, treeID)
	} else {
		s.pending[treeID] = stillPending
	}

	s.nodes[treeID] = confirmed
	s.mu.Unlock()

	s.bus.PublishSync(events.EventGraphRefreshed, treeID, nil, "tree_store")
	s.log.Debug("graph refreshed tree=%s nodes=%d pending=%d", treeID, len(valid), len(stillPending))
	return valid, nil
}

// AddPending inserts an optimistic node under a client-generated temporary
// id so collaborators can render it before confirmation.
func (s *Store) AddPending(treeID string, node Node) {
	node.Pending = true
	node.Label = TruncateLabel(node.Label)

	s.mu.Lock()
	s.nodes[treeID] = append(s.nodes[treeID], node)
	if s.pending[treeID] == nil {
		s.pending[treeID] = make(map[string]struct{})
	}
	s.pending[treeID][node.ID] = struct{}{}
	s.mu.Unlock()

	parent := ""
	if node.ParentID != nil {
		parent = *node.ParentID
	}
	s.bus.PublishSync(events.EventNodePending, treeID, events.PendingNodePayload{
		TreeID:   treeID,
		NodeID:   node.ID,
		ParentID: parent,
		Role:     node.Role,
		Content:  node.Label,
	}, "tree_store")
}

// RemovePending retracts an optimistic node and everything hanging off it.
func (s *Store) RemovePending(treeID, nodeID string) {
	s.mu.Lock()

	if _, ok := s.pending[treeID][nodeID]; !ok {
		s.mu.Unlock()
		return
	}

	removed := map[string]struct{}{nodeID: {}}
	kept := s.nodes[treeID][:0]
	for _, n := range s.nodes[treeID] {
		if _, gone := removed[n.ID]; gone {
			continue
		}
		if n.ParentID != nil {
			if _, orphaned := removed[*n.ParentID]; orphaned && n.Pending {
				removed[n.ID] = struct{}{}
				continue
			}
		}
		kept = append(kept, n)
	}
	s.nodes[treeID] = kept
	for id := range removed {
		delete(s.pending[treeID], id)
	}
	if len(s.pending[treeID]) == 0 {
		delete(s.pending, treeID)
	}
	s.mu.Unlock()

	s.bus.PublishSync(events.EventNodeRetracted, treeID, events.PendingNodePayload{
		TreeID: treeID,
		NodeID: nodeID,
	}, "tree_store")
}

// ClearPending drops temporary ids from the registry and node list without
// retraction events, used once the server graph confirms their replacements.
func (s *Store) ClearPending(treeID string, nodeIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := make(map[string]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		cleared[id] = struct{}{}
		delete(s.pending[treeID], id)
	}
	if len(s.pending[treeID]) == 0 {
		delete(s.pending, treeID)
	}

	kept := s.nodes[treeID][:0]
	for _, n := range s.nodes[treeID] {
		if _, gone := cleared[n.ID]; gone && n.Pending {
			continue
		}
		kept = append(kept, n)
	}
	s.nodes[treeID] = kept
}

// HasPending reports whether a temporary id is still registered.
func (s *Store) HasPending(treeID, nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[treeID][nodeID]
	return ok
}

// Graph returns a snapshot of a tree's nodes with edges recomputed from
// parent pointers in node insertion order.
func (s *Store) Graph(treeID string) (Graph, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes, ok := s.nodes[treeID]
	if !ok {
		return Graph{}, false
	}

	snapshot := Graph{Nodes: append([]Node(nil), nodes...)}
	for _, n := range nodes {
		if n.ParentID == nil {
			continue
		}
		snapshot.Edges = append(snapshot.Edges, Edge{
			ID:     fmt.Sprintf("%s->%s", *n.ParentID, n.ID),
			Source: *n.ParentID,
			Target: n.ID,
		})
	}
	return snapshot, true
}

// NodeIDs returns the current node id set for a tree.
func (s *Store) NodeIDs(treeID string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{}, len(s.nodes[treeID]))
	for _, n := range s.nodes[treeID] {
		ids[n.ID] = struct{}{}
	}
	return ids
}

// RootID returns the id of a tree's root node, if the graph is loaded.
func (s *Store) RootID(treeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes[treeID] {
		if n.ParentID == nil {
			return n.ID, true
		}
	}
	return "", false
}

// TruncateLabel applies the server's 48-rune label rule.
func TruncateLabel(content string) string {
	if utf8.RuneCountInString(content) <= labelRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:labelRunes]) + "…"
}
