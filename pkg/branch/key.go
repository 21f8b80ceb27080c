package branch

import (
	"fmt"
	"strings"
)

// Sentinel parts for keys with no resolved tree or node.
const (
	NoTree   = "no_tree"
	RootNode = "root"
)

// provisionalPrefix marks client-generated temporary node ids.
const provisionalPrefix = "pending-"

// Key identifies which branch's path is displayed or streamed: the pair of
// tree id and the branch's active (leaf) node id. Two branches of the same
// tree have different keys even though they share ancestors.
type Key struct {
	TreeID string
	NodeID string
}

// NewKey builds a key, substituting sentinels for empty parts.
func NewKey(treeID, nodeID string) Key {
	if treeID == "" {
		treeID = NoTree
	}
	if nodeID == "" {
		nodeID = RootNode
	}
	return Key{TreeID: treeID, NodeID: nodeID}
}

// ProvisionalKey builds the key an optimistic path lives under until the
// server confirms ids: the tree paired with the temporary user node id.
func ProvisionalKey(treeID, tempUserID string) Key {
	return NewKey(treeID, tempUserID)
}

// HasNode reports whether the key points at a real node.
func (k Key) HasNode() bool {
	return k.NodeID != "" && k.NodeID != RootNode
}

// Provisional reports whether the key's node id is a temporary one still
// awaiting server confirmation.
func (k Key) Provisional() bool {
	return strings.HasPrefix(k.NodeID, provisionalPrefix)
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.TreeID, k.NodeID)
}
