// Package tree holds the pure branching-tree algorithms. Every function
// operates on a plain (rootID, id->node map) snapshot and keeps no state,
// so the same code serves request handlers, the stream session manager,
// and tests without setup.
package tree

import (
	"github.com/lorebound/lorebound-backend/internal/domain/chat"
)

// IndexPatch is one ancestor mutation produced by ComputeBranchSwitch:
// set NodeID's active_child_index to NewActiveChildIndex.
type IndexPatch struct {
	NodeID              string
	NewActiveChildIndex int
}

// ActivePath walks from rootID following each node's active child and
// returns the visited ids in order. Descent stops at a node with no
// children, a null index, or a corrupt (out-of-range) index; a truncated
// path beats a crash at render time. Returns an empty slice when rootID is
// not present in nodes.
func ActivePath(rootID string, nodes map[string]*chat.ChatNode) []string {
	path := []string{}
	cur, ok := nodes[rootID]
	if !ok || cur == nil {
		return path
	}
	seen := make(map[string]bool, len(nodes))
	for cur != nil && !seen[cur.ID] {
		seen[cur.ID] = true
		path = append(path, cur.ID)
		childID, ok := cur.ActiveChild()
		if !ok {
			break
		}
		cur = nodes[childID]
	}
	return path
}

// ComputeBranchSwitch returns the minimal set of ancestor index patches
// that make the active path run through targetID. Ancestors already
// pointing the right way produce no patch, so the result is O(depth) and
// empty when the target is already active. Patches are ordered
// child-to-root. A missing target, a root target, or an inconsistent
// parent/child reference yields an empty or partial list, never an error.
func ComputeBranchSwitch(targetID string, nodes map[string]*chat.ChatNode) []IndexPatch {
	patches := []IndexPatch{}
	cur, ok := nodes[targetID]
	if !ok || cur == nil {
		return patches
	}
	seen := make(map[string]bool, len(nodes))
	for cur != nil && cur.ParentID != nil && !seen[cur.ID] {
		seen[cur.ID] = true
		parent, ok := nodes[*cur.ParentID]
		if !ok || parent == nil {
			return patches
		}
		idx := indexOf(parent.Children(), cur.ID)
		if idx < 0 {
			// Dangling reference; stop with whatever we have.
			return patches
		}
		if parent.ActiveChildIndex == nil || *parent.ActiveChildIndex != idx {
			patches = append(patches, IndexPatch{NodeID: parent.ID, NewActiveChildIndex: idx})
		}
		cur = parent
	}
	return patches
}

// FindLCA returns the lowest common ancestor of a and b (a node is its own
// ancestor, so FindLCA(x, x) == x). ok is false when either id is missing
// or the nodes live in disconnected trees.
func FindLCA(a, b string, nodes map[string]*chat.ChatNode) (string, bool) {
	if _, ok := nodes[a]; !ok {
		return "", false
	}
	if _, ok := nodes[b]; !ok {
		return "", false
	}
	ancestors := make(map[string]bool)
	seen := make(map[string]bool, len(nodes))
	for cur := nodes[a]; cur != nil && !seen[cur.ID]; {
		seen[cur.ID] = true
		ancestors[cur.ID] = true
		if cur.ParentID == nil {
			break
		}
		cur = nodes[*cur.ParentID]
	}
	seen = make(map[string]bool, len(nodes))
	for cur := nodes[b]; cur != nil && !seen[cur.ID]; {
		seen[cur.ID] = true
		if ancestors[cur.ID] {
			return cur.ID, true
		}
		if cur.ParentID == nil {
			break
		}
		cur = nodes[*cur.ParentID]
	}
	return "", false
}

// SiblingInfo reports a node's position among its parent's children and
// the sibling count. ok is false for roots, missing nodes, and dangling
// parent references.
func SiblingInfo(nodeID string, nodes map[string]*chat.ChatNode) (index, total int, ok bool) {
	node, found := nodes[nodeID]
	if !found || node == nil || node.ParentID == nil {
		return 0, 0, false
	}
	parent, found := nodes[*node.ParentID]
	if !found || parent == nil {
		return 0, 0, false
	}
	kids := parent.Children()
	idx := indexOf(kids, nodeID)
	if idx < 0 {
		return 0, 0, false
	}
	return idx, len(kids), true
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
