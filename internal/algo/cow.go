package algo

import (
	"github.com/orac/be-tree/internal/base"
)

// ApplyLeafPut sets key to value in a leaf, inserting in key order if absent.
// Assumes node is already writable (COW'd by caller).
func ApplyLeafPut(node *base.Node, key, value []byte) {
	pos, found := FindKey(node.Keys, key)
	if found {
		node.Values[pos] = append([]byte(nil), value...)
		return
	}
	node.Keys = InsertAt(node.Keys, pos, key)
	node.Values = InsertAt(node.Values, pos, value)
}

// ApplyLeafDelete removes key from a leaf and reports whether it was present.
// Assumes node is already writable.
func ApplyLeafDelete(node *base.Node, key []byte) bool {
	pos, found := FindKey(node.Keys, key)
	if !found {
		return false
	}
	node.Keys = RemoveAt(node.Keys, pos)
	node.Values = RemoveAt(node.Values, pos)
	return true
}

// ApplyChildSplit replaces the child at childIdx with parts. pivots[j]
// separates parts[j] from parts[j+1], so len(pivots) == len(parts)-1.
// Assumes parent is already writable.
func ApplyChildSplit(parent *base.Node, childIdx int, parts []base.PageID, pivots [][]byte) {
	children := make([]base.PageID, 0, len(parent.Children)+len(parts)-1)
	children = append(children, parent.Children[:childIdx]...)
	children = append(children, parts...)
	children = append(children, parent.Children[childIdx+1:]...)
	parent.Children = children

	keys := make([][]byte, 0, len(parent.Keys)+len(pivots))
	keys = append(keys, parent.Keys[:childIdx]...)
	keys = append(keys, pivots...)
	keys = append(keys, parent.Keys[childIdx:]...)
	parent.Keys = keys
}

// ApplyBranchRemoveSeparator removes separator key and child after merge.
// Removes the separator at sepIdx and the child at sepIdx+1.
// Assumes node is already writable.
func ApplyBranchRemoveSeparator(node *base.Node, sepIdx int) {
	node.Keys = RemoveAt(node.Keys, sepIdx)
	node.Children = RemoveChildAt(node.Children, sepIdx+1)
}

// MergeNodes combines right node into left node.
// For branch nodes the parent's separator key is pulled down between the two
// pivot lists and the buffers are merged in sequence order.
// Does NOT update parent - caller must call ApplyBranchRemoveSeparator.
func MergeNodes(left, right *base.Node, separatorKey []byte) {
	if left.IsLeaf() {
		left.Keys = append(left.Keys, right.Keys...)
		left.Values = append(left.Values, right.Values...)
		return
	}

	left.Keys = append(left.Keys, append([]byte(nil), separatorKey...))
	left.Keys = append(left.Keys, right.Keys...)
	left.Children = append(left.Children, right.Children...)
	left.Buffer = MergeBySeq(left.Buffer, right.Buffer)
}

// SplitLeaf divides a leaf at the given start offsets (see SplitPlan).
// parts[0] is node itself, truncated; the others are fresh leaves without a
// PageID. pivots[j] is the first key of parts[j+1].
func SplitLeaf(node *base.Node, starts []int) (parts []*base.Node, pivots [][]byte) {
	keys, values := node.Keys, node.Values
	parts = make([]*base.Node, len(starts))
	pivots = make([][]byte, 0, len(starts)-1)

	for j, start := range starts {
		end := len(keys)
		if j+1 < len(starts) {
			end = starts[j+1]
		}

		part := node
		if j > 0 {
			part = base.NewLeaf(0)
			pivots = append(pivots, append([]byte(nil), keys[start]...))
		}
		part.Keys = append([][]byte(nil), keys[start:end]...)
		part.Values = append([][]byte(nil), values[start:end]...)
		parts[j] = part
	}
	return parts, pivots
}

// SplitBranch divides a branch at the given child start offsets (see
// SplitPlan). The pivot in front of every part after the first is promoted
// to the caller. Buffered messages follow their keys into the part they
// route to, keeping their order.
func SplitBranch(node *base.Node, starts []int) (parts []*base.Node, pivots [][]byte) {
	keys, children, buffer := node.Keys, node.Children, node.Buffer
	parts = make([]*base.Node, len(starts))
	pivots = make([][]byte, 0, len(starts)-1)

	for j, start := range starts {
		end := len(children)
		if j+1 < len(starts) {
			end = starts[j+1]
		}

		part := node
		if j > 0 {
			part = base.NewBranch(0)
			pivots = append(pivots, keys[start-1])
		}
		part.Keys = append([][]byte(nil), keys[start:end-1]...)
		part.Children = append([]base.PageID(nil), children[start:end]...)
		part.Buffer = nil
		parts[j] = part
	}

	for _, m := range buffer {
		p := parts[Route(pivots, m.Key)]
		p.Buffer = append(p.Buffer, m)
	}
	return parts, pivots
}
