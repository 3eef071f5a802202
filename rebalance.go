package betree

import (
	"github.com/orac/be-tree/internal/algo"
	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/pager"
)

// underflow reports whether a non-root node is too small to stand alone
func (t *Tree) underflow(n *base.Node) bool {
	if n.IsLeaf() {
		return len(n.Keys) < max(1, t.opts.leafCapacity/4)
	}
	return len(n.Children) < max(2, t.opts.fanout/4)
}

// rebalance merges touched children of the writable branch n that underflow
// with an adjacent sibling, then settles the merged node. Settling re-splits
// a merged node that is too large, which evens out both halves.
func (t *Tree) rebalance(tx *pager.Tx, n *base.Node, touched map[base.PageID]struct{}) error {
	for i := 0; i < len(n.Children) && len(n.Children) > 1; {
		if _, ok := touched[n.Children[i]]; !ok {
			i++
			continue
		}

		child, err := tx.Node(n.Children[i])
		if err != nil {
			return err
		}
		if !t.underflow(child) {
			i++
			continue
		}

		// Prefer the right sibling
		left := i
		if i+1 >= len(n.Children) {
			left = i - 1
		}
		parts, err := t.mergeChildren(tx, n, left)
		if err != nil {
			return err
		}
		// A merged node that is still too small absorbs its next sibling
		if len(parts) == 1 && t.underflow(parts[0]) {
			touched[parts[0].PageID] = struct{}{}
			i = left
			continue
		}
		for _, part := range parts {
			delete(touched, part.PageID)
		}
		i = left + len(parts)
	}
	return nil
}

// mergeChildren merges child left+1 of n into child left and settles the
// result, returning the nodes now in its place
func (t *Tree) mergeChildren(tx *pager.Tx, n *base.Node, left int) ([]*base.Node, error) {
	l, err := t.writableChild(tx, n, left)
	if err != nil {
		return nil, err
	}
	r, err := t.writableChild(tx, n, left+1)
	if err != nil {
		return nil, err
	}

	algo.MergeNodes(l, r, n.Keys[left])
	algo.ApplyBranchRemoveSeparator(n, left)
	tx.Free(r.PageID)

	parts, pivots, err := t.settle(tx, l, false)
	if err != nil {
		return nil, err
	}
	if len(parts) > 1 {
		ids := make([]base.PageID, len(parts))
		for j, part := range parts {
			ids[j] = part.PageID
		}
		algo.ApplyChildSplit(n, left, ids, pivots)
	}
	return parts, nil
}
