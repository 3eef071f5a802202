package betree

import (
	"github.com/orac/be-tree/internal/algo"
	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/pager"
)

// settle restores the capacity of a writable node. An overflowing branch is
// flushed; a node over capacity is split. parts[0] is n itself and
// pivots[j] separates parts[j] from parts[j+1]. With force every buffer in
// the subtree is drained to the leaves.
func (t *Tree) settle(tx *pager.Tx, n *base.Node, force bool) ([]*base.Node, [][]byte, error) {
	if !n.IsLeaf() && (force || len(n.Buffer) > t.opts.bufferCapacity) {
		if err := t.flush(tx, n, force); err != nil {
			return nil, nil, err
		}
	}
	return t.split(tx, n)
}

// split divides n into evenly sized nodes within capacity, staging the new ones
func (t *Tree) split(tx *pager.Tx, n *base.Node) ([]*base.Node, [][]byte, error) {
	var parts []*base.Node
	var pivots [][]byte

	if n.IsLeaf() {
		if len(n.Keys) <= t.opts.leafCapacity {
			return []*base.Node{n}, nil, nil
		}
		parts, pivots = algo.SplitLeaf(n, algo.SplitPlan(len(n.Keys), t.opts.leafCapacity))
	} else {
		if len(n.Children) <= t.opts.fanout {
			return []*base.Node{n}, nil, nil
		}
		parts, pivots = algo.SplitBranch(n, algo.SplitPlan(len(n.Children), t.opts.fanout))
	}

	for _, part := range parts[1:] {
		tx.Stage(part)
	}
	return parts, pivots, nil
}

// flush drains the buffer of a writable branch into its children.
//
// Messages are partitioned by child in buffer order. Leaves apply their batch
// directly; branches take the batch with fresh sequence numbers and are
// flushed in turn once they overflow. Children are visited from the last
// so splits never shift a pending index. Touched children are then
// rebalanced. The caller splits n if it ends up with too many children.
func (t *Tree) flush(tx *pager.Tx, n *base.Node, force bool) error {
	groups := algo.Partition(n.Keys, n.Buffer)
	n.Buffer = nil

	touched := make(map[base.PageID]struct{})
	for i := len(n.Children) - 1; i >= 0; i-- {
		batch := groups[i]
		if len(batch) == 0 {
			if !force {
				continue
			}
			pending, err := buffered(tx, n.Children[i])
			if err != nil {
				return err
			}
			if !pending {
				continue
			}
		}

		child, err := t.writableChild(tx, n, i)
		if err != nil {
			return err
		}

		if child.IsLeaf() {
			if err := t.applyToLeaf(child, batch); err != nil {
				return err
			}
		} else {
			if len(child.Buffer) > t.opts.bufferCapacity {
				return capacityViolation("page %d: flushing into child page %d holding %d messages, capacity %d",
					n.PageID, child.PageID, len(child.Buffer), t.opts.bufferCapacity)
			}
			restamp(tx, batch)
			for _, m := range batch {
				if err := appendMessage(child, m); err != nil {
					return err
				}
			}
		}

		parts, pivots, err := t.settle(tx, child, force)
		if err != nil {
			return err
		}
		ids := make([]base.PageID, len(parts))
		for j, part := range parts {
			ids[j] = part.PageID
			touched[part.PageID] = struct{}{}
		}
		if len(parts) > 1 {
			algo.ApplyChildSplit(n, i, ids, pivots)
		}
	}

	return t.rebalance(tx, n, touched)
}

// applyToLeaf applies a batch to a writable leaf in order. Insert overwrites,
// Delete removes, Upsert reads, combines and writes.
func (t *Tree) applyToLeaf(leaf *base.Node, batch []base.Message) error {
	for _, m := range compact(batch) {
		pos, found := algo.FindKey(leaf.Keys, m.Key)
		var existing []byte
		if found {
			existing = leaf.Values[pos]
		}

		value, present, err := t.apply(&m, existing, found)
		if err != nil {
			return err
		}
		switch {
		case present:
			algo.ApplyLeafPut(leaf, m.Key, value)
		case found:
			algo.ApplyLeafDelete(leaf, m.Key)
		}
	}
	return nil
}

// writableChild makes child i of the writable branch n writable and points n
// at the copy
func (t *Tree) writableChild(tx *pager.Tx, n *base.Node, i int) (*base.Node, error) {
	child, err := tx.Writable(n.Children[i])
	if err != nil {
		return nil, err
	}
	n.Children[i] = child.PageID
	return child, nil
}
