package betree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/pager"
)

// Verify walks the whole tree and checks its structural invariants: key
// order and ranges, buffer order, capacities, uniform leaf depth and single
// ownership of every page. No reachable page may be on the freelist.
// Capacity failures are marked with ErrCapacityViolation, everything else
// with ErrCorruption.
func (t *Tree) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTreeClosed
	}

	root, height := t.pager.Root()
	v := &verifier{
		t:       t,
		p:       t.pager,
		height:  height,
		nextSeq: t.pager.Meta().NextSeq,
		seen:    make(map[base.PageID]struct{}),
	}
	if err := v.node(root, 1, nil, nil); err != nil {
		return classify(err)
	}
	return nil
}

type verifier struct {
	t       *Tree
	p       *pager.Pager
	height  int
	nextSeq uint64
	seen    map[base.PageID]struct{}
}

func corrupt(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// inRange reports whether lo <= key < hi; nil bounds are open
func inRange(key, lo, hi []byte) bool {
	return (lo == nil || bytes.Compare(key, lo) >= 0) && (hi == nil || bytes.Compare(key, hi) < 0)
}

func (v *verifier) node(id base.PageID, depth int, lo, hi []byte) error {
	if _, ok := v.seen[id]; ok {
		return corrupt("page %d has more than one parent", id)
	}
	v.seen[id] = struct{}{}

	if v.p.IsFree(id) {
		return corrupt("page %d is reachable and free", id)
	}

	n, err := v.p.Node(id)
	if err != nil {
		return err
	}
	opts := &v.t.opts

	if err := checkKeys(id, n.Keys, lo, hi); err != nil {
		return err
	}

	if n.IsLeaf() {
		if depth != v.height {
			return corrupt("leaf page %d at depth %d, height %d", id, depth, v.height)
		}
		if len(n.Keys) > opts.leafCapacity {
			return capacityViolation("leaf page %d holds %d entries, capacity %d", id, len(n.Keys), opts.leafCapacity)
		}
		if len(n.Values) != len(n.Keys) {
			return corrupt("leaf page %d has %d keys and %d values", id, len(n.Keys), len(n.Values))
		}
		return nil
	}

	if depth >= v.height {
		return corrupt("branch page %d at depth %d, height %d", id, depth, v.height)
	}
	if len(n.Children) != len(n.Keys)+1 {
		return corrupt("branch page %d has %d pivots and %d children", id, len(n.Keys), len(n.Children))
	}
	if len(n.Children) > opts.fanout {
		return capacityViolation("branch page %d has %d children, fanout %d", id, len(n.Children), opts.fanout)
	}
	if len(n.Buffer) > opts.bufferCapacity {
		return capacityViolation("branch page %d buffers %d messages, capacity %d", id, len(n.Buffer), opts.bufferCapacity)
	}

	for i := range n.Buffer {
		m := &n.Buffer[i]
		if i > 0 && m.Seq <= n.Buffer[i-1].Seq {
			return corrupt("branch page %d: message %d seq %d not after %d", id, i, m.Seq, n.Buffer[i-1].Seq)
		}
		if m.Seq >= v.nextSeq {
			return corrupt("branch page %d: message seq %d not below next seq %d", id, m.Seq, v.nextSeq)
		}
		if !inRange(m.Key, lo, hi) {
			return corrupt("branch page %d: buffered key %q outside its range", id, m.Key)
		}
	}

	for i, child := range n.Children {
		clo, chi := lo, hi
		if i > 0 {
			clo = n.Keys[i-1]
		}
		if i < len(n.Keys) {
			chi = n.Keys[i]
		}
		if err := v.node(child, depth+1, clo, chi); err != nil {
			return err
		}
	}
	return nil
}

// checkKeys verifies keys are strictly increasing and within [lo, hi)
func checkKeys(id base.PageID, keys [][]byte, lo, hi []byte) error {
	for i, key := range keys {
		if i > 0 && bytes.Compare(keys[i-1], key) >= 0 {
			return corrupt("page %d: key %d out of order", id, i)
		}
		if !inRange(key, lo, hi) {
			return corrupt("page %d: key %q outside its range", id, key)
		}
	}
	return nil
}
