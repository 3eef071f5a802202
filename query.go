package betree

import (
	"github.com/orac/be-tree/internal/algo"
	"github.com/orac/be-tree/internal/base"
)

// nodeSource is a view of the tree: the committed pager for reads, a Tx for
// writes in progress
type nodeSource interface {
	Root() (base.PageID, int)
	Node(id base.PageID) (*base.Node, error)
}

// lookup resolves key by walking from the root toward its leaf.
//
// Each branch contributes its buffered messages for key. Deeper levels hold
// older messages, so the walk stops at the first level holding an Insert or
// Delete. Levels are then composed from the deepest up, each oldest first.
func (t *Tree) lookup(src nodeSource, key []byte) ([]byte, bool, error) {
	var (
		levels  [][]*base.Message
		value   []byte
		present bool
	)

	id, _ := src.Root()
	for {
		n, err := src.Node(id)
		if err != nil {
			return nil, false, err
		}

		if n.IsLeaf() {
			if pos, found := algo.FindKey(n.Keys, key); found {
				value, present = n.Values[pos], true
			}
			break
		}

		msgs := messagesFor(n, key)
		reset := -1
		for j, m := range msgs {
			if m.Resets() {
				reset = j
			}
		}
		if reset >= 0 {
			m := msgs[reset]
			if m.Kind == base.MessageInsert {
				value, present = m.Value, true
			}
			levels = append(levels, msgs[reset+1:])
			break
		}

		levels = append(levels, msgs)
		id = n.Children[algo.Route(n.Keys, key)]
	}

	for i := len(levels) - 1; i >= 0; i-- {
		for _, m := range levels[i] {
			var err error
			if value, present, err = t.apply(m, value, present); err != nil {
				return nil, false, err
			}
		}
	}

	if !present {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}
