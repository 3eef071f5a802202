package betree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/pager"
)

// appendMessage adds m to the end of a branch buffer. Sequence numbers in a
// buffer are strictly increasing.
func appendMessage(n *base.Node, m base.Message) error {
	if last := len(n.Buffer) - 1; last >= 0 && n.Buffer[last].Seq >= m.Seq {
		return errors.AssertionFailedf("page %d: message seq %d not after %d",
			n.PageID, m.Seq, n.Buffer[last].Seq)
	}
	n.Buffer = append(n.Buffer, m)
	return nil
}

// restamp gives a batch moving one level down fresh sequence numbers in its
// original order, so it is newer than anything already buffered below
func restamp(tx *pager.Tx, batch []base.Message) {
	for i := range batch {
		batch[i].Seq = tx.NextSeq()
	}
}

// messagesFor returns the messages buffered in n for key, oldest first
func messagesFor(n *base.Node, key []byte) []*base.Message {
	var out []*base.Message
	for i := range n.Buffer {
		if bytes.Equal(n.Buffer[i].Key, key) {
			out = append(out, &n.Buffer[i])
		}
	}
	return out
}

// compact drops messages that precede a later Insert or Delete of the same
// key in the batch; they cannot affect the result
func compact(batch []base.Message) []base.Message {
	last := make(map[string]int)
	for i := range batch {
		if batch[i].Resets() {
			last[string(batch[i].Key)] = i
		}
	}
	if len(last) == 0 {
		return batch
	}

	out := make([]base.Message, 0, len(batch))
	for i := range batch {
		if j, ok := last[string(batch[i].Key)]; ok && i < j {
			continue
		}
		out = append(out, batch[i])
	}
	return out
}

// buffered reports whether any branch in the subtree at id holds messages
func buffered(tx *pager.Tx, id base.PageID) (bool, error) {
	n, err := tx.Node(id)
	if err != nil {
		return false, err
	}
	if n.IsLeaf() {
		return false, nil
	}
	if len(n.Buffer) > 0 {
		return true, nil
	}
	for _, child := range n.Children {
		ok, err := buffered(tx, child)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
