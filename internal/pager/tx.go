package pager

import (
	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/orac/be-tree/internal/base"
)

var ErrTxDone = errors.New("transaction already committed or rolled back")

// Tx stages node changes on top of the committed tree.
//
// Committed nodes are never modified: Writable copies a node to a fresh page
// and the caller re-points the parent (or the root) at the copy.
type Tx struct {
	p       *Pager
	txnID   uint64
	root    base.PageID
	height  int
	nextSeq uint64
	pages   uint64 // NumPages including growth by this Tx

	dirty     *btree.BTreeG[*base.Node] // staged nodes ordered by PageID
	allocated map[base.PageID]struct{}  // pages handed out by this Tx
	recycled  map[base.PageID]struct{}  // allocated then freed by this Tx
	freed     []base.PageID             // committed pages released by this Tx
	done      bool
}

func nodeLess(a, b *base.Node) bool {
	return a.PageID < b.PageID
}

func newTx(p *Pager) *Tx {
	return &Tx{
		p:         p,
		txnID:     p.meta.TxnID + 1,
		root:      p.meta.RootPageID,
		height:    int(p.meta.Height),
		nextSeq:   p.meta.NextSeq,
		pages:     p.meta.NumPages,
		dirty:     btree.NewG[*base.Node](8, nodeLess),
		allocated: make(map[base.PageID]struct{}),
		recycled:  make(map[base.PageID]struct{}),
	}
}

// Root returns the root page and tree height as seen by this Tx
func (tx *Tx) Root() (base.PageID, int) {
	return tx.root, tx.height
}

// SetRoot records a new root and height, published at commit
func (tx *Tx) SetRoot(id base.PageID, height int) {
	tx.root = id
	tx.height = height
}

// NextSeq hands out the next message sequence number
func (tx *Tx) NextSeq() uint64 {
	seq := tx.nextSeq
	tx.nextSeq++
	return seq
}

// Node returns the staged node for id or the committed one. Committed nodes
// are shared and must not be modified; use Writable.
func (tx *Tx) Node(id base.PageID) (*base.Node, error) {
	if node, ok := tx.dirty.Get(&base.Node{PageID: id}); ok {
		return node, nil
	}
	return tx.p.Node(id)
}

// Writable returns a node that may be modified. A committed node is copied to
// a newly allocated page; the caller must replace id with the returned
// node's PageID wherever it is referenced.
func (tx *Tx) Writable(id base.PageID) (*base.Node, error) {
	if node, ok := tx.dirty.Get(&base.Node{PageID: id}); ok {
		return node, nil
	}

	committed, err := tx.p.Node(id)
	if err != nil {
		return nil, err
	}

	node := committed.Clone()
	node.PageID = tx.allocate()
	tx.dirty.ReplaceOrInsert(node)
	tx.freed = append(tx.freed, id)
	return node, nil
}

// Allocate stages a new empty node
func (tx *Tx) Allocate(leaf bool) *base.Node {
	node := base.NewBranch(0)
	if leaf {
		node = base.NewLeaf(0)
	}
	return tx.Stage(node)
}

// Stage assigns a page to a node created outside the Tx (PageID 0) and
// stages it for writing
func (tx *Tx) Stage(node *base.Node) *base.Node {
	if node.PageID == 0 {
		node.PageID = tx.allocate()
	}
	tx.dirty.ReplaceOrInsert(node)
	return node
}

// Free releases a page. Committed pages become reusable once no meta page
// references them; pages allocated by this Tx are reusable after commit.
func (tx *Tx) Free(id base.PageID) {
	if _, ok := tx.allocated[id]; ok {
		tx.dirty.Delete(&base.Node{PageID: id})
		tx.recycled[id] = struct{}{}
		return
	}
	tx.freed = append(tx.freed, id)
}

func (tx *Tx) allocate() base.PageID {
	id, ok := tx.p.freelist.Allocate()
	if !ok {
		id = base.PageID(tx.pages)
		tx.pages++
	}
	tx.allocated[id] = struct{}{}
	return id
}

func (tx *Tx) unchanged() bool {
	meta := &tx.p.meta
	return tx.dirty.Len() == 0 && len(tx.freed) == 0 &&
		tx.root == meta.RootPageID && uint32(tx.height) == meta.Height &&
		tx.nextSeq == meta.NextSeq
}

// Commit writes staged nodes in page order, then the meta page for this
// transaction, then syncs. On failure the Tx is rolled back and the
// previously committed tree stays authoritative.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.unchanged() {
		tx.Rollback()
		return nil
	}

	p := tx.p

	// Encode everything before the first write so an oversized node never
	// leaves a partial commit behind
	type encoded struct {
		id   base.PageID
		page base.Page
	}
	pages := make([]encoded, 0, tx.dirty.Len())
	var err error
	tx.dirty.Ascend(func(node *base.Node) bool {
		page := base.NewPage(p.store.PageSize())
		if err = node.Serialize(page); err != nil {
			err = errors.Wrapf(err, "encode page %d", node.PageID)
			return false
		}
		pages = append(pages, encoded{id: node.PageID, page: page})
		return true
	})
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, e := range pages {
		if err := p.store.WritePage(e.id, e.page); err != nil {
			tx.Rollback()
			return err
		}
	}

	meta := p.meta
	meta.TxnID = tx.txnID
	meta.RootPageID = tx.root
	meta.Height = uint32(tx.height)
	meta.NextSeq = tx.nextSeq
	meta.NumPages = tx.pages
	meta.Checksum = meta.CalculateChecksum()

	if err := p.writeMeta(base.PageID(meta.TxnID%2), &meta); err != nil {
		tx.Rollback()
		return err
	}

	// Conditional sync (this is the commit point!)
	if p.mode == SyncEveryCommit {
		if err := p.store.Sync(); err != nil {
			tx.Rollback()
			return err
		}
	}

	p.meta = meta
	tx.done = true

	tx.dirty.Ascend(func(node *base.Node) bool {
		p.cache.Put(node.PageID, node)
		return true
	})
	for _, id := range tx.freed {
		p.cache.Delete(id)
	}
	p.freelist.Pending(tx.txnID, tx.freed)
	for id := range tx.recycled {
		p.freelist.Free(id)
	}
	// The meta just written replaced the one from two commits ago, so pages
	// freed before this transaction are no longer referenced
	p.freelist.Release(tx.txnID)
	return nil
}

// Rollback discards staged nodes and returns allocated pages. Calling it
// after Commit is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true

	for id := range tx.allocated {
		// Pages past the committed end were never part of the file
		if uint64(id) < tx.p.meta.NumPages {
			tx.p.freelist.Free(id)
		}
	}
	tx.dirty.Clear(false)
	tx.freed = nil
}
