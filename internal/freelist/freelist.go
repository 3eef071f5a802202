package freelist

import (
	"github.com/google/btree"

	"github.com/orac/be-tree/internal/base"
)

// Freelist manages free and pending pages.
// Pages are freed in two stages:
// 1. Pending: Pages freed at txnID stay referenced by the previous meta page
// and cannot be reused until a later transaction commits
// 2. Free: Pages released from pending are available for immediate reuse
//
// Free pages are kept ordered so allocation prefers the lowest page and the
// file stays compact.
type Freelist struct {
	freed   *btree.BTreeG[base.PageID]
	pending map[uint64][]base.PageID // txnID -> pages freed at that transaction
}

func pageLess(a, b base.PageID) bool {
	return a < b
}

// New creates a new Freelist with empty state
func New() *Freelist {
	return &Freelist{
		freed:   btree.NewG[base.PageID](16, pageLess),
		pending: make(map[uint64][]base.PageID),
	}
}

// Allocate returns the lowest free page ID, or false if none available
func (f *Freelist) Allocate() (base.PageID, bool) {
	return f.freed.DeleteMin()
}

// Free makes a page available for reuse. Freeing twice is a no-op.
func (f *Freelist) Free(id base.PageID) {
	f.freed.ReplaceOrInsert(id)
}

// IsFree reports whether a page is available for reuse
func (f *Freelist) IsFree(id base.PageID) bool {
	return f.freed.Has(id)
}

// Pending adds pages to the pending map at the given transaction ID.
// Pages remain pending until Release() moves them to the free set.
func (f *Freelist) Pending(txnID uint64, pageIDs []base.PageID) {
	if len(pageIDs) == 0 {
		return
	}
	f.pending[txnID] = append(f.pending[txnID], pageIDs...)
}

// Release moves pages from pending to free for all transactions < minTxnID.
// Returns number of pages released.
func (f *Freelist) Release(minTxnID uint64) int {
	released := 0
	for txnID, pages := range f.pending {
		if txnID < minTxnID {
			for _, pageID := range pages {
				f.Free(pageID)
				released++
			}
			delete(f.pending, txnID)
		}
	}
	return released
}

// Len returns the number of free pages
func (f *Freelist) Len() int {
	return f.freed.Len()
}

// PendingLen returns the number of pages waiting for release
func (f *Freelist) PendingLen() int {
	n := 0
	for _, pages := range f.pending {
		n += len(pages)
	}
	return n
}

// Reset drops all free and pending pages
func (f *Freelist) Reset() {
	f.freed.Clear(false)
	clear(f.pending)
}
