// Package pager maps PageIDs to decoded nodes on top of a Storage backend.
//
// Every mutation runs in a Tx. Changed nodes are copied to fresh pages and
// staged in the Tx; Commit writes them, then flips the active meta page.
// Committed pages are never overwritten while a meta page references them.
package pager

import (
	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/cache"
	"github.com/orac/be-tree/internal/freelist"
	"github.com/orac/be-tree/internal/storage"
)

// SyncMode controls when to fsync (mirrored in the root package options)
type SyncMode int

const (
	SyncEveryCommit SyncMode = iota
	SyncOff
)

// Pager coordinates store, cache, meta, and freelist
type Pager struct {
	cache *cache.Cache    // Decoded committed nodes
	store storage.Storage // Page I/O backend
	mode  SyncMode        // Sync mode for commits

	// Active committed meta; the other slot holds the previous commit
	meta base.MetaPage

	freelist *freelist.Freelist
}

// NewPager loads or initializes the tree stored in store
func NewPager(mode SyncMode, store storage.Storage, cache *cache.Cache) (*Pager, error) {
	p := &Pager{
		mode:     mode,
		store:    store,
		cache:    cache,
		freelist: freelist.New(),
	}

	empty, err := store.Empty()
	if err != nil {
		return nil, err
	}

	if empty {
		if err := p.initialize(); err != nil {
			return nil, err
		}
		return p, nil
	}

	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// initialize writes an empty root leaf and both meta pages
func (p *Pager) initialize() error {
	root := base.NewLeaf(base.FirstDataPage)
	page := base.NewPage(p.store.PageSize())
	if err := root.Serialize(page); err != nil {
		return err
	}
	if err := p.store.WritePage(root.PageID, page); err != nil {
		return err
	}

	meta := base.MetaPage{
		Magic:      base.MagicNumber,
		Version:    base.FormatVersion,
		PageSize:   uint32(p.store.PageSize()),
		Height:     1,
		RootPageID: root.PageID,
		NextSeq:    1,
		NumPages:   uint64(base.FirstDataPage) + 1, // Pages 0-1 (meta), 2 (root)
		TxnID:      0,
	}
	meta.Checksum = meta.CalculateChecksum()

	if err := p.writeMeta(base.MetaPageA, &meta); err != nil {
		return err
	}
	if err := p.writeMeta(base.MetaPageB, &meta); err != nil {
		return err
	}
	if err := p.store.Sync(); err != nil {
		return err
	}

	p.meta = meta
	return nil
}

// load picks the newest valid meta page and rebuilds the freelist
func (p *Pager) load() error {
	metas := [2]base.MetaPage{}
	errs := [2]error{}
	for i, id := range []base.PageID{base.MetaPageA, base.MetaPageB} {
		page, err := p.store.ReadPage(id)
		if err != nil {
			return err
		}
		metas[i] = page.ReadMeta()
		errs[i] = metas[i].Validate()
		if errs[i] == nil && int(metas[i].PageSize) != p.store.PageSize() {
			errs[i] = errors.Wrapf(base.ErrInvalidPageSize,
				"file page size %d, opened with %d", metas[i].PageSize, p.store.PageSize())
		}
	}

	// Both invalid - corrupted file
	if errs[0] != nil && errs[1] != nil {
		return errors.Mark(
			errors.Wrapf(errs[0], "both meta pages invalid (other: %v)", errs[1]),
			base.ErrCorruption)
	}

	active, other := 0, 1
	if errs[0] != nil || (errs[1] == nil && metas[1].TxnID > metas[0].TxnID) {
		active, other = 1, 0
	}
	p.meta = metas[active]

	var previous *base.MetaPage
	if errs[other] == nil && metas[other].TxnID != p.meta.TxnID {
		previous = &metas[other]
	}
	return p.rebuildFreelist(previous)
}

// rebuildFreelist frees every data page not reachable from the active root.
// Pages only reachable from the previous commit stay pending until the next
// commit so a torn commit can still fall back to it.
func (p *Pager) rebuildFreelist(previous *base.MetaPage) error {
	p.freelist.Reset()

	live := make(map[base.PageID]struct{})
	if err := p.walk(p.meta.RootPageID, live); err != nil {
		return err
	}

	old := make(map[base.PageID]struct{})
	if previous != nil && previous.RootPageID != p.meta.RootPageID {
		// Best effort; an unreadable previous tree just isn't protected
		_ = p.walk(previous.RootPageID, old)
	}

	var pending []base.PageID
	for id := base.FirstDataPage; uint64(id) < p.meta.NumPages; id++ {
		if _, ok := live[id]; ok {
			continue
		}
		if _, ok := old[id]; ok {
			pending = append(pending, id)
			continue
		}
		p.freelist.Free(id)
	}
	p.freelist.Pending(p.meta.TxnID, pending)
	return nil
}

// walk collects every page reachable from id
func (p *Pager) walk(id base.PageID, seen map[base.PageID]struct{}) error {
	if _, ok := seen[id]; ok {
		return errors.Mark(errors.Newf("page %d reachable twice", id), base.ErrCorruption)
	}
	if uint64(id) >= p.meta.NumPages || id < base.FirstDataPage {
		return errors.Mark(errors.Newf("page %d out of range", id), base.ErrCorruption)
	}
	seen[id] = struct{}{}

	node, err := p.Node(id)
	if err != nil {
		return err
	}
	for _, child := range node.Children {
		if err := p.walk(child, seen); err != nil {
			return err
		}
	}
	return nil
}

// Node retrieves a committed node, checking cache first then loading
// from disk. The returned node is shared and must not be modified. Together
// with Root this is the read-only view lookups walk without a Tx.
func (p *Pager) Node(pageID base.PageID) (*base.Node, error) {
	if node, hit := p.cache.Get(pageID); hit {
		return node, nil
	}

	page, err := p.store.ReadPage(pageID)
	if err != nil {
		return nil, err
	}

	node := &base.Node{}
	if err = node.Deserialize(page); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "page %d", pageID), base.ErrCorruption)
	}
	if node.PageID != pageID {
		return nil, errors.Mark(
			errors.Newf("page %d holds node for page %d", pageID, node.PageID),
			base.ErrCorruption)
	}

	p.cache.Put(pageID, node)
	return node, nil
}

func (p *Pager) writeMeta(id base.PageID, meta *base.MetaPage) error {
	page := base.NewPage(p.store.PageSize())
	page.WriteMeta(meta)
	return p.store.WritePage(id, page)
}

// Meta returns the active committed meta page
func (p *Pager) Meta() base.MetaPage {
	return p.meta
}

// Root returns the committed root page and tree height
func (p *Pager) Root() (base.PageID, int) {
	return p.meta.RootPageID, int(p.meta.Height)
}

// IsFree reports whether a page sits in the free set
func (p *Pager) IsFree(id base.PageID) bool {
	return p.freelist.IsFree(id)
}

// Begin starts a transaction on the committed tree. The caller serializes
// writers; read-only transactions need no commit.
func (p *Pager) Begin() *Tx {
	return newTx(p)
}

// Close syncs and closes the backend and drops cached nodes. Nothing is
// pending outside a Tx.
func (p *Pager) Close() error {
	p.cache.Purge()
	if err := p.store.Sync(); err != nil {
		_ = p.store.Close()
		return err
	}
	return p.store.Close()
}

type Stats struct {
	Cache        cache.Stats
	Store        storage.Stats
	FreePages    int
	PendingPages int
	NumPages     uint64
	PageSize     int
	TxnID        uint64
}

// Stats returns cache, I/O and allocation statistics
func (p *Pager) Stats() Stats {
	return Stats{
		Cache:        p.cache.Stats(),
		Store:        p.store.Stats(),
		FreePages:    p.freelist.Len(),
		PendingPages: p.freelist.PendingLen(),
		NumPages:     p.meta.NumPages,
		PageSize:     p.store.PageSize(),
		TxnID:        p.meta.TxnID,
	}
}
