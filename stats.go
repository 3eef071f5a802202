package betree

import (
	"github.com/orac/be-tree/internal/base"
)

// Stats describes the shape of the tree and its I/O
type Stats struct {
	Height   int
	Branches int
	Leaves   int
	Entries  int // leaf entries, not counting buffered messages
	Buffered int // messages waiting in branch buffers
	NextSeq  uint64

	NumPages     uint64
	PageSize     int
	FreePages    int
	PendingPages int // freed, waiting until no meta page references them
	TxnID        uint64

	CachedNodes    int
	CacheHits      uint64
	CacheMisses    uint64
	CacheEvictions uint64
	PageReads      uint64
	PageWrites     uint64
	BytesRead      uint64
	BytesWritten   uint64
}

// Stats walks the tree and reports its shape together with cache and I/O
// counters
func (t *Tree) Stats() (Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return Stats{}, ErrTreeClosed
	}

	meta := t.pager.Meta()
	s := Stats{
		Height:  int(meta.Height),
		NextSeq: meta.NextSeq,
	}

	root, _ := t.pager.Root()
	if err := countNodes(t.pager, root, &s); err != nil {
		return Stats{}, classify(err)
	}

	ps := t.pager.Stats()
	s.NumPages = ps.NumPages
	s.PageSize = ps.PageSize
	s.FreePages = ps.FreePages
	s.PendingPages = ps.PendingPages
	s.TxnID = ps.TxnID
	s.CachedNodes = ps.Cache.Size
	s.CacheHits = ps.Cache.Hits
	s.CacheMisses = ps.Cache.Misses
	s.CacheEvictions = ps.Cache.Evictions
	s.PageReads = ps.Store.Reads
	s.PageWrites = ps.Store.Writes
	s.BytesRead = ps.Store.Read
	s.BytesWritten = ps.Store.Written
	return s, nil
}

func countNodes(src nodeSource, id base.PageID, s *Stats) error {
	n, err := src.Node(id)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		s.Leaves++
		s.Entries += len(n.Keys)
		return nil
	}

	s.Branches++
	s.Buffered += len(n.Buffer)
	for _, child := range n.Children {
		if err := countNodes(src, child, s); err != nil {
			return err
		}
	}
	return nil
}
