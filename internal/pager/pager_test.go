package pager

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/cache"
	"github.com/orac/be-tree/internal/storage"
)

const testPageSize = base.MinPageSize

// Helper to create a pager with dependencies for testing
func createTestPager(t *testing.T, store storage.Storage) *Pager {
	c, err := cache.NewCache(64)
	require.NoError(t, err)

	p, err := NewPager(SyncEveryCommit, store, c)
	require.NoError(t, err, "Failed to create Pager")
	return p
}

// putLeaf commits a root leaf holding exactly the given keys
func putLeaf(t *testing.T, p *Pager, keys ...string) base.PageID {
	tx := p.Begin()
	root, height := tx.Root()
	node, err := tx.Writable(root)
	require.NoError(t, err)
	node.Keys, node.Values = nil, nil
	for _, k := range keys {
		node.Keys = append(node.Keys, []byte(k))
		node.Values = append(node.Values, []byte("v"+k))
	}
	tx.SetRoot(node.PageID, height)
	require.NoError(t, tx.Commit())
	return node.PageID
}

func TestPagerInitialize(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))

	meta := p.Meta()
	assert.Equal(t, base.FirstDataPage, meta.RootPageID)
	assert.Equal(t, uint32(1), meta.Height)
	assert.Equal(t, uint64(1), meta.NextSeq)
	assert.Equal(t, uint64(3), meta.NumPages)

	root, err := p.Node(meta.RootPageID)
	require.NoError(t, err)
	assert.True(t, root.IsLeaf())
	assert.Empty(t, root.Keys)
}

func TestTxCommitCopiesOnWrite(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))
	before := p.Meta()

	tx := p.Begin()
	assert.Equal(t, uint64(1), tx.NextSeq())
	assert.Equal(t, uint64(2), tx.NextSeq())

	node, err := tx.Writable(before.RootPageID)
	require.NoError(t, err)
	assert.NotEqual(t, before.RootPageID, node.PageID, "committed node must be copied")
	node.Keys = [][]byte{[]byte("a")}
	node.Values = [][]byte{[]byte("1")}

	again, err := tx.Writable(node.PageID)
	require.NoError(t, err)
	assert.Same(t, node, again, "staged node is writable in place")

	// Committed copy untouched until commit
	committed, err := p.Node(before.RootPageID)
	require.NoError(t, err)
	assert.Empty(t, committed.Keys)

	tx.SetRoot(node.PageID, 1)
	require.NoError(t, tx.Commit())

	after := p.Meta()
	assert.Equal(t, node.PageID, after.RootPageID)
	assert.Equal(t, before.TxnID+1, after.TxnID)
	assert.Equal(t, uint64(3), after.NextSeq)
	assert.Equal(t, 1, p.Stats().PendingPages, "old root waits for the next commit")

	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
}

func TestTxFreedPagesReusedAfterNextCommit(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))
	first := p.Meta().RootPageID

	putLeaf(t, p, "a") // frees the initial root, pending
	assert.Zero(t, p.Stats().FreePages)

	putLeaf(t, p, "b") // releases the initial root
	assert.Equal(t, 1, p.Stats().FreePages)

	tx := p.Begin()
	node := tx.Allocate(true)
	assert.Equal(t, first, node.PageID, "lowest free page is reused")
	tx.Rollback()

	assert.Equal(t, 1, p.Stats().FreePages, "rollback returns the page")
}

func TestTxRollback(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))
	before := p.Meta()

	tx := p.Begin()
	node, err := tx.Writable(before.RootPageID)
	require.NoError(t, err)
	node.Keys = [][]byte{[]byte("a")}
	node.Values = [][]byte{[]byte("1")}
	tx.Allocate(false)
	tx.SetRoot(node.PageID, 1)
	tx.Rollback()
	tx.Rollback()

	assert.Equal(t, before, p.Meta())
	root, err := p.Node(before.RootPageID)
	require.NoError(t, err)
	assert.Empty(t, root.Keys)
	assert.Zero(t, p.Stats().FreePages, "growth pages are dropped, not freed")
}

func TestTxFreeStagedPage(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))

	tx := p.Begin()
	extra := tx.Allocate(true)
	tx.Free(extra.PageID)
	_, err := tx.Node(extra.PageID)
	assert.Error(t, err, "freed staged page is no longer part of the Tx")
	_ = tx.NextSeq()
	require.NoError(t, tx.Commit())

	assert.Equal(t, 1, p.Stats().FreePages)
}

func TestTxUnchangedCommitIsNoop(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(testPageSize)
	p := createTestPager(t, store)
	writes := store.Stats().Writes

	tx := p.Begin()
	_, err := tx.Node(p.Meta().RootPageID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, writes, store.Stats().Writes)
	assert.Equal(t, uint64(0), p.Meta().TxnID)
}

func TestTxCommitOverflowRollsBack(t *testing.T) {
	t.Parallel()

	p := createTestPager(t, storage.NewMemory(testPageSize))
	before := p.Meta()

	tx := p.Begin()
	node, err := tx.Writable(before.RootPageID)
	require.NoError(t, err)
	node.Keys = [][]byte{make([]byte, 100)}
	node.Values = [][]byte{make([]byte, testPageSize)}
	tx.SetRoot(node.PageID, 1)

	err = tx.Commit()
	assert.ErrorIs(t, err, base.ErrPageOverflow)
	assert.Equal(t, before, p.Meta())
}

func TestPagerReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")

	store, err := storage.NewFile(path, testPageSize)
	require.NoError(t, err)
	p := createTestPager(t, store)
	putLeaf(t, p, "a")
	root := putLeaf(t, p, "a", "b")
	meta := p.Meta()
	require.Positive(t, p.Stats().Cache.Size)
	require.NoError(t, p.Close())
	assert.Zero(t, p.Stats().Cache.Size, "close drops cached nodes")

	store, err = storage.NewFile(path, testPageSize)
	require.NoError(t, err)
	p = createTestPager(t, store)
	defer p.Close()

	assert.Equal(t, meta, p.Meta())
	node, err := p.Node(root)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, node.Keys)
	assert.Equal(t, [][]byte{[]byte("va"), []byte("vb")}, node.Values)

	// Pages 2 and 3 held the first two roots. Page 3 is still referenced
	// by the previous meta page, so only page 2 is free.
	stats := p.Stats()
	assert.Equal(t, 1, stats.FreePages)
	assert.Equal(t, 1, stats.PendingPages)
	assert.Equal(t, testPageSize, stats.PageSize)
	assert.True(t, p.IsFree(base.FirstDataPage))
	assert.False(t, p.IsFree(base.FirstDataPage+1), "pending, not free")
	assert.False(t, p.IsFree(root))

	id, height := p.Root()
	assert.Equal(t, root, id)
	assert.Equal(t, 1, height)
}

func TestPagerFallsBackToPreviousMeta(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(testPageSize)
	p := createTestPager(t, store)
	first := putLeaf(t, p, "a")
	putLeaf(t, p, "a", "b")

	// Tear the newest meta page
	newest := base.PageID(p.Meta().TxnID % 2)
	require.NoError(t, store.WritePage(newest, base.NewPage(testPageSize)))

	p = createTestPager(t, store)
	assert.Equal(t, first, p.Meta().RootPageID)
	assert.Equal(t, uint64(1), p.Meta().TxnID)
}

func TestPagerBothMetaCorrupt(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(testPageSize)
	createTestPager(t, store)

	garbage := base.NewPage(testPageSize)
	garbage[0] = 0xFF
	require.NoError(t, store.WritePage(base.MetaPageA, garbage))
	require.NoError(t, store.WritePage(base.MetaPageB, garbage))

	c, err := cache.NewCache(16)
	require.NoError(t, err)
	_, err = NewPager(SyncEveryCommit, store, c)
	assert.True(t, errors.Is(err, base.ErrCorruption))
}

func TestPagerDetectsCorruptNode(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory(testPageSize)
	p := createTestPager(t, store)
	root := putLeaf(t, p, "a", "b")

	page, err := store.ReadPage(root)
	require.NoError(t, err)
	page[base.PageHeaderSize+3] ^= 0xFF
	require.NoError(t, store.WritePage(root, page))

	c, err := cache.NewCache(16)
	require.NoError(t, err)
	_, err = NewPager(SyncEveryCommit, store, c)
	assert.True(t, errors.Is(err, base.ErrCorruption))
	assert.ErrorIs(t, err, base.ErrInvalidChecksum)
}

func TestPagerPageSizeMismatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewFile(path, testPageSize)
	require.NoError(t, err)
	p := createTestPager(t, store)
	require.NoError(t, p.Close())

	store, err = storage.NewFile(path, 2*testPageSize)
	require.NoError(t, err)
	defer store.Close()

	c, err := cache.NewCache(16)
	require.NoError(t, err)
	_, err = NewPager(SyncEveryCommit, store, c)
	assert.Error(t, err)
}
