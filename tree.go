// Package betree implements a write-optimized key/value store on a Bε-tree.
//
// Branch nodes carry buffers of pending Insert, Delete and Upsert messages.
// Writes land in the root buffer and move down one level in bulk when a
// buffer overflows. Reads merge the messages buffered on the root-to-leaf
// path with the leaf value.
//
// Every mutating call is atomic: it runs in one pager transaction, and any
// error leaves the previously committed tree untouched.
package betree

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/cache"
	"github.com/orac/be-tree/internal/pager"
	"github.com/orac/be-tree/internal/storage"
)

// Tree is a Bε-tree. It is safe for concurrent use: readers share the tree,
// writers run one at a time.
type Tree struct {
	mu     sync.RWMutex
	opts   Options
	pager  *pager.Pager
	log    Logger
	path   string
	closed bool
}

// Open opens the tree stored at path, creating it if the file is empty. An
// empty path keeps the tree in memory.
func Open(path string, options ...Option) (*Tree, error) {
	opts := DefaultOptions()
	for _, opt := range options {
		opt(&opts)
	}
	if path == "" {
		opts.inMemory = true
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	store, err := openStorage(path, &opts)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open %s", path), ErrStorage)
	}

	nodeCache, err := cache.NewCache(opts.cacheSize)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "create node cache")
	}

	mode := pager.SyncEveryCommit
	if opts.syncMode == SyncOff {
		mode = pager.SyncOff
	}
	p, err := pager.NewPager(mode, store, nodeCache)
	if err != nil {
		_ = store.Close()
		return nil, classify(errors.Wrapf(err, "load %s", path))
	}

	t := &Tree{
		opts:  opts,
		pager: p,
		log:   opts.logger,
		path:  path,
	}

	meta := p.Meta()
	t.log.Info("opened tree",
		"path", path,
		"height", meta.Height,
		"pages", meta.NumPages,
		"txn", meta.TxnID)
	return t, nil
}

func openStorage(path string, opts *Options) (storage.Storage, error) {
	switch {
	case opts.storage != nil:
		return opts.storage, nil
	case opts.inMemory:
		return storage.NewMemory(opts.pageSize), nil
	case opts.mmap:
		return storage.NewMMap(path, opts.pageSize)
	default:
		return storage.NewFile(path, opts.pageSize)
	}
}

// Close syncs and releases the backing storage. Further calls fail with
// ErrTreeClosed.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTreeClosed
	}
	t.closed = true

	if err := t.pager.Close(); err != nil {
		t.log.Error("close failed", "path", t.path, "error", err)
		return errors.Mark(err, ErrStorage)
	}
	t.log.Info("closed tree", "path", t.path)
	return nil
}

// Insert maps key to value, replacing any existing value
func (t *Tree) Insert(key, value []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkValue(value); err != nil {
		return err
	}

	return t.put("insert", base.Message{
		Kind:  base.MessageInsert,
		Key:   clone(key),
		Value: clone(value),
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (t *Tree) Delete(key []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}

	return t.put("delete", base.Message{
		Kind: base.MessageDelete,
		Key:  clone(key),
	})
}

// Upsert maps key to combinator(existing, operand) if key exists and to
// defaultValue otherwise. The combinator must be registered by name and is
// evaluated lazily: its errors surface as a *CombinatorError from the flush
// or Get that reaches it. A failing upsert stays buffered and fails every
// mutation whose flush reaches it; Insert or Delete the key named in the
// error to supersede it, or reopen the tree with a combinator that accepts
// the operand.
func (t *Tree) Upsert(key []byte, combinator string, operand, defaultValue []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if _, ok := t.opts.combinators[combinator]; !ok {
		return errors.Wrapf(ErrUnknownCombinator, "%q", combinator)
	}
	if err := t.checkValue(operand); err != nil {
		return errors.Wrap(err, "operand")
	}
	if err := t.checkValue(defaultValue); err != nil {
		return errors.Wrap(err, "default")
	}

	return t.put("upsert", base.Message{
		Kind:       base.MessageUpsert,
		Key:        clone(key),
		Value:      clone(defaultValue),
		Combinator: combinator,
		Operand:    clone(operand),
	})
}

// Get returns the value of key, or ErrKeyNotFound
func (t *Tree) Get(key []byte) ([]byte, error) {
	value, found, err := t.get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Has reports whether key is mapped
func (t *Tree) Has(key []byte) (bool, error) {
	_, found, err := t.get(key)
	return found, err
}

func (t *Tree) get(key []byte) ([]byte, bool, error) {
	if err := t.checkKey(key); err != nil {
		return nil, false, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, false, ErrTreeClosed
	}

	value, found, err := t.lookup(t.pager, key)
	if err != nil {
		return nil, false, classify(err)
	}
	return value, found, nil
}

// FlushAll pushes every buffered message down to the leaves. Query results
// are unchanged.
func (t *Tree) FlushAll() error {
	return t.update("flush", func(tx *pager.Tx) error {
		rootID, _ := tx.Root()
		pending, err := buffered(tx, rootID)
		if err != nil || !pending {
			return err
		}
		return t.write(tx, true, func(*base.Node) error { return nil })
	})
}

// Height returns the number of levels, 1 for a tree that is a single leaf
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int(t.pager.Meta().Height)
}

// put stamps m with the next sequence number and applies it at the root
func (t *Tree) put(op string, m base.Message) error {
	return t.update(op, func(tx *pager.Tx) error {
		m.Seq = tx.NextSeq()
		return t.write(tx, false, func(root *base.Node) error {
			if root.IsLeaf() {
				return t.applyToLeaf(root, []base.Message{m})
			}
			return appendMessage(root, m)
		})
	})
}

// update runs fn in a transaction and commits it. Any error rolls back.
func (t *Tree) update(op string, fn func(tx *pager.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTreeClosed
	}

	before := t.pager.Meta().Height
	tx := t.pager.Begin()
	if err := fn(tx); err != nil {
		tx.Rollback()
		err = classify(errors.Wrap(err, op))
		var ce *CombinatorError
		switch {
		case IsCapacityViolation(err):
			t.log.Error("capacity violation", "op", op, "error", err)
		case errors.Is(err, ErrInvariant):
			t.log.Error("invariant violation", "op", op, "error", err)
		case errors.As(err, &ce):
			t.log.Warn("rolled back", "op", op, "key", string(ce.Key),
				"combinator", ce.Combinator, "error", err)
		default:
			t.log.Warn("rolled back", "op", op, "error", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		err = errors.Mark(errors.Wrapf(err, "%s: commit", op), ErrStorage)
		t.log.Warn("commit failed", "op", op, "error", err)
		return err
	}

	if after := t.pager.Meta().Height; after != before {
		t.log.Info("height changed", "op", op, "from", before, "to", after)
	}
	return nil
}

// write applies fn to a writable copy of the root, settles it, grows a new
// root while it splits, collapses single-child roots and publishes the result
func (t *Tree) write(tx *pager.Tx, force bool, fn func(root *base.Node) error) error {
	rootID, height := tx.Root()
	root, err := tx.Writable(rootID)
	if err != nil {
		return err
	}
	if err := fn(root); err != nil {
		return err
	}

	parts, pivots, err := t.settle(tx, root, force)
	if err != nil {
		return err
	}
	for len(parts) > 1 {
		ids := make([]base.PageID, len(parts))
		for j, part := range parts {
			ids[j] = part.PageID
		}
		root = tx.Allocate(false)
		root.Keys = pivots
		root.Children = ids
		height++
		if parts, pivots, err = t.split(tx, root); err != nil {
			return err
		}
	}

	for !root.IsLeaf() && len(root.Children) == 1 && len(root.Buffer) == 0 {
		child := root.Children[0]
		tx.Free(root.PageID)
		height--
		if root, err = tx.Node(child); err != nil {
			return err
		}
	}

	if !root.IsLeaf() && len(root.Buffer) > t.opts.bufferCapacity {
		return capacityViolation("root page %d holds %d messages after settling, capacity %d",
			root.PageID, len(root.Buffer), t.opts.bufferCapacity)
	}

	tx.SetRoot(root.PageID, height)
	return nil
}

func (t *Tree) checkKey(key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > t.opts.maxKeySize {
		return errors.Wrapf(ErrKeyTooLarge, "%d bytes, max %d", len(key), t.opts.maxKeySize)
	}
	return nil
}

func (t *Tree) checkValue(value []byte) error {
	if len(value) > t.opts.maxValueSize {
		return errors.Wrapf(ErrValueTooLarge, "%d bytes, max %d", len(value), t.opts.maxValueSize)
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
