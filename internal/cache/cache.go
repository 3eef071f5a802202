// Package cache holds decoded committed nodes keyed by page.
//
// Cached nodes are shared between readers and must never be mutated; writers
// clone before modifying.
package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"github.com/orac/be-tree/internal/base"
)

const (
	MinCacheSize = 16 // Minimum: hold a root to leaf path plus siblings
)

// Cache is an LRU of decoded nodes without awareness of disk I/O
type Cache struct {
	lru *freelru.SyncedLRU[base.PageID, *base.Node]

	// Stats
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func hashPageID(id base.PageID) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return uint32(xxhash.Sum64(buf[:]))
}

// NewCache creates a node cache holding up to maxSize nodes
func NewCache(maxSize int) (*Cache, error) {
	maxSize = max(maxSize, MinCacheSize)

	lru, err := freelru.NewSynced[base.PageID, *base.Node](uint32(maxSize), hashPageID)
	if err != nil {
		return nil, err
	}

	c := &Cache{lru: lru}
	lru.SetOnEvict(func(base.PageID, *base.Node) {
		c.evictions.Add(1)
	})
	return c, nil
}

// Put adds a node to the cache, replacing any existing entry for the id
func (c *Cache) Put(pageID base.PageID, node *base.Node) {
	c.lru.Add(pageID, node)
}

// Get retrieves a node from the cache.
// Returns (Node, true) on cache hit, (nil, false) on miss.
func (c *Cache) Get(pageID base.PageID) (*base.Node, bool) {
	node, ok := c.lru.Get(pageID)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return node, true
}

// Delete removes a page from the cache
func (c *Cache) Delete(pageID base.PageID) {
	c.lru.Remove(pageID)
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Size returns current number of cached entries
func (c *Cache) Size() int {
	return c.lru.Len()
}

type Stats struct {
	Size      int // nodes currently cached
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	return Stats{
		Size:      c.Size(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
