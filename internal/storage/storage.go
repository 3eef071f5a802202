// Package storage provides the fixed-size page backends the pager reads and
// writes. Backends know nothing about page contents.
package storage

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
)

var ErrClosed = errors.New("storage closed")

// growthSize is the chunk a memory mapping grows by. Files are grown sparse.
const growthSize = 64 * 1024 * 1024

// Storage reads and writes whole pages addressed by PageID.
// Pages that were never written read back as zeroes.
type Storage interface {
	PageSize() int
	ReadPage(id base.PageID) (base.Page, error)
	WritePage(id base.PageID, page base.Page) error
	Sync() error
	Empty() (bool, error)
	Stats() Stats
	Close() error
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

// counters is embedded by every backend
type counters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
}

// Stats returns I/O statistics
func (c *counters) Stats() Stats {
	return Stats{
		Reads:   c.reads.Load(),
		Writes:  c.writes.Load(),
		Read:    c.read.Load(),
		Written: c.written.Load(),
	}
}

var _ Storage = (*Memory)(nil)

// Memory implements Storage on a map of pages. Used for in-memory trees and tests.
type Memory struct {
	counters
	mu       sync.RWMutex
	pageSize int
	pages    map[base.PageID]base.Page
	closed   bool
}

// NewMemory creates an empty in-memory backend
func NewMemory(pageSize int) *Memory {
	return &Memory{
		pageSize: pageSize,
		pages:    make(map[base.PageID]base.Page),
	}
}

func (m *Memory) PageSize() int {
	return m.pageSize
}

// ReadPage returns a copy of the stored page
func (m *Memory) ReadPage(id base.PageID) (base.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.reads.Add(1)
	m.read.Add(uint64(m.pageSize))

	page := base.NewPage(m.pageSize)
	if stored, ok := m.pages[id]; ok {
		copy(page, stored)
	}
	return page, nil
}

// WritePage stores a copy of the page
func (m *Memory) WritePage(id base.PageID, page base.Page) error {
	if len(page) != m.pageSize {
		return errors.Newf("page %d has size %d, expected %d", id, len(page), m.pageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.writes.Add(1)
	m.written.Add(uint64(len(page)))
	m.pages[id] = append(base.Page(nil), page...)
	return nil
}

func (m *Memory) Sync() error {
	return nil
}

// Empty returns whether nothing was ever written
func (m *Memory) Empty() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages) == 0, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
