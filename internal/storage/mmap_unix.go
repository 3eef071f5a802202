//go:build linux || darwin

package storage

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/orac/be-tree/internal/base"
)

var _ Storage = (*MMap)(nil)

// ErrMapLost is returned once a failed remap could not restore the previous
// mapping. The backend must be closed and reopened.
var ErrMapLost = errors.New("memory mapping lost")

// MMap implements Storage using memory-mapped I/O
type MMap struct {
	counters
	mu       sync.RWMutex
	file     *os.File
	mmapData []byte
	mmapSize int64
	pageSize int
	empty    bool
	lost     bool
}

// NewMMap opens or creates a memory-mapped storage backend
func NewMMap(path string, pageSize int) (*MMap, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	var empty bool
	size := info.Size()
	if size == 0 {
		size = growthSize
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, err
		}
		empty = true
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "mmap")
	}

	return &MMap{
		file:     file,
		mmapData: data,
		mmapSize: size,
		pageSize: pageSize,
		empty:    empty,
	}, nil
}

func (m *MMap) PageSize() int {
	return m.pageSize
}

// ReadPage copies a page out of the mapped region. Pages beyond the mapping
// read as zeroes.
func (m *MMap) ReadPage(id base.PageID) (base.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	m.reads.Add(1)
	m.read.Add(uint64(m.pageSize))

	// Copy out so a remap never invalidates a returned page
	page := base.NewPage(m.pageSize)
	offset := int64(id) * int64(m.pageSize)
	if offset+int64(m.pageSize) <= m.mmapSize {
		copy(page, m.mmapData[offset:offset+int64(m.pageSize)])
	}
	return page, nil
}

// WritePage writes a page into the mapped region, growing it when needed
func (m *MMap) WritePage(id base.PageID, page base.Page) error {
	if len(page) != m.pageSize {
		return errors.Newf("page %d has size %d, expected %d", id, len(page), m.pageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}

	offset := int64(id) * int64(m.pageSize)
	if end := offset + int64(m.pageSize); end > m.mmapSize {
		if err := m.grow(end); err != nil {
			return err
		}
	}

	m.writes.Add(1)
	copy(m.mmapData[offset:], page)
	m.written.Add(uint64(m.pageSize))
	return nil
}

// grow remaps the file with at least minSize bytes. Caller holds mu.
func (m *MMap) grow(minSize int64) error {
	newSize := ((minSize + growthSize - 1) / growthSize) * growthSize

	// Start async flush to reduce munmap blocking time
	_ = unix.Msync(m.mmapData, unix.MS_ASYNC)

	if err := unix.Munmap(m.mmapData); err != nil {
		return errors.Wrap(err, "munmap")
	}
	m.mmapData = nil

	if err := m.file.Truncate(newSize); err != nil {
		return m.restore(errors.Wrapf(err, "grow to %d bytes", newSize))
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return m.restore(errors.Wrapf(err, "mmap %d bytes", newSize))
	}

	m.mmapData = data
	m.mmapSize = newSize
	return nil
}

// restore maps the previous size again after a failed grow and returns
// cause. Caller holds mu.
func (m *MMap) restore(cause error) error {
	data, err := unix.Mmap(int(m.file.Fd()), 0, int(m.mmapSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.lost = true
		return errors.Mark(errors.CombineErrors(cause, errors.Wrap(err, "restore mapping")), ErrMapLost)
	}
	m.mmapData = data
	return cause
}

// check reports why the mapping is unusable. Caller holds mu.
func (m *MMap) check() error {
	switch {
	case m.lost:
		return ErrMapLost
	case m.mmapData == nil:
		return ErrClosed
	}
	return nil
}

// Sync flushes the memory-mapped region to disk
func (m *MMap) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return err
	}
	if err := unix.Msync(m.mmapData, unix.MS_SYNC); err != nil {
		return err
	}
	return m.file.Sync()
}

// Empty returns whether the file was created by this backend
func (m *MMap) Empty() (bool, error) {
	return m.empty, nil
}

// Close unmaps the region and closes the file
func (m *MMap) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mmapData != nil {
		if err := unix.Munmap(m.mmapData); err != nil {
			return err
		}
		m.mmapData = nil
	}
	return m.file.Close()
}
