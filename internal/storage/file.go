package storage

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
)

var _ Storage = (*File)(nil)

// File implements Storage with positioned reads and writes on a regular file
type File struct {
	counters
	file     *os.File
	pageSize int
}

// NewFile opens or creates the file backing a tree
func NewFile(path string, pageSize int) (*File, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	return &File{
		file:     file,
		pageSize: pageSize,
	}, nil
}

func (f *File) PageSize() int {
	return f.pageSize
}

// ReadPage reads a page. Reads past the end of the file return zeroes.
func (f *File) ReadPage(id base.PageID) (base.Page, error) {
	page := base.NewPage(f.pageSize)
	offset := int64(id) * int64(f.pageSize)

	f.reads.Add(1)
	n, err := f.file.ReadAt(page, offset)
	f.read.Add(uint64(n))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "read page %d", id)
	}
	if n != f.pageSize && n != 0 {
		return nil, errors.Newf("short read: got %d bytes, expected %d", n, f.pageSize)
	}
	return page, nil
}

// WritePage writes a page at its offset
func (f *File) WritePage(id base.PageID, page base.Page) error {
	if len(page) != f.pageSize {
		return errors.Newf("page %d has size %d, expected %d", id, len(page), f.pageSize)
	}

	offset := int64(id) * int64(f.pageSize)
	f.writes.Add(1)
	n, err := f.file.WriteAt(page, offset)
	f.written.Add(uint64(n))
	if err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	if n != f.pageSize {
		return errors.Newf("short write: wrote %d bytes, expected %d", n, f.pageSize)
	}
	return nil
}

// Sync flushes buffered writes to disk
func (f *File) Sync() error {
	return f.file.Sync()
}

// Empty returns whether the file is empty
func (f *File) Empty() (bool, error) {
	info, err := f.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Close closes the file
func (f *File) Close() error {
	return f.file.Close()
}
