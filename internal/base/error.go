package base

import "github.com/cockroachdb/errors"

var (
	ErrInvalidOffset      = errors.New("invalid offset: out of bounds")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid format version")
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidChecksum    = errors.New("invalid checksum")
	ErrInvalidPage        = errors.New("invalid page type")
	ErrPageOverflow       = errors.New("page overflow")
)

// ErrCorruption marks pages or meta that fail validation on read
var ErrCorruption = errors.New("corruption")
