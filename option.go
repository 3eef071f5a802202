package betree

import (
	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/storage"
)

// SyncMode controls when committed writes are fsynced to disk
type SyncMode int

const (
	// SyncEveryCommit fsyncs after every mutating call.
	// - Guarantees zero data loss on power failure
	// - Limited by fsync latency
	SyncEveryCommit SyncMode = iota

	// SyncOff disables fsync entirely (testing/bulk loads only).
	// - Maximum throughput
	// - Recent commits may be lost on crash; the file stays consistent
	//   unless the OS reorders page writes past a meta page write
	SyncOff
)

const (
	MinLeafCapacity   = 2
	MinBufferCapacity = 1
	MinFanout         = 3
)

// Options configures tree behavior
type Options struct {
	leafCapacity   int // L: max entries per leaf
	bufferCapacity int // B: max buffered messages per branch
	fanout         int // F: max children per branch
	maxKeySize     int
	maxValueSize   int
	pageSize       int
	cacheSize      int // decoded nodes kept in memory
	syncMode       SyncMode
	mmap           bool
	inMemory       bool
	logger         Logger
	combinators    map[string]Combinator

	// storage overrides the backend chosen from the other options
	storage storage.Storage
}

// DefaultOptions returns the default configuration. Every worst-case node
// fits in a default page.
func DefaultOptions() Options {
	return Options{
		leafCapacity:   64,
		bufferCapacity: 64,
		fanout:         16,
		maxKeySize:     128,
		maxValueSize:   256,
		pageSize:       base.DefaultPageSize,
		cacheSize:      4096,
		syncMode:       SyncEveryCommit,
		logger:         DiscardLogger{},
		combinators:    defaultCombinators(),
	}
}

// Option configures tree options using the functional options pattern
type Option func(*Options)

// WithLeafCapacity sets the maximum number of entries per leaf
func WithLeafCapacity(n int) Option {
	return func(opts *Options) {
		opts.leafCapacity = n
	}
}

// WithBufferCapacity sets the maximum number of messages buffered in a branch
// before it is flushed
func WithBufferCapacity(n int) Option {
	return func(opts *Options) {
		opts.bufferCapacity = n
	}
}

// WithFanout sets the maximum number of children per branch
func WithFanout(n int) Option {
	return func(opts *Options) {
		opts.fanout = n
	}
}

// WithMaxKeySize sets the maximum key length in bytes
func WithMaxKeySize(n int) Option {
	return func(opts *Options) {
		opts.maxKeySize = n
	}
}

// WithMaxValueSize sets the maximum length in bytes of values, upsert
// defaults and upsert operands
func WithMaxValueSize(n int) Option {
	return func(opts *Options) {
		opts.maxValueSize = n
	}
}

// WithPageSize sets the page size used when creating a file. Reopening a file
// requires the page size it was created with.
func WithPageSize(n int) Option {
	return func(opts *Options) {
		opts.pageSize = n
	}
}

// WithCacheSize sets the number of decoded nodes kept in memory
func WithCacheSize(n int) Option {
	return func(opts *Options) {
		opts.cacheSize = n
	}
}

// WithSyncEveryCommit configures the tree to fsync on every commit.
// This provides maximum durability (zero data loss) but lower throughput.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncEveryCommit() Option {
	return func(opts *Options) {
		opts.syncMode = SyncEveryCommit
	}
}

// WithSyncOff disables fsync entirely.
// Only use for testing or bulk loads where data can be reconstructed.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncOff() Option {
	return func(opts *Options) {
		opts.syncMode = SyncOff
	}
}

// WithMMap stores pages through a memory mapping instead of positioned file I/O
func WithMMap() Option {
	return func(opts *Options) {
		opts.mmap = true
	}
}

// WithInMemory keeps all pages in memory. The path passed to Open is ignored.
func WithInMemory() Option {
	return func(opts *Options) {
		opts.inMemory = true
	}
}

// WithLogger sets the logger. *slog.Logger satisfies Logger directly; see
// pkg logger for zap and logrus adapters.
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		if logger == nil {
			logger = DiscardLogger{}
		}
		opts.logger = logger
	}
}

// WithCombinator registers fn under name for Upsert. Buffered upserts store
// only the name, so every combinator they use must be registered again each
// time the file is opened.
func WithCombinator(name string, fn Combinator) Option {
	return func(opts *Options) {
		opts.combinators[name] = fn
	}
}

// withStorage injects a storage backend
func withStorage(s storage.Storage) Option {
	return func(opts *Options) {
		opts.storage = s
	}
}

func (o *Options) validate() error {
	switch {
	case o.leafCapacity < MinLeafCapacity:
		return errors.Wrapf(ErrInvalidOptions, "leaf capacity %d below %d", o.leafCapacity, MinLeafCapacity)
	case o.bufferCapacity < MinBufferCapacity:
		return errors.Wrapf(ErrInvalidOptions, "buffer capacity %d below %d", o.bufferCapacity, MinBufferCapacity)
	case o.fanout < MinFanout:
		return errors.Wrapf(ErrInvalidOptions, "fanout %d below %d", o.fanout, MinFanout)
	case o.maxKeySize < 1 || o.maxKeySize > 0xFFFF:
		return errors.Wrapf(ErrInvalidOptions, "max key size %d out of range", o.maxKeySize)
	case o.maxValueSize < 0:
		return errors.Wrapf(ErrInvalidOptions, "max value size %d out of range", o.maxValueSize)
	case o.pageSize < base.MinPageSize || o.pageSize > base.MaxPageSize:
		return errors.Wrapf(ErrInvalidOptions, "page size %d out of range [%d, %d]",
			o.pageSize, base.MinPageSize, base.MaxPageSize)
	}

	for name, fn := range o.combinators {
		if name == "" || len(name) > base.MaxCombinatorNameSize {
			return errors.Wrapf(ErrInvalidOptions, "combinator name %q must be 1-%d bytes",
				name, base.MaxCombinatorNameSize)
		}
		if fn == nil {
			return errors.Wrapf(ErrInvalidOptions, "combinator %q is nil", name)
		}
	}

	// Worst case committed nodes must fit in a page
	if size := base.MaxLeafSize(o.leafCapacity, o.maxKeySize, o.maxValueSize); size > o.pageSize {
		return errors.Wrapf(ErrInvalidOptions, "leaf of %d entries needs %d bytes, page size is %d",
			o.leafCapacity, size, o.pageSize)
	}
	if size := base.MaxBranchSize(o.fanout, o.bufferCapacity, o.maxKeySize, o.maxValueSize); size > o.pageSize {
		return errors.Wrapf(ErrInvalidOptions, "branch of %d children and %d messages needs %d bytes, page size is %d",
			o.fanout, o.bufferCapacity, size, o.pageSize)
	}
	return nil
}
