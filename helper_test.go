package betree

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/orac/be-tree/internal/base"
	"github.com/orac/be-tree/internal/storage"
)

var errInjected = errors.New("injected failure")

// faultyStorage fails page writes or syncs on demand
type faultyStorage struct {
	storage.Storage
	failWrites atomic.Bool
	failSync   atomic.Bool
}

func (f *faultyStorage) WritePage(id base.PageID, page base.Page) error {
	if f.failWrites.Load() {
		return errInjected
	}
	return f.Storage.WritePage(id, page)
}

func (f *faultyStorage) Sync() error {
	if f.failSync.Load() {
		return errInjected
	}
	return f.Storage.Sync()
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger keeps every entry for inspection
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) record(level, msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, logEntry{level: level, msg: msg, args: args})
}

func (r *recordingLogger) Error(msg string, args ...any) { r.record("error", msg, args) }

func (r *recordingLogger) Warn(msg string, args ...any) { r.record("warn", msg, args) }

func (r *recordingLogger) Info(msg string, args ...any) { r.record("info", msg, args) }

// field returns the value logged under key with the first entry matching
// level and msg
func (r *recordingLogger) field(level, msg, key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.level != level || e.msg != msg {
			continue
		}
		for i := 0; i+1 < len(e.args); i += 2 {
			if e.args[i] == key {
				return e.args[i+1], true
			}
		}
	}
	return nil, false
}

func (r *recordingLogger) messages(level string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// corruptDataPages flips a header byte covered by the checksum in every
// page past the meta pages
func corruptDataPages(t *testing.T, path string, pageSize int, numPages uint64) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	defer f.Close()

	b := make([]byte, 1)
	for id := uint64(base.FirstDataPage); id < numPages; id++ {
		off := int64(id)*int64(pageSize) + 9
		_, err := f.ReadAt(b, off)
		require.NoError(t, err)
		b[0] ^= 0xFF
		_, err = f.WriteAt(b, off)
		require.NoError(t, err)
	}
	require.NoError(t, f.Sync())
}
